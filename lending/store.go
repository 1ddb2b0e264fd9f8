/*
store.go - Persistence interfaces for the lending core

PURPOSE:
  Defines the contract between the workers and the relational store.
  The store is the single source of truth and the sole synchronization
  point: the generator and the allocation engine each run inside one
  store transaction, so "read installments, compute, write" is atomic
  and concurrent work on the same loan serializes at the database.

CONSTRAINTS THE IMPLEMENTATION MUST ENFORCE:
  - (loan_id, sequence) unique on installments -> ErrDuplicateSequence
  - installment_id unique on moratory interest rows
  - payments, payment allocations and positive-balance allocations are
    append-only: no update methods exist for them

IMPLEMENTATIONS:
  - lending/store: in-memory store for tests and development
  - store/sqlite:  production store (database/sql + go-sqlite3)
*/
package lending

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the persistence surface shared by all workers. Read methods
// that target a single optional row return (nil, nil) when absent, except
// GetLoan which returns ErrLoanNotFound.
type Store interface {
	// Loans. DeleteLoan exists only to compensate a failed origination:
	// a loan whose first installment could not be created is removed
	// rather than left orphaned.
	CreateLoan(ctx context.Context, loan *Loan) error
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)
	UpdateLoan(ctx context.Context, loan *Loan) error
	DeleteLoan(ctx context.Context, id LoanID) error
	ListActiveLoans(ctx context.Context) ([]*Loan, error)

	// Installments. Sequence uniqueness per loan is enforced here.
	CreateInstallment(ctx context.Context, inst *Installment) error
	UpdateInstallment(ctx context.Context, inst *Installment) error
	LastInstallment(ctx context.Context, loanID LoanID) (*Installment, error)
	InstallmentsByLoan(ctx context.Context, loanID LoanID) ([]*Installment, error)
	PaidCapital(ctx context.Context, loanID LoanID) (decimal.Decimal, error)

	// Moratory interest, one row per installment.
	MoratoryByInstallment(ctx context.Context, instID InstallmentID) (*MoratoryInterest, error)
	CreateMoratory(ctx context.Context, m *MoratoryInterest) error
	UpdateMoratory(ctx context.Context, m *MoratoryInterest) error

	// Payments and their allocation audit rows. Append-only.
	CreatePayment(ctx context.Context, p *Payment) error
	PaymentsByLoan(ctx context.Context, loanID LoanID) ([]*Payment, error)
	CreatePaymentAllocation(ctx context.Context, a *PaymentAllocation) error
	AllocationsByPayment(ctx context.Context, paymentID string) ([]*PaymentAllocation, error)

	// Positive balances. Open balances are returned oldest first.
	CreatePositiveBalance(ctx context.Context, b *PositiveBalance) error
	UpdatePositiveBalance(ctx context.Context, b *PositiveBalance) error
	OpenPositiveBalances(ctx context.Context, loanID LoanID) ([]*PositiveBalance, error)
	PositiveBalancesByLoan(ctx context.Context, loanID LoanID) ([]*PositiveBalance, error)
	CreatePositiveBalanceAllocation(ctx context.Context, a *PositiveBalanceAllocation) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back and no partial write is observable.
	WithTx(ctx context.Context, fn func(Store) error) error
}

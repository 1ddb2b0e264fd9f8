/*
Package lending contains the core domain model for the installment
lifecycle engine.

PURPOSE:
  This package defines the entities shared by every worker in the system:
  loans, installments, moratory interest, payments and their allocation
  audit rows, and positive balances. It also owns the pure calculations
  (amortization, payment-frequency arithmetic) and the persistence
  interfaces the workers depend on.

KEY CONCEPTS IN THIS FILE (types.go):
  - Loan: the unit of work; everything else hangs off a loan
  - Installment: one scheduled due payment, split into capital + interest
  - MoratoryInterest: penalty interest accrued daily on a late installment
  - Payment / PaymentAllocation: immutable collection audit trail
  - PositiveBalance / PositiveBalanceAllocation: overpayment carry-forward

DESIGN PRINCIPLES:
  1. Precision: shopspring/decimal for all money; no binary floats
  2. Auditability: payments, allocations and positive-balance usage are
     append-only; balances are derived, never recomputed from scratch
  3. Type Safety: typed IDs prevent mixing loan/installment identifiers

SEE ALSO:
  - amortization.go: installment amount calculation
  - loantype.go: per-type validation and preparation strategies
  - store.go: persistence interfaces
*/
package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LoanID string
type InstallmentID string

// =============================================================================
// LOAN
// =============================================================================

// LoanType selects the amortization behavior.
type LoanType string

const (
	LoanTypeFixedFees     LoanType = "fixed_fees"     // constant periodic installment (cuota fija)
	LoanTypeOnlyInterests LoanType = "only_interests" // interest-only with grace period
)

// LoanStatus is derived by the overdue worker and the allocation engine.
type LoanStatus string

const (
	LoanUpToDate           LoanStatus = "up_to_date"
	LoanOutstandingBalance LoanStatus = "outstanding_balance"
	LoanOverdue            LoanStatus = "overdue"
	LoanPaid               LoanStatus = "paid"
	LoanRefinanced         LoanStatus = "refinanced"
	LoanCancelled          LoanStatus = "cancelled"
)

// Loan is owned exclusively by this system. It is mutated by the
// installment generator, the overdue worker and the allocation engine,
// always inside a store transaction.
type Loan struct {
	ID         LoanID
	CustomerID string
	Type       LoanType

	Principal        decimal.Decimal
	RemainingBalance decimal.Decimal
	InterestRate     decimal.Decimal // periodic rate as a fraction, e.g. 0.05 = 5%
	PenaltyRate      decimal.Decimal // moratory rate as a fraction

	Frequency       PaymentFrequency
	Term            int // fixed_fees: total number of installments
	GracePeriodDays int // only_interests: days before capital payment is required

	Status                 LoanStatus
	StartDate              time.Time
	NextDueDate            time.Time
	RequiresCapitalPayment bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether collections and generation apply to this loan.
// Paid, refinanced and cancelled loans are terminal.
func (l *Loan) IsActive() bool {
	switch l.Status {
	case LoanUpToDate, LoanOutstandingBalance, LoanOverdue:
		return true
	default:
		return false
	}
}

// =============================================================================
// INSTALLMENT
// =============================================================================

type InstallmentStatus string

const (
	InstallmentCreated InstallmentStatus = "created"
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

// Installment is one scheduled due payment of a loan.
//
// INVARIANTS:
//   - Sequence numbers per loan are 1..N, contiguous, ascending, immutable
//   - PaidAmount <= TotalAmount
//   - IsPaid <=> PaidAmount >= TotalAmount
//
// PaidAmount covers interest before capital; moratory interest is tracked
// separately on MoratoryInterest.
type Installment struct {
	ID       InstallmentID
	LoanID   LoanID
	Sequence int

	DueDate        time.Time
	CapitalAmount  decimal.Decimal
	InterestAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	PaidAmount     decimal.Decimal

	IsPaid bool
	PaidAt *time.Time
	Status InstallmentStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outstanding returns the unpaid portion of the installment total.
func (i *Installment) Outstanding() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// UnpaidInterest returns the interest not yet covered by PaidAmount.
// Paid money covers interest before capital.
func (i *Installment) UnpaidInterest() decimal.Decimal {
	if i.PaidAmount.GreaterThanOrEqual(i.InterestAmount) {
		return decimal.Zero
	}
	return i.InterestAmount.Sub(i.PaidAmount)
}

// UnpaidCapital returns the capital not yet covered by PaidAmount.
func (i *Installment) UnpaidCapital() decimal.Decimal {
	return i.Outstanding().Sub(i.UnpaidInterest())
}

// MarkPaidIfSettled flips the paid flag once PaidAmount reaches TotalAmount.
func (i *Installment) MarkPaidIfSettled(at time.Time) {
	if !i.IsPaid && i.PaidAmount.GreaterThanOrEqual(i.TotalAmount) {
		i.IsPaid = true
		i.PaidAt = &at
		i.Status = InstallmentPaid
	}
}

// =============================================================================
// MORATORY INTEREST
// =============================================================================

type MoratoryStatus string

const (
	MoratoryUnpaid              MoratoryStatus = "unpaid"
	MoratoryPartiallyPaid       MoratoryStatus = "partially_paid"
	MoratoryPaid                MoratoryStatus = "paid"
	MoratoryPartiallyDiscounted MoratoryStatus = "partially_discounted"
	MoratoryDiscounted          MoratoryStatus = "discounted"
)

// MoratoryInterest holds one row per late installment (unique per
// installment). Created on first lateness, incremented once per calendar
// day thereafter. Monotonically non-decreasing except when discounted.
type MoratoryInterest struct {
	ID            string
	InstallmentID InstallmentID
	LoanID        LoanID

	Amount           decimal.Decimal
	PaidAmount       decimal.Decimal
	DiscountedAmount decimal.Decimal
	DaysLate         int

	// LastAccruedDate guards against double-counting when the worker
	// fires more than once within the same calendar day.
	LastAccruedDate time.Time

	IsPaid       bool
	IsDiscounted bool
	Status       MoratoryStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due returns the moratory amount still owed.
func (m *MoratoryInterest) Due() decimal.Decimal {
	due := m.Amount.Sub(m.PaidAmount).Sub(m.DiscountedAmount)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// =============================================================================
// PAYMENT - Immutable collection event (audit trail)
// =============================================================================

// Payment records one recaudo event with its per-category applied totals.
// Never updated after creation.
type Payment struct {
	ID          string
	LoanID      LoanID
	CollectorID string

	Amount            decimal.Decimal
	AppliedToCapital  decimal.Decimal
	AppliedToInterest decimal.Decimal
	AppliedToLateFee  decimal.Decimal
	ExcessAmount      decimal.Decimal

	CreatedAt time.Time
}

// PaymentAllocation is one row per (payment, installment) pair actually
// touched. The sum across a payment's allocations must reconcile exactly
// with the payment's applied totals.
type PaymentAllocation struct {
	ID            string
	PaymentID     string
	InstallmentID InstallmentID

	Capital  decimal.Decimal
	Interest decimal.Decimal
	LateFee  decimal.Decimal

	CreatedAt time.Time
}

// =============================================================================
// POSITIVE BALANCE - Overpayment carry-forward
// =============================================================================

const PositiveBalanceSourceOverpayment = "overpayment"

// PositiveBalance is a loan-scoped surplus created when a payment exceeds
// all pending obligations. It is consumed, partially or fully, when new
// installments are created or an advance is applied.
type PositiveBalance struct {
	ID         string
	LoanID     LoanID
	CustomerID string

	Amount     decimal.Decimal
	UsedAmount decimal.Decimal
	IsUsed     bool
	Source     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the unapplied portion of the balance.
func (b *PositiveBalance) Available() decimal.Decimal {
	avail := b.Amount.Sub(b.UsedAmount)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// PositiveBalanceAllocation is the audit row for one application of a
// positive balance to an installment.
type PositiveBalanceAllocation struct {
	ID                string
	PositiveBalanceID string
	InstallmentID     InstallmentID

	LateFee  decimal.Decimal
	Interest decimal.Decimal
	Capital  decimal.Decimal

	CreatedAt time.Time
}

/*
Package sqlite provides the SQLite-backed implementation of the lending
persistence interfaces.

PURPOSE:
  Implements lending.TxStore (entities) and schedule.MessageStore
  (delayed triggers) over one database. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  loans:                        loan state, mutated inside transactions
  installments:                 UNIQUE(loan_id, sequence) enforces the
                                contiguous-sequence invariant
  moratory_interests:           UNIQUE(installment_id), one row per late
                                installment
  payments, payment_allocations, positive_balance_allocations:
                                append-only audit trail (no UPDATE paths)
  positive_balances:            overpayment carry-forward
  scheduled_messages:           the delayed queue's durability boundary

PRECISION:
  Monetary columns are TEXT so no precision is lost; decimal.Decimal
  implements driver.Valuer/sql.Scanner and round-trips exactly.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

CONCURRENCY:
  WithTx wraps a database transaction; concurrent work on the same loan
  serializes on the row writes inside it.

USAGE:
  store, err := sqlite.New("./data/lending.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - lending/store.go: Interface definitions
  - schedule/queue.go: MessageStore definition
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/schedule"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements lending.TxStore and schedule.MessageStore.
type Store struct {
	queries
	db *sql.DB
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{queries: queries{q: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		loan_type TEXT NOT NULL,
		principal TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		penalty_rate TEXT NOT NULL,
		frequency TEXT NOT NULL,
		term INTEGER NOT NULL DEFAULT 0,
		grace_period_days INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		next_due_date DATETIME,
		requires_capital_payment INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		capital_amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		paid_at DATETIME,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id),
		UNIQUE(loan_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_installments_unpaid
		ON installments(loan_id, is_paid);

	CREATE TABLE IF NOT EXISTS moratory_interests (
		id TEXT PRIMARY KEY,
		installment_id TEXT NOT NULL UNIQUE,
		loan_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		discounted_amount TEXT NOT NULL DEFAULT '0',
		days_late INTEGER NOT NULL DEFAULT 0,
		last_accrued_date DATETIME NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		is_discounted INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(installment_id) REFERENCES installments(id)
	);

	-- Append-only: payments and allocation rows have no UPDATE path.
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		collector_id TEXT,
		amount TEXT NOT NULL,
		applied_to_capital TEXT NOT NULL,
		applied_to_interest TEXT NOT NULL,
		applied_to_late_fee TEXT NOT NULL,
		excess_amount TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);

	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id);

	CREATE TABLE IF NOT EXISTS payment_allocations (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		installment_id TEXT NOT NULL,
		capital TEXT NOT NULL,
		interest TEXT NOT NULL,
		late_fee TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(payment_id) REFERENCES payments(id),
		FOREIGN KEY(installment_id) REFERENCES installments(id)
	);

	CREATE INDEX IF NOT EXISTS idx_payment_allocations_payment
		ON payment_allocations(payment_id);

	CREATE TABLE IF NOT EXISTS positive_balances (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		used_amount TEXT NOT NULL DEFAULT '0',
		is_used INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);

	CREATE INDEX IF NOT EXISTS idx_positive_balances_open
		ON positive_balances(loan_id, is_used);

	CREATE TABLE IF NOT EXISTS positive_balance_allocations (
		id TEXT PRIMARY KEY,
		positive_balance_id TEXT NOT NULL,
		installment_id TEXT NOT NULL,
		late_fee TEXT NOT NULL DEFAULT '0',
		interest TEXT NOT NULL,
		capital TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(positive_balance_id) REFERENCES positive_balances(id),
		FOREIGN KEY(installment_id) REFERENCES installments(id)
	);

	CREATE TABLE IF NOT EXISTS scheduled_messages (
		id TEXT PRIMARY KEY,
		queue TEXT NOT NULL,
		loan_id TEXT NOT NULL,
		remaining_installments INTEGER,
		attempts INTEGER NOT NULL DEFAULT 0,
		deliver_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scheduled_messages_due
		ON scheduled_messages(deliver_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(lending.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{queries{q: tx}}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore is the transactional view handed to WithTx callbacks.
type txStore struct {
	queries
}

// =============================================================================
// QUERIES - Shared between the root store and transactional views
// =============================================================================

type queries struct {
	q dbtx
}

const loanColumns = `id, customer_id, loan_type, principal, remaining_balance,
	interest_rate, penalty_rate, frequency, term, grace_period_days, status,
	start_date, next_due_date, requires_capital_payment, created_at, updated_at`

func (s queries) CreateLoan(ctx context.Context, loan *lending.Loan) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(loan.ID), loan.CustomerID, string(loan.Type), loan.Principal,
		loan.RemainingBalance, loan.InterestRate, loan.PenaltyRate,
		string(loan.Frequency), loan.Term, loan.GracePeriodDays,
		string(loan.Status), loan.StartDate, loan.NextDueDate,
		loan.RequiresCapitalPayment, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func (s queries) GetLoan(ctx context.Context, id lending.LoanID) (*lending.Loan, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = ?`, string(id))
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, lending.ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

func (s queries) UpdateLoan(ctx context.Context, loan *lending.Loan) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE loans SET customer_id = ?, loan_type = ?, principal = ?,
			remaining_balance = ?, interest_rate = ?, penalty_rate = ?,
			frequency = ?, term = ?, grace_period_days = ?, status = ?,
			start_date = ?, next_due_date = ?, requires_capital_payment = ?,
			updated_at = ?
		WHERE id = ?`,
		loan.CustomerID, string(loan.Type), loan.Principal,
		loan.RemainingBalance, loan.InterestRate, loan.PenaltyRate,
		string(loan.Frequency), loan.Term, loan.GracePeriodDays,
		string(loan.Status), loan.StartDate, loan.NextDueDate,
		loan.RequiresCapitalPayment, loan.UpdatedAt, string(loan.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lending.ErrLoanNotFound
	}
	return nil
}

func (s queries) DeleteLoan(ctx context.Context, id lending.LoanID) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM loans WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lending.ErrLoanNotFound
	}
	return nil
}

func (s queries) ListActiveLoans(ctx context.Context) ([]*lending.Loan, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE status IN (?, ?, ?) ORDER BY created_at`,
		string(lending.LoanUpToDate), string(lending.LoanOutstandingBalance),
		string(lending.LoanOverdue))
	if err != nil {
		return nil, fmt.Errorf("failed to list active loans: %w", err)
	}
	defer rows.Close()

	var loans []*lending.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*lending.Loan, error) {
	var loan lending.Loan
	var id, loanType, frequency, status string
	var nextDue sql.NullTime
	err := row.Scan(&id, &loan.CustomerID, &loanType, &loan.Principal,
		&loan.RemainingBalance, &loan.InterestRate, &loan.PenaltyRate,
		&frequency, &loan.Term, &loan.GracePeriodDays, &status,
		&loan.StartDate, &nextDue, &loan.RequiresCapitalPayment,
		&loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = lending.LoanID(id)
	loan.Type = lending.LoanType(loanType)
	loan.Frequency = lending.PaymentFrequency(frequency)
	loan.Status = lending.LoanStatus(status)
	if nextDue.Valid {
		loan.NextDueDate = nextDue.Time
	}
	return &loan, nil
}

const installmentColumns = `id, loan_id, sequence, due_date, capital_amount,
	interest_amount, total_amount, paid_amount, is_paid, paid_at, status,
	created_at, updated_at`

func (s queries) CreateInstallment(ctx context.Context, inst *lending.Installment) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO installments (`+installmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(inst.ID), string(inst.LoanID), inst.Sequence, inst.DueDate,
		inst.CapitalAmount, inst.InterestAmount, inst.TotalAmount,
		inst.PaidAmount, inst.IsPaid, nullTime(inst.PaidAt),
		string(inst.Status), inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return lending.ErrDuplicateSequence
		}
		return fmt.Errorf("failed to create installment: %w", err)
	}
	return nil
}

func (s queries) UpdateInstallment(ctx context.Context, inst *lending.Installment) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE installments SET due_date = ?, capital_amount = ?,
			interest_amount = ?, total_amount = ?, paid_amount = ?,
			is_paid = ?, paid_at = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		inst.DueDate, inst.CapitalAmount, inst.InterestAmount,
		inst.TotalAmount, inst.PaidAmount, inst.IsPaid, nullTime(inst.PaidAt),
		string(inst.Status), inst.UpdatedAt, string(inst.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	return nil
}

func (s queries) LastInstallment(ctx context.Context, loanID lending.LoanID) (*lending.Installment, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+installmentColumns+` FROM installments
		WHERE loan_id = ? ORDER BY sequence DESC LIMIT 1`, string(loanID))
	inst, err := scanInstallment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last installment: %w", err)
	}
	return inst, nil
}

func (s queries) InstallmentsByLoan(ctx context.Context, loanID lending.LoanID) ([]*lending.Installment, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments
		WHERE loan_id = ? ORDER BY sequence ASC`, string(loanID))
	if err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	defer rows.Close()

	var insts []*lending.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	return insts, rows.Err()
}

func scanInstallment(row rowScanner) (*lending.Installment, error) {
	var inst lending.Installment
	var id, loanID, status string
	var paidAt sql.NullTime
	err := row.Scan(&id, &loanID, &inst.Sequence, &inst.DueDate,
		&inst.CapitalAmount, &inst.InterestAmount, &inst.TotalAmount,
		&inst.PaidAmount, &inst.IsPaid, &paidAt, &status,
		&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.ID = lending.InstallmentID(id)
	inst.LoanID = lending.LoanID(loanID)
	inst.Status = lending.InstallmentStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		inst.PaidAt = &t
	}
	return &inst, nil
}

// PaidCapital sums the capital portion covered by payments on each
// installment. Computed in Go rather than SQL: monetary columns are
// TEXT, so SQL-side arithmetic would lose precision.
func (s queries) PaidCapital(ctx context.Context, loanID lending.LoanID) (decimal.Decimal, error) {
	insts, err := s.InstallmentsByLoan(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, inst := range insts {
		paidCapital := inst.PaidAmount.Sub(inst.InterestAmount)
		if paidCapital.IsPositive() {
			total = total.Add(lending.MinMoney(paidCapital, inst.CapitalAmount))
		}
	}
	return total, nil
}

const moratoryColumns = `id, installment_id, loan_id, amount, paid_amount,
	discounted_amount, days_late, last_accrued_date, is_paid, is_discounted,
	status, created_at, updated_at`

func (s queries) MoratoryByInstallment(ctx context.Context, instID lending.InstallmentID) (*lending.MoratoryInterest, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+moratoryColumns+` FROM moratory_interests
		WHERE installment_id = ?`, string(instID))

	var m lending.MoratoryInterest
	var id, installmentID, loanID, status string
	err := row.Scan(&id, &installmentID, &loanID, &m.Amount, &m.PaidAmount,
		&m.DiscountedAmount, &m.DaysLate, &m.LastAccruedDate, &m.IsPaid,
		&m.IsDiscounted, &status, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get moratory interest: %w", err)
	}
	m.ID = id
	m.InstallmentID = lending.InstallmentID(installmentID)
	m.LoanID = lending.LoanID(loanID)
	m.Status = lending.MoratoryStatus(status)
	return &m, nil
}

func (s queries) CreateMoratory(ctx context.Context, m *lending.MoratoryInterest) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO moratory_interests (`+moratoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.InstallmentID), string(m.LoanID), m.Amount,
		m.PaidAmount, m.DiscountedAmount, m.DaysLate, m.LastAccruedDate,
		m.IsPaid, m.IsDiscounted, string(m.Status), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create moratory interest: %w", err)
	}
	return nil
}

func (s queries) UpdateMoratory(ctx context.Context, m *lending.MoratoryInterest) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE moratory_interests SET amount = ?, paid_amount = ?,
			discounted_amount = ?, days_late = ?, last_accrued_date = ?,
			is_paid = ?, is_discounted = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		m.Amount, m.PaidAmount, m.DiscountedAmount, m.DaysLate,
		m.LastAccruedDate, m.IsPaid, m.IsDiscounted, string(m.Status),
		m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update moratory interest: %w", err)
	}
	return nil
}

func (s queries) CreatePayment(ctx context.Context, p *lending.Payment) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO payments (id, loan_id, collector_id, amount,
			applied_to_capital, applied_to_interest, applied_to_late_fee,
			excess_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.LoanID), p.CollectorID, p.Amount, p.AppliedToCapital,
		p.AppliedToInterest, p.AppliedToLateFee, p.ExcessAmount, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s queries) PaymentsByLoan(ctx context.Context, loanID lending.LoanID) ([]*lending.Payment, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, loan_id, collector_id, amount, applied_to_capital,
			applied_to_interest, applied_to_late_fee, excess_amount, created_at
		FROM payments WHERE loan_id = ? ORDER BY created_at ASC`, string(loanID))
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*lending.Payment
	for rows.Next() {
		var p lending.Payment
		var id, lid string
		var collector sql.NullString
		if err := rows.Scan(&id, &lid, &collector, &p.Amount,
			&p.AppliedToCapital, &p.AppliedToInterest, &p.AppliedToLateFee,
			&p.ExcessAmount, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.ID = id
		p.LoanID = lending.LoanID(lid)
		p.CollectorID = collector.String
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

func (s queries) CreatePaymentAllocation(ctx context.Context, a *lending.PaymentAllocation) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO payment_allocations (id, payment_id, installment_id,
			capital, interest, late_fee, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PaymentID, string(a.InstallmentID), a.Capital, a.Interest,
		a.LateFee, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment allocation: %w", err)
	}
	return nil
}

func (s queries) AllocationsByPayment(ctx context.Context, paymentID string) ([]*lending.PaymentAllocation, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, payment_id, installment_id, capital, interest, late_fee,
			created_at
		FROM payment_allocations WHERE payment_id = ? ORDER BY created_at ASC`,
		paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment allocations: %w", err)
	}
	defer rows.Close()

	var allocs []*lending.PaymentAllocation
	for rows.Next() {
		var a lending.PaymentAllocation
		var instID string
		if err := rows.Scan(&a.ID, &a.PaymentID, &instID, &a.Capital,
			&a.Interest, &a.LateFee, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.InstallmentID = lending.InstallmentID(instID)
		allocs = append(allocs, &a)
	}
	return allocs, rows.Err()
}

const balanceColumns = `id, loan_id, customer_id, amount, used_amount,
	is_used, source, created_at, updated_at`

func (s queries) CreatePositiveBalance(ctx context.Context, b *lending.PositiveBalance) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO positive_balances (`+balanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, string(b.LoanID), b.CustomerID, b.Amount, b.UsedAmount,
		b.IsUsed, b.Source, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create positive balance: %w", err)
	}
	return nil
}

func (s queries) UpdatePositiveBalance(ctx context.Context, b *lending.PositiveBalance) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE positive_balances SET amount = ?, used_amount = ?, is_used = ?,
			updated_at = ?
		WHERE id = ?`,
		b.Amount, b.UsedAmount, b.IsUsed, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update positive balance: %w", err)
	}
	return nil
}

func (s queries) OpenPositiveBalances(ctx context.Context, loanID lending.LoanID) ([]*lending.PositiveBalance, error) {
	return s.positiveBalances(ctx,
		`SELECT `+balanceColumns+` FROM positive_balances
		WHERE loan_id = ? AND is_used = 0 ORDER BY created_at ASC`, string(loanID))
}

func (s queries) PositiveBalancesByLoan(ctx context.Context, loanID lending.LoanID) ([]*lending.PositiveBalance, error) {
	return s.positiveBalances(ctx,
		`SELECT `+balanceColumns+` FROM positive_balances
		WHERE loan_id = ? ORDER BY created_at ASC`, string(loanID))
}

func (s queries) positiveBalances(ctx context.Context, query string, args ...any) ([]*lending.PositiveBalance, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list positive balances: %w", err)
	}
	defer rows.Close()

	var balances []*lending.PositiveBalance
	for rows.Next() {
		var b lending.PositiveBalance
		var id, loanID string
		if err := rows.Scan(&id, &loanID, &b.CustomerID, &b.Amount,
			&b.UsedAmount, &b.IsUsed, &b.Source, &b.CreatedAt,
			&b.UpdatedAt); err != nil {
			return nil, err
		}
		b.ID = id
		b.LoanID = lending.LoanID(loanID)
		balances = append(balances, &b)
	}
	return balances, rows.Err()
}

func (s queries) CreatePositiveBalanceAllocation(ctx context.Context, a *lending.PositiveBalanceAllocation) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO positive_balance_allocations (id, positive_balance_id,
			installment_id, late_fee, interest, capital, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PositiveBalanceID, string(a.InstallmentID), a.LateFee,
		a.Interest, a.Capital, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create positive balance allocation: %w", err)
	}
	return nil
}

// =============================================================================
// MESSAGE STORE - schedule.MessageStore over the same database
// =============================================================================

func (s *Store) Enqueue(ctx context.Context, msg schedule.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_messages (id, queue, loan_id,
			remaining_installments, attempts, deliver_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Queue, msg.LoanID, nullInt(msg.RemainingInstallments),
		msg.Attempts, msg.DeliverAt, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]schedule.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, queue, loan_id, remaining_installments, attempts,
			deliver_at, created_at
		FROM scheduled_messages WHERE deliver_at <= ?
		ORDER BY deliver_at ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due messages: %w", err)
	}
	defer rows.Close()

	var msgs []schedule.Message
	for rows.Next() {
		var msg schedule.Message
		var remaining sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.Queue, &msg.LoanID, &remaining,
			&msg.Attempts, &msg.DeliverAt, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if remaining.Valid {
			r := int(remaining.Int64)
			msg.RemainingInstallments = &r
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *Store) Ack(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

func (s *Store) Reschedule(ctx context.Context, id string, deliverAt time.Time, attempts int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET deliver_at = ?, attempts = ? WHERE id = ?`,
		deliverAt, attempts, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule message: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

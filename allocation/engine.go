/*
Package allocation implements the payment and advance allocation engine.

PURPOSE:
  Distributes an incoming amount across a loan's unpaid installments in
  ascending sequence order under a strict priority waterfall:

    1. moratory fee   min(remaining, moratoryDue)
    2. interest       min(remaining, unpaidInterest)
    3. capital        min(remaining, unpaidCapital)

  The engine advances to the next installment only when the current one
  cannot absorb more. Moratory owed on an already settled installment is
  still collected, so no moratory debt can be stranded. Leftover after
  the last unpaid installment becomes a PositiveBalance
  (source = overpayment), never silently discarded.

INVARIANTS:
  - Conservation: appliedCapital + appliedInterest + appliedLateFee +
    excess == incoming amount, checked before commit; a mismatch aborts
    the transaction.
  - Every allocation step that moves money writes an immutable
    PaymentAllocation row.
  - The loan's remaining balance decreases by exactly the capital applied
    and must never go negative.

CONCURRENCY:
  Each invocation runs inside one store transaction, so concurrent
  collections on the same loan serialize at the database and cannot
  double-spend a positive balance.

SEE ALSO:
  - positive.go: positive-balance application shared with the generator
  - overdue: accrues the moratory amounts this engine settles
*/
package allocation

import (
	"context"
	"log"
	"time"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine applies payments and advances to a loan's obligations.
type Engine struct {
	store lending.TxStore

	// Now is swappable for tests.
	Now func() time.Time
}

func New(store lending.TxStore) *Engine {
	return &Engine{store: store, Now: time.Now}
}

// InstallmentBreakdown reports what one installment absorbed.
type InstallmentBreakdown struct {
	InstallmentID lending.InstallmentID
	Sequence      int
	LateFee       decimal.Decimal
	Interest      decimal.Decimal
	Capital       decimal.Decimal
}

// Result is the outcome of one payment allocation.
type Result struct {
	Payment    *lending.Payment
	Breakdown  []InstallmentBreakdown
	Excess     decimal.Decimal
	LoanStatus lending.LoanStatus
}

// AdvanceResult is the outcome of re-applying standing positive balances.
// Applied=false with a reason is a legitimate idle state, not an error.
type AdvanceResult struct {
	Applied      bool
	Reason       string
	TotalApplied decimal.Decimal
}

// AllocatePayment records a collection event and distributes it across
// the loan's unpaid installments under the waterfall priority.
func (e *Engine) AllocatePayment(ctx context.Context, loanID lending.LoanID, amount decimal.Decimal, collectorID string) (*Result, error) {
	if !amount.IsPositive() {
		return nil, lending.ErrInvalidAmount
	}

	var result *Result
	err := e.store.WithTx(ctx, func(st lending.Store) error {
		var txErr error
		result, txErr = e.allocate(ctx, st, loanID, amount, collectorID)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Allocation] Loan %s: payment %s applied (capital=%s interest=%s lateFee=%s excess=%s)",
		loanID, amount, result.Payment.AppliedToCapital, result.Payment.AppliedToInterest,
		result.Payment.AppliedToLateFee, result.Excess)
	return result, nil
}

func (e *Engine) allocate(ctx context.Context, st lending.Store, loanID lending.LoanID, amount decimal.Decimal, collectorID string) (*Result, error) {
	now := e.Now()

	loan, err := st.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsActive() {
		return nil, lending.ErrLoanInactive
	}

	insts, err := st.InstallmentsByLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	remaining := amount
	appliedCapital := decimal.Zero
	appliedInterest := decimal.Zero
	appliedLateFee := decimal.Zero
	paymentID := uuid.New().String()
	var breakdown []InstallmentBreakdown
	var allocs []*lending.PaymentAllocation

	for _, inst := range insts {
		if !remaining.IsPositive() {
			break
		}

		step := InstallmentBreakdown{InstallmentID: inst.ID, Sequence: inst.Sequence}

		// 1. Moratory fee. Collected even when the installment itself is
		// already settled, so no moratory debt is ever stranded.
		mor, err := st.MoratoryByInstallment(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		if mor != nil && mor.Due().IsPositive() {
			fee := lending.MinMoney(remaining, mor.Due())
			mor.PaidAmount = mor.PaidAmount.Add(fee)
			mor.IsPaid = !mor.Due().IsPositive()
			if mor.IsPaid {
				mor.Status = lending.MoratoryPaid
			} else {
				mor.Status = lending.MoratoryPartiallyPaid
			}
			mor.UpdatedAt = now
			if err := st.UpdateMoratory(ctx, mor); err != nil {
				return nil, err
			}
			remaining = remaining.Sub(fee)
			appliedLateFee = appliedLateFee.Add(fee)
			step.LateFee = fee
		}

		// 2. Interest and 3. Capital, on unpaid installments only.
		interest := decimal.Zero
		capital := decimal.Zero
		if !inst.IsPaid {
			interest = lending.MinMoney(remaining, inst.UnpaidInterest())
			remaining = remaining.Sub(interest)
			appliedInterest = appliedInterest.Add(interest)
			step.Interest = interest

			capital = lending.MinMoney(remaining, inst.UnpaidCapital())
			remaining = remaining.Sub(capital)
			appliedCapital = appliedCapital.Add(capital)
			step.Capital = capital
		}

		moved := interest.Add(capital)
		if moved.IsPositive() {
			inst.PaidAmount = inst.PaidAmount.Add(moved)
			inst.UpdatedAt = now
			inst.MarkPaidIfSettled(now)
			if err := st.UpdateInstallment(ctx, inst); err != nil {
				return nil, err
			}
		}

		if step.LateFee.Add(moved).IsPositive() {
			breakdown = append(breakdown, step)
			allocs = append(allocs, &lending.PaymentAllocation{
				ID:            uuid.New().String(),
				PaymentID:     paymentID,
				InstallmentID: inst.ID,
				Capital:       step.Capital,
				Interest:      step.Interest,
				LateFee:       step.LateFee,
				CreatedAt:     now,
			})
		}
	}

	// Interest-only loans accept direct capital payments once the grace
	// period has elapsed; the surplus reduces the principal instead of
	// parking as a positive balance.
	if remaining.IsPositive() && loan.Type == lending.LoanTypeOnlyInterests && loan.RequiresCapitalPayment {
		outstanding := loan.RemainingBalance.Sub(appliedCapital)
		extra := lending.MinMoney(remaining, outstanding)
		if extra.IsPositive() && len(insts) > 0 {
			last := insts[len(insts)-1]
			remaining = remaining.Sub(extra)
			appliedCapital = appliedCapital.Add(extra)
			breakdown = append(breakdown, InstallmentBreakdown{
				InstallmentID: last.ID, Sequence: last.Sequence, Capital: extra,
			})
			allocs = append(allocs, &lending.PaymentAllocation{
				ID:            uuid.New().String(),
				PaymentID:     paymentID,
				InstallmentID: last.ID,
				Capital:       extra,
				CreatedAt:     now,
			})
		}
	}

	// 4. Leftover becomes a positive balance, never discarded.
	excess := remaining
	if excess.IsPositive() {
		if err := st.CreatePositiveBalance(ctx, &lending.PositiveBalance{
			ID:         uuid.New().String(),
			LoanID:     loan.ID,
			CustomerID: loan.CustomerID,
			Amount:     excess,
			Source:     lending.PositiveBalanceSourceOverpayment,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return nil, err
		}
	}

	// Conservation invariant: every cent of the incoming amount must be
	// accounted for. A mismatch aborts the transaction.
	total := appliedCapital.Add(appliedInterest).Add(appliedLateFee).Add(excess)
	if !total.Equal(amount) {
		return nil, &lending.AllocationMismatchError{LoanID: loan.ID, Expected: amount, Got: total}
	}

	// 5. Remaining balance decreases by the capital applied.
	loan.RemainingBalance = loan.RemainingBalance.Sub(appliedCapital)
	if loan.RemainingBalance.IsNegative() {
		return nil, lending.ErrNegativeBalance
	}
	settled, err := e.loanSettled(ctx, st, loan, insts)
	if err != nil {
		return nil, err
	}
	if settled {
		loan.Status = lending.LoanPaid
	}
	loan.UpdatedAt = now
	if err := st.UpdateLoan(ctx, loan); err != nil {
		return nil, err
	}

	// 6. Immutable audit trail.
	payment := &lending.Payment{
		ID:                paymentID,
		LoanID:            loan.ID,
		CollectorID:       collectorID,
		Amount:            amount,
		AppliedToCapital:  appliedCapital,
		AppliedToInterest: appliedInterest,
		AppliedToLateFee:  appliedLateFee,
		ExcessAmount:      excess,
		CreatedAt:         now,
	}
	if err := st.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	for _, a := range allocs {
		if err := st.CreatePaymentAllocation(ctx, a); err != nil {
			return nil, err
		}
	}

	return &Result{
		Payment:    payment,
		Breakdown:  breakdown,
		Excess:     excess,
		LoanStatus: loan.Status,
	}, nil
}

// loanSettled reports whether the loan has fully resolved: principal
// repaid, no installment left unpaid, and no moratory debt still due.
func (e *Engine) loanSettled(ctx context.Context, st lending.Store, loan *lending.Loan, insts []*lending.Installment) (bool, error) {
	if loan.RemainingBalance.IsPositive() {
		return false, nil
	}
	for _, inst := range insts {
		if !inst.IsPaid {
			return false, nil
		}
		mor, err := st.MoratoryByInstallment(ctx, inst.ID)
		if err != nil {
			return false, err
		}
		if mor != nil && mor.Due().IsPositive() {
			return false, nil
		}
	}
	if loan.Type == lending.LoanTypeFixedFees && len(insts) < loan.Term {
		return false, nil
	}
	return len(insts) > 0, nil
}

// ApplyAdvance re-applies the loan's standing positive balances to its
// pending installments. With nothing pending it returns an explicit
// "nothing to apply" result, since that is a legitimate idle state.
func (e *Engine) ApplyAdvance(ctx context.Context, loanID lending.LoanID) (*AdvanceResult, error) {
	var result *AdvanceResult
	err := e.store.WithTx(ctx, func(st lending.Store) error {
		now := e.Now()

		loan, err := st.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.IsActive() {
			return lending.ErrLoanInactive
		}

		insts, err := st.InstallmentsByLoan(ctx, loanID)
		if err != nil {
			return err
		}
		// Pending work is an unpaid installment or moratory still owed on
		// a settled one.
		pending := false
		for _, inst := range insts {
			if !inst.IsPaid {
				pending = true
				break
			}
			mor, err := st.MoratoryByInstallment(ctx, inst.ID)
			if err != nil {
				return err
			}
			if mor != nil && mor.Due().IsPositive() {
				pending = true
				break
			}
		}
		if !pending {
			result = &AdvanceResult{Applied: false, Reason: "nothing to apply"}
			return nil
		}

		applied, err := ApplyPositiveBalances(ctx, st, loan, insts, now)
		if err != nil {
			return err
		}
		if !applied.IsPositive() {
			result = &AdvanceResult{Applied: false, Reason: "no open positive balance"}
			return nil
		}

		settled, err := e.loanSettled(ctx, st, loan, insts)
		if err != nil {
			return err
		}
		if settled {
			loan.Status = lending.LoanPaid
		}
		loan.UpdatedAt = now
		if err := st.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		result = &AdvanceResult{Applied: true, TotalApplied: applied}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

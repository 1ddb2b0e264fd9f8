/*
Package generator creates loan installments at the correct cadence.

PURPOSE:
  Owns the per-loan installment state machine. Two triggers drive it:

    create-first  invoked synchronously when a loan is originated
    create-next   delivered by the delayed rescheduling driver

  After creating an installment the generator applies any standing
  positive balance to it, updates the loan's next due date, and publishes
  the next generation trigger so it fires again shortly before the
  following due date. The first overdue-check trigger (fixed 24h delay)
  is scheduled independently of the installment cadence.

TERMINATION:
  fixed_fees:     stop once sequence == term; the allocation engine
                  resolves the loan to Paid.
  only_interests: stop once the remaining principal reaches zero.

FAILURE MODEL:
  An unsupported loan type is a fatal configuration error and is not
  retried. Everything else bubbles to the broker's retry/backoff loop.

SEE ALSO:
  - lending/amortization.go: the amounts calculation
  - schedule: delayed trigger delivery
  - allocation/positive.go: positive-balance application on creation
*/
package generator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/allocation"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/schedule"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// overdueInitialDelay is when the first lateness check fires after loan
// start, independent of the installment cadence.
const overdueInitialDelay = 24 * time.Hour

// Generator creates installments inside store transactions and schedules
// its own future triggers through the broker.
type Generator struct {
	store  lending.TxStore
	broker schedule.Broker

	// Now is swappable for tests.
	Now func() time.Time
}

func New(store lending.TxStore, broker schedule.Broker) *Generator {
	return &Generator{store: store, broker: broker, Now: time.Now}
}

// CreateFirst creates installment #1 for a freshly originated loan and
// schedules both the next generation trigger and the first overdue check.
// Called synchronously by loan origination after the loan row exists.
func (g *Generator) CreateFirst(ctx context.Context, loanID lending.LoanID) (*lending.Installment, error) {
	var created *lending.Installment
	var loan *lending.Loan

	err := g.store.WithTx(ctx, func(st lending.Store) error {
		var err error
		loan, err = st.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}

		strategy, err := lending.StrategyFor(loan.Type)
		if err != nil {
			return fmt.Errorf("loan %s: %w", loanID, err)
		}
		if err := strategy.Validate(loan); err != nil {
			return fmt.Errorf("loan %s: %w", loanID, err)
		}
		data := strategy.Prepare(loan)

		amounts, err := lending.NextInstallmentAmounts(loan, data.RemainingInstallments, decimal.Zero)
		if err != nil {
			return err
		}

		firstDue := loan.Frequency.Next(loan.StartDate)
		created = g.newInstallment(loan, 1, firstDue, amounts)
		if err := st.CreateInstallment(ctx, created); err != nil {
			return err
		}

		// Outstanding positive balance is applied before the final
		// paid/total state is persisted.
		if _, err := allocation.ApplyPositiveBalances(ctx, st, loan, []*lending.Installment{created}, g.Now()); err != nil {
			return err
		}

		loan.NextDueDate = firstDue
		loan.UpdatedAt = g.Now()
		return st.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}

	g.scheduleNext(ctx, loan, created)
	g.scheduleFirstOverdueCheck(ctx, loan)

	log.Printf("[Generator] Loan %s: created installment #1 due %s (total %s)",
		loan.ID, created.DueDate.Format(time.RFC3339), created.TotalAmount)
	return created, nil
}

// CreateNext creates the next installment for a loan, or stops when the
// loan-type termination condition is reached. Invoked by the delayed
// rescheduling driver; returns (nil, nil) when generation is complete.
func (g *Generator) CreateNext(ctx context.Context, loanID lending.LoanID) (*lending.Installment, error) {
	var created *lending.Installment
	var loan *lending.Loan

	err := g.store.WithTx(ctx, func(st lending.Store) error {
		var err error
		loan, err = st.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !loan.IsActive() {
			return nil
		}

		// The last installment is read in the same transaction that
		// creates the next one, so sequence numbers stay contiguous even
		// under duplicate trigger delivery.
		last, err := st.LastInstallment(ctx, loanID)
		if err != nil {
			return err
		}
		if last == nil {
			return fmt.Errorf("loan %s has no first installment", loanID)
		}

		var amounts lending.InstallmentAmounts
		switch loan.Type {
		case lending.LoanTypeFixedFees:
			if last.Sequence >= loan.Term {
				return nil
			}
			paidCapital, err := st.PaidCapital(ctx, loanID)
			if err != nil {
				return err
			}
			remaining := loan.Term - last.Sequence
			amounts, err = lending.NextInstallmentAmounts(loan, remaining, paidCapital)
			if err != nil {
				return err
			}

		case lending.LoanTypeOnlyInterests:
			// Remaining principal = loan amount - paid capital, which the
			// allocation engine maintains as the remaining balance.
			if !loan.RemainingBalance.IsPositive() {
				return nil
			}
			paidCapital := loan.Principal.Sub(loan.RemainingBalance)
			amounts, err = lending.NextInstallmentAmounts(loan, 0, paidCapital)
			if err != nil {
				return err
			}

		default:
			return fmt.Errorf("loan %s: %w", loanID, lending.ErrUnsupportedLoanType)
		}

		dueDate := loan.Frequency.Next(last.DueDate)
		created = g.newInstallment(loan, last.Sequence+1, dueDate, amounts)
		if err := st.CreateInstallment(ctx, created); err != nil {
			return err
		}

		if _, err := allocation.ApplyPositiveBalances(ctx, st, loan, []*lending.Installment{created}, g.Now()); err != nil {
			return err
		}

		if loan.Type == lending.LoanTypeOnlyInterests && !loan.RequiresCapitalPayment {
			if err := g.refreshCapitalRequirement(ctx, st, loan, dueDate); err != nil {
				return err
			}
		}

		loan.NextDueDate = dueDate
		loan.UpdatedAt = g.Now()
		return st.UpdateLoan(ctx, loan)
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		log.Printf("[Generator] Loan %s: generation complete, no further installments", loanID)
		return nil, nil
	}

	g.scheduleNext(ctx, loan, created)

	log.Printf("[Generator] Loan %s: created installment #%d due %s (total %s)",
		loan.ID, created.Sequence, created.DueDate.Format(time.RFC3339), created.TotalAmount)
	return created, nil
}

// HandleGenerate is the consumer for the generation queue.
func (g *Generator) HandleGenerate(ctx context.Context, msg schedule.Message) error {
	_, err := g.CreateNext(ctx, lending.LoanID(msg.LoanID))
	if lending.IsConfigError(err) {
		// Retrying cannot fix a misconfigured loan.
		log.Printf("[Generator] Loan %s: fatal configuration error, dropping trigger: %v", msg.LoanID, err)
		return nil
	}
	return err
}

func (g *Generator) newInstallment(loan *lending.Loan, seq int, due time.Time, amounts lending.InstallmentAmounts) *lending.Installment {
	now := g.Now()
	return &lending.Installment{
		ID:             lending.InstallmentID(uuid.New().String()),
		LoanID:         loan.ID,
		Sequence:       seq,
		DueDate:        due,
		CapitalAmount:  amounts.Capital,
		InterestAmount: amounts.Interest,
		TotalAmount:    amounts.Total,
		PaidAmount:     decimal.Zero,
		Status:         lending.InstallmentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// refreshCapitalRequirement flips RequiresCapitalPayment once the new due
// date falls on or past firstInstallmentDate + gracePeriod.
func (g *Generator) refreshCapitalRequirement(ctx context.Context, st lending.Store, loan *lending.Loan, newDue time.Time) error {
	insts, err := st.InstallmentsByLoan(ctx, loan.ID)
	if err != nil {
		return err
	}
	if len(insts) == 0 {
		return nil
	}
	graceEnd := insts[0].DueDate.AddDate(0, 0, loan.GracePeriodDays)
	if !newDue.Before(graceEnd) {
		loan.RequiresCapitalPayment = true
	}
	return nil
}

// scheduleNext publishes the trigger that will create the installment
// after inst. The trigger fires a frequency-dependent offset before the
// due date so installments exist before they are due; an instant already
// in the past is clamped by the broker to a minimal positive delay.
func (g *Generator) scheduleNext(ctx context.Context, loan *lending.Loan, inst *lending.Installment) {
	if loan.Type == lending.LoanTypeFixedFees && inst.Sequence >= loan.Term {
		return
	}

	nextDue := loan.Frequency.Next(inst.DueDate)
	fireAt := nextDue.Add(-loan.Frequency.CreationOffset())
	delay := fireAt.Sub(g.Now())

	var remaining *int
	if loan.Type == lending.LoanTypeFixedFees {
		r := loan.Term - inst.Sequence
		remaining = &r
	}

	msg := schedule.NewMessage(schedule.QueueGenerate, string(loan.ID), remaining)
	if err := g.broker.Publish(ctx, schedule.QueueGenerate, msg, delay); err != nil {
		log.Printf("[Generator] Loan %s: failed to schedule next generation: %v", loan.ID, err)
	}
}

func (g *Generator) scheduleFirstOverdueCheck(ctx context.Context, loan *lending.Loan) {
	msg := schedule.NewMessage(schedule.QueueOverdue, string(loan.ID), nil)
	if err := g.broker.Publish(ctx, schedule.QueueOverdue, msg, overdueInitialDelay); err != nil {
		log.Printf("[Generator] Loan %s: failed to schedule overdue check: %v", loan.ID, err)
	}
}

/*
Package overdue re-evaluates lateness and accrues moratory interest.

PURPOSE:
  A continuous polling loop per loan, driven by the delayed queue: the
  first trigger fires 24h after loan start (scheduled by the generator),
  and the worker re-publishes itself every 60 seconds for as long as the
  loan stays active. Per trigger it scans every installment of the loan:

    - unpaid and due date before today (date-only comparison): mark the
      installment overdue and accrue one day of moratory interest equal
      to principal x penaltyRate / 30, creating the MoratoryInterest row
      on first lateness and incrementing it on later days
    - partially paid (0 < paid < total): counts toward the loan's
      Outstanding Balance classification regardless of due date

  Loan status is derived after the scan:
      Overdue > Outstanding Balance > Up to Date
  and written only when it differs from the stored value.

IDEMPOTENCE:
  The 60-second cadence can fire many times within one calendar day, so
  accrual carries an explicit guard: a moratory row is incremented at
  most once per calendar day, tracked by LastAccruedDate. Re-running the
  worker within the same day never double-counts DaysLate.
*/
package overdue

import (
	"context"
	"log"
	"time"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/schedule"
	"github.com/google/uuid"
)

// repollInterval is how often a loan's overdue check re-publishes itself.
const repollInterval = 60 * time.Second

// Worker runs the per-loan lateness scan.
type Worker struct {
	store  lending.TxStore
	broker schedule.Broker

	// Now is swappable for tests.
	Now func() time.Time
}

func New(store lending.TxStore, broker schedule.Broker) *Worker {
	return &Worker{store: store, broker: broker, Now: time.Now}
}

// HandleOverdue is the consumer for the overdue queue. It always
// re-publishes the trigger while the loan remains active, regardless of
// the scan outcome; the loop only ends when the loan leaves the active
// states or disappears.
func (w *Worker) HandleOverdue(ctx context.Context, msg schedule.Message) error {
	loanID := lending.LoanID(msg.LoanID)

	active, err := w.Run(ctx, loanID)
	if err != nil {
		if lending.IsNotFound(err) {
			log.Printf("[Overdue] Loan %s not found, stopping checks", loanID)
			return nil
		}
		// Re-publish before surfacing the error so the loop survives a
		// failed scan.
		w.republish(ctx, loanID)
		return err
	}

	if active {
		w.republish(ctx, loanID)
	} else {
		log.Printf("[Overdue] Loan %s no longer active, stopping checks", loanID)
	}
	return nil
}

func (w *Worker) republish(ctx context.Context, loanID lending.LoanID) {
	msg := schedule.NewMessage(schedule.QueueOverdue, string(loanID), nil)
	if err := w.broker.Publish(ctx, schedule.QueueOverdue, msg, repollInterval); err != nil {
		log.Printf("[Overdue] Loan %s: failed to re-publish check: %v", loanID, err)
	}
}

// Run scans one loan. Returns whether the loan is still active.
func (w *Worker) Run(ctx context.Context, loanID lending.LoanID) (bool, error) {
	active := false
	err := w.store.WithTx(ctx, func(st lending.Store) error {
		loan, err := st.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		active = loan.IsActive()
		if !active {
			return nil
		}
		return w.scan(ctx, st, loan)
	})
	return active, err
}

func (w *Worker) scan(ctx context.Context, st lending.Store, loan *lending.Loan) error {
	now := w.Now()
	today := lending.DateOnly(now)

	insts, err := st.InstallmentsByLoan(ctx, loan.ID)
	if err != nil {
		return err
	}

	anyOverdue := false
	anyPartial := false

	for _, inst := range insts {
		if inst.IsPaid {
			continue
		}

		if inst.PaidAmount.IsPositive() && inst.PaidAmount.LessThan(inst.TotalAmount) {
			anyPartial = true
		}

		if lending.DateOnly(inst.DueDate).Before(today) {
			anyOverdue = true

			if inst.Status != lending.InstallmentOverdue {
				inst.Status = lending.InstallmentOverdue
				inst.UpdatedAt = now
				if err := st.UpdateInstallment(ctx, inst); err != nil {
					return err
				}
			}

			if err := w.accrue(ctx, st, loan, inst, today, now); err != nil {
				return err
			}
		}
	}

	return w.deriveLoanStatus(ctx, st, loan, anyOverdue, anyPartial, now)
}

// accrue adds one day of moratory interest, at most once per calendar day.
func (w *Worker) accrue(ctx context.Context, st lending.Store, loan *lending.Loan, inst *lending.Installment, today, now time.Time) error {
	daily := lending.DailyMoratoryRate(loan.Principal, loan.PenaltyRate)
	if !daily.IsPositive() {
		return nil
	}

	mor, err := st.MoratoryByInstallment(ctx, inst.ID)
	if err != nil {
		return err
	}

	if mor == nil {
		// First day of lateness: create the row.
		return st.CreateMoratory(ctx, &lending.MoratoryInterest{
			ID:              uuid.New().String(),
			InstallmentID:   inst.ID,
			LoanID:          loan.ID,
			Amount:          daily,
			DaysLate:        1,
			LastAccruedDate: today,
			Status:          lending.MoratoryUnpaid,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	// Same-day re-run: nothing to add.
	if !mor.LastAccruedDate.Before(today) {
		return nil
	}
	if mor.IsDiscounted {
		return nil
	}

	mor.Amount = mor.Amount.Add(daily)
	mor.DaysLate++
	mor.LastAccruedDate = today
	if mor.IsPaid {
		// New accrual re-opens a previously settled row.
		mor.IsPaid = false
		mor.Status = lending.MoratoryPartiallyPaid
	}
	mor.UpdatedAt = now
	return st.UpdateMoratory(ctx, mor)
}

// deriveLoanStatus applies Overdue > Outstanding Balance > Up to Date,
// writing only on change.
func (w *Worker) deriveLoanStatus(ctx context.Context, st lending.Store, loan *lending.Loan, anyOverdue, anyPartial bool, now time.Time) error {
	status := lending.LoanUpToDate
	switch {
	case anyOverdue:
		status = lending.LoanOverdue
	case anyPartial:
		status = lending.LoanOutstandingBalance
	}

	if loan.Status == status {
		return nil
	}
	log.Printf("[Overdue] Loan %s: status %s -> %s", loan.ID, loan.Status, status)
	loan.Status = status
	loan.UpdatedAt = now
	return st.UpdateLoan(ctx, loan)
}

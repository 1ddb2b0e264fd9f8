package allocation

import (
	"context"
	"time"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// POSITIVE BALANCE APPLICATION
// =============================================================================

// ApplyPositiveBalances consumes the loan's standing positive balances
// against the given installments, oldest balance first, under the same
// waterfall as a payment: moratory fee before interest before capital.
// A credit is money like any other, so an advance applied to an overdue
// installment must settle its moratory debt first.
//
// Mutates the loan's remaining balance for every capital portion applied
// and persists installment, moratory, balance and audit rows through st.
// The caller owns the transaction and the final loan update.
func ApplyPositiveBalances(ctx context.Context, st lending.Store, loan *lending.Loan, insts []*lending.Installment, now time.Time) (decimal.Decimal, error) {
	balances, err := st.OpenPositiveBalances(ctx, loan.ID)
	if err != nil {
		return decimal.Zero, err
	}

	totalApplied := decimal.Zero

	for _, pb := range balances {
		avail := pb.Available()
		if !avail.IsPositive() {
			continue
		}

		for _, inst := range insts {
			if !avail.IsPositive() {
				break
			}

			// Moratory fee first. Collected even when the installment
			// itself is already settled, so no moratory debt is stranded.
			mor, err := st.MoratoryByInstallment(ctx, inst.ID)
			if err != nil {
				return decimal.Zero, err
			}
			lateFee := decimal.Zero
			if mor != nil && mor.Due().IsPositive() {
				lateFee = lending.MinMoney(avail, mor.Due())
				mor.PaidAmount = mor.PaidAmount.Add(lateFee)
				mor.IsPaid = !mor.Due().IsPositive()
				if mor.IsPaid {
					mor.Status = lending.MoratoryPaid
				} else {
					mor.Status = lending.MoratoryPartiallyPaid
				}
				mor.UpdatedAt = now
				if err := st.UpdateMoratory(ctx, mor); err != nil {
					return decimal.Zero, err
				}
				avail = avail.Sub(lateFee)
			}

			interest := decimal.Zero
			capital := decimal.Zero
			if !inst.IsPaid {
				interest = lending.MinMoney(avail, inst.UnpaidInterest())
				avail = avail.Sub(interest)
				capital = lending.MinMoney(avail, inst.UnpaidCapital())
				avail = avail.Sub(capital)
			}

			applied := lateFee.Add(interest).Add(capital)
			if !applied.IsPositive() {
				continue
			}

			moved := interest.Add(capital)
			if moved.IsPositive() {
				inst.PaidAmount = inst.PaidAmount.Add(moved)
				inst.UpdatedAt = now
				inst.MarkPaidIfSettled(now)
				if err := st.UpdateInstallment(ctx, inst); err != nil {
					return decimal.Zero, err
				}
			}

			pb.UsedAmount = pb.UsedAmount.Add(applied)
			loan.RemainingBalance = loan.RemainingBalance.Sub(capital)
			totalApplied = totalApplied.Add(applied)

			if err := st.CreatePositiveBalanceAllocation(ctx, &lending.PositiveBalanceAllocation{
				ID:                uuid.New().String(),
				PositiveBalanceID: pb.ID,
				InstallmentID:     inst.ID,
				LateFee:           lateFee,
				Interest:          interest,
				Capital:           capital,
				CreatedAt:         now,
			}); err != nil {
				return decimal.Zero, err
			}
		}

		if pb.UsedAmount.IsPositive() || !pb.Available().IsPositive() {
			pb.IsUsed = !pb.Available().IsPositive()
			pb.UpdatedAt = now
			if err := st.UpdatePositiveBalance(ctx, pb); err != nil {
				return decimal.Zero, err
			}
		}
	}

	if loan.RemainingBalance.IsNegative() {
		return decimal.Zero, lending.ErrNegativeBalance
	}
	return totalApplied, nil
}

/*
amortization.go - Pure installment amount calculation

PURPOSE:
  Computes the capital/interest/total split of the next due installment.
  This is the only numeric-precision hot spot in the system, so every
  rule is explicit:

  fixed_fees:
    - interest = outstanding x rate, floored to the minor unit
    - last installment: capital = full outstanding balance, so the loan
      resolves to exactly zero and absorbs all accumulated rounding
    - otherwise: payment = outstanding x r(1+r)^n / ((1+r)^n - 1),
      floored; capital = payment - interest

  only_interests:
    - capital is always zero; interest = outstanding x rate, floored

  All arithmetic stays in decimal.Decimal. The annuity factor (1+r)^n is
  computed with an integer exponent, so no binary floating point touches
  a monetary value.

SEE ALSO:
  - money.go: FloorMoney and rate validation
  - generator: feeds outstanding balance and remaining count per loan type
*/
package lending

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InstallmentAmounts is the computed split for one installment.
type InstallmentAmounts struct {
	Capital  decimal.Decimal
	Interest decimal.Decimal
	Total    decimal.Decimal
}

// NextInstallmentAmounts computes the amounts of the next due installment.
//
// paidCapital is the capital already repaid across previous installments;
// the outstanding balance is principal - paidCapital. remaining is the
// number of installments left including the one being computed
// (fixed-fees only; ignored for interest-only loans).
func NextInstallmentAmounts(loan *Loan, remaining int, paidCapital decimal.Decimal) (InstallmentAmounts, error) {
	if !ValidRate(loan.InterestRate) {
		return InstallmentAmounts{}, &RateError{Field: "interest rate", Value: loan.InterestRate}
	}

	outstanding := loan.Principal.Sub(paidCapital)
	if outstanding.LessThanOrEqual(decimal.Zero) {
		return InstallmentAmounts{}, fmt.Errorf("no outstanding balance to amortize (outstanding %s)", outstanding)
	}

	switch loan.Type {
	case LoanTypeFixedFees:
		if remaining < 1 {
			return InstallmentAmounts{}, fmt.Errorf("fixed-fees amortization requires at least one remaining installment, got %d", remaining)
		}
		return fixedFeesAmounts(outstanding, loan.InterestRate, remaining), nil

	case LoanTypeOnlyInterests:
		interest := FloorMoney(outstanding.Mul(loan.InterestRate))
		return InstallmentAmounts{
			Capital:  decimal.Zero,
			Interest: interest,
			Total:    interest,
		}, nil

	default:
		return InstallmentAmounts{}, ErrUnsupportedLoanType
	}
}

func fixedFeesAmounts(outstanding, rate decimal.Decimal, remaining int) InstallmentAmounts {
	interest := FloorMoney(outstanding.Mul(rate))

	// Final installment absorbs the rounding residue: capital is the full
	// outstanding balance so the schedule sums to the principal exactly.
	if remaining == 1 {
		return InstallmentAmounts{
			Capital:  outstanding,
			Interest: interest,
			Total:    outstanding.Add(interest),
		}
	}

	var payment decimal.Decimal
	if rate.IsZero() {
		payment = FloorMoney(outstanding.Div(decimal.NewFromInt(int64(remaining))))
	} else {
		payment = FloorMoney(annuityPayment(outstanding, rate, remaining))
	}

	return InstallmentAmounts{
		Capital:  payment.Sub(interest),
		Interest: interest,
		Total:    payment,
	}
}

// annuityPayment computes the theoretical fixed payment
// P x r(1+r)^n / ((1+r)^n - 1) for the outstanding balance.
func annuityPayment(outstanding, rate decimal.Decimal, n int) decimal.Decimal {
	factor := one.Add(rate).Pow(decimal.NewFromInt(int64(n)))
	numerator := rate.Mul(factor)
	denominator := factor.Sub(one)
	return outstanding.Mul(numerator).Div(denominator)
}

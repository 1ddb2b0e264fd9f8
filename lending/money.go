package lending

import "github.com/shopspring/decimal"

// =============================================================================
// MONEY HELPERS
// =============================================================================

// moneyScale is the number of decimal places in the currency minor unit.
const moneyScale = 2

var (
	one    = decimal.NewFromInt(1)
	thirty = decimal.NewFromInt(30)
)

// FloorMoney truncates a monetary value to the currency minor unit.
// Flooring (not rounding) is deliberate: intermediate installments never
// generate fractional-currency dust, and the accumulated error is
// absorbed by the final installment.
func FloorMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(moneyScale)
}

// ValidRate reports whether a rate fraction is within [0, 1].
// Rates are stored as fractions (0.025 = 2.5%), never as percentages.
func ValidRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(one)
}

// DailyMoratoryRate returns one day of moratory interest for a loan:
// principal x penaltyRate / 30, floored to the minor unit.
func DailyMoratoryRate(principal, penaltyRate decimal.Decimal) decimal.Decimal {
	return FloorMoney(principal.Mul(penaltyRate).Div(thirty))
}

// MinMoney returns the smaller of two amounts.
func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

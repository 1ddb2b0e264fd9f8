/*
loantype.go - Per-type loan behavior behind a common strategy interface

PURPOSE:
  Fixed-fees and interest-only loans validate different parameters and
  prepare different schedule inputs. Each loan type gets one strategy
  implementation, selected through a factory keyed by the stored type
  name, so type branching never leaks into the generator.

STRATEGIES:
  fixed_fees:     requires a term count, ignores grace period
  only_interests: requires a grace period, must not carry a term

An unknown type name is a fatal configuration error (never retried).
*/
package lending

// CreationData carries the schedule inputs the generator needs when
// creating the first installment of a loan.
type CreationData struct {
	// RemainingInstallments is the total term for fixed-fees loans.
	// Zero for interest-only loans, which have no fixed count.
	RemainingInstallments int

	// GracePeriodDays is the interest-only grace window. Zero for
	// fixed-fees loans.
	GracePeriodDays int
}

// TypeStrategy validates and prepares a loan according to its type.
type TypeStrategy interface {
	Name() LoanType

	// Validate checks the type-specific required parameters plus the
	// shared rate constraints. Returns a configuration error on failure.
	Validate(loan *Loan) error

	// Prepare returns the creation data for the first installment.
	// Callers must Validate first.
	Prepare(loan *Loan) CreationData
}

// StrategyFor selects the strategy registered for the stored type name.
func StrategyFor(t LoanType) (TypeStrategy, error) {
	switch t {
	case LoanTypeFixedFees:
		return fixedFeesStrategy{}, nil
	case LoanTypeOnlyInterests:
		return onlyInterestsStrategy{}, nil
	default:
		return nil, ErrUnsupportedLoanType
	}
}

// validateRates checks the shared rate constraints for any loan type.
func validateRates(loan *Loan) error {
	if !ValidRate(loan.InterestRate) {
		return &RateError{Field: "interest rate", Value: loan.InterestRate}
	}
	if !ValidRate(loan.PenaltyRate) {
		return &RateError{Field: "penalty rate", Value: loan.PenaltyRate}
	}
	return nil
}

// =============================================================================
// FIXED FEES (cuota fija)
// =============================================================================

type fixedFeesStrategy struct{}

func (fixedFeesStrategy) Name() LoanType { return LoanTypeFixedFees }

func (fixedFeesStrategy) Validate(loan *Loan) error {
	if loan.Term <= 0 {
		return ErrMissingTerm
	}
	return validateRates(loan)
}

func (fixedFeesStrategy) Prepare(loan *Loan) CreationData {
	return CreationData{RemainingInstallments: loan.Term}
}

// =============================================================================
// ONLY INTERESTS
// =============================================================================

type onlyInterestsStrategy struct{}

func (onlyInterestsStrategy) Name() LoanType { return LoanTypeOnlyInterests }

func (onlyInterestsStrategy) Validate(loan *Loan) error {
	if loan.GracePeriodDays <= 0 {
		return ErrMissingGracePeriod
	}
	return validateRates(loan)
}

func (onlyInterestsStrategy) Prepare(loan *Loan) CreationData {
	return CreationData{GracePeriodDays: loan.GracePeriodDays}
}

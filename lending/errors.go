/*
errors.go - Centralized error types for the lending core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Workers wrap these errors with additional context.

ERROR CATEGORIES:
  1. Configuration errors - unsupported loan type, missing parameters.
     Fatal, never retried, surfaced synchronously to the caller.
  2. Validation errors - bad amounts, inactive loans. Rejected
     immediately with no side effects.
  3. Invariant violations - allocation mismatch, negative balance.
     Abort the enclosing transaction, never swallowed.
  4. Transient errors - lock contention. Retried with bounded backoff
     by the scheduling driver.

USAGE:
    if lending.IsConfigError(err) {
        // do not retry; the loan row itself is wrong
    }
*/
package lending

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLoanNotFound is returned when a referenced loan doesn't exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrLoanInactive is returned when collections or generation target a
	// paid, refinanced or cancelled loan.
	ErrLoanInactive = errors.New("loan is not active")

	// ErrInvalidAmount is returned for zero or negative payment amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidRate is returned when a rate fraction falls outside [0, 1].
	ErrInvalidRate = errors.New("rate must be a fraction in [0, 1]")

	// ErrUnsupportedLoanType is a fatal configuration error: the stored
	// type name has no registered strategy.
	ErrUnsupportedLoanType = errors.New("unsupported loan type")

	// ErrMissingTerm is returned when a fixed-fees loan has no term count.
	ErrMissingTerm = errors.New("fixed-fees loan requires a term")

	// ErrMissingGracePeriod is returned when an interest-only loan has no
	// grace period.
	ErrMissingGracePeriod = errors.New("interest-only loan requires a grace period")

	// ErrDuplicateSequence is returned when an installment with the same
	// (loan, sequence) pair already exists. Duplicate generation triggers
	// must not create two installments with the same sequence.
	ErrDuplicateSequence = errors.New("duplicate installment sequence")

	// ErrAllocationMismatch is an invariant violation: a payment's
	// allocation rows do not reconcile with its applied totals.
	ErrAllocationMismatch = errors.New("allocation sum mismatch")

	// ErrNegativeBalance is an invariant violation: applying capital drove
	// the loan's remaining balance below zero.
	ErrNegativeBalance = errors.New("negative remaining balance")

	// ErrTxConflict signals lock contention at the store level. Retryable.
	ErrTxConflict = errors.New("transaction conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AllocationMismatchError reports the exact discrepancy between a
// payment's applied totals and the incoming amount.
type AllocationMismatchError struct {
	LoanID   LoanID
	Expected decimal.Decimal
	Got      decimal.Decimal
}

func (e *AllocationMismatchError) Error() string {
	return fmt.Sprintf("allocation sum mismatch for loan %s: expected %s, got %s",
		e.LoanID, e.Expected, e.Got)
}

func (e *AllocationMismatchError) Unwrap() error { return ErrAllocationMismatch }

// RateError reports which rate field was out of range.
type RateError struct {
	Field string
	Value decimal.Decimal
}

func (e *RateError) Error() string {
	return fmt.Sprintf("invalid %s: %s is not a fraction in [0, 1]", e.Field, e.Value)
}

func (e *RateError) Unwrap() error { return ErrInvalidRate }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigError returns true for fatal configuration errors that must not
// be retried.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnsupportedLoanType) ||
		errors.Is(err, ErrMissingTerm) ||
		errors.Is(err, ErrMissingGracePeriod) ||
		errors.Is(err, ErrInvalidRate)
}

// IsValidationError returns true if the error is due to invalid input and
// produced no side effects.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrLoanInactive)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound)
}

// IsRetryable returns true if the unit of work might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTxConflict)
}

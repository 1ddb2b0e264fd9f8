/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary amounts cross the wire as JSON strings ("1050000.00"), never
  floats. Parsed with decimal.NewFromString on the way in.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - lending/types.go: The domain model behind them
*/
package api

import (
	"time"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/allocation"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CreateLoanRequest is the request to originate a loan.
type CreateLoanRequest struct {
	CustomerID      string `json:"customer_id"`
	Type            string `json:"type"`          // "fixed_fees" or "only_interests"
	Principal       string `json:"principal"`     // decimal string
	InterestRate    string `json:"interest_rate"` // fraction, e.g. "0.05"
	PenaltyRate     string `json:"penalty_rate"`  // fraction
	Frequency       string `json:"frequency"`
	Term            int    `json:"term,omitempty"`
	GracePeriodDays int    `json:"grace_period_days,omitempty"`
	StartDate       string `json:"start_date,omitempty"` // RFC 3339; defaults to now
}

// LoanDTO represents a loan in API responses.
type LoanDTO struct {
	ID                     string `json:"id"`
	CustomerID             string `json:"customer_id"`
	Type                   string `json:"type"`
	Principal              string `json:"principal"`
	RemainingBalance       string `json:"remaining_balance"`
	InterestRate           string `json:"interest_rate"`
	PenaltyRate            string `json:"penalty_rate"`
	Frequency              string `json:"frequency"`
	Term                   int    `json:"term,omitempty"`
	GracePeriodDays        int    `json:"grace_period_days,omitempty"`
	Status                 string `json:"status"`
	StartDate              string `json:"start_date"`
	NextDueDate            string `json:"next_due_date,omitempty"`
	RequiresCapitalPayment bool   `json:"requires_capital_payment"`
	CreatedAt              string `json:"created_at,omitempty"`
}

// InstallmentDTO represents one scheduled due payment.
type InstallmentDTO struct {
	ID             string  `json:"id"`
	LoanID         string  `json:"loan_id"`
	Sequence       int     `json:"sequence"`
	DueDate        string  `json:"due_date"`
	CapitalAmount  string  `json:"capital_amount"`
	InterestAmount string  `json:"interest_amount"`
	TotalAmount    string  `json:"total_amount"`
	PaidAmount     string  `json:"paid_amount"`
	IsPaid         bool    `json:"is_paid"`
	PaidAt         *string `json:"paid_at,omitempty"`
	Status         string  `json:"status"`
}

// SubmitPaymentRequest records a collection event against a loan.
type SubmitPaymentRequest struct {
	Amount      string `json:"amount"` // decimal string
	CollectorID string `json:"collector_id,omitempty"`
}

// PaymentResultDTO is the response after applying a payment.
type PaymentResultDTO struct {
	PaymentID         string                    `json:"payment_id"`
	Amount            string                    `json:"amount"`
	AppliedToCapital  string                    `json:"applied_to_capital"`
	AppliedToInterest string                    `json:"applied_to_interest"`
	AppliedToLateFee  string                    `json:"applied_to_late_fee"`
	ExcessAmount      string                    `json:"excess_amount"`
	LoanStatus        string                    `json:"loan_status"`
	Breakdown         []InstallmentBreakdownDTO `json:"breakdown"`
}

// InstallmentBreakdownDTO reports what one installment absorbed.
type InstallmentBreakdownDTO struct {
	InstallmentID string `json:"installment_id"`
	Sequence      int    `json:"sequence"`
	LateFee       string `json:"late_fee"`
	Interest      string `json:"interest"`
	Capital       string `json:"capital"`
}

// PaymentDTO represents a historical payment.
type PaymentDTO struct {
	ID                string `json:"id"`
	LoanID            string `json:"loan_id"`
	CollectorID       string `json:"collector_id,omitempty"`
	Amount            string `json:"amount"`
	AppliedToCapital  string `json:"applied_to_capital"`
	AppliedToInterest string `json:"applied_to_interest"`
	AppliedToLateFee  string `json:"applied_to_late_fee"`
	ExcessAmount      string `json:"excess_amount"`
	CreatedAt         string `json:"created_at"`
}

// AdvanceResultDTO is the response after re-applying positive balances.
type AdvanceResultDTO struct {
	Applied      bool   `json:"applied"`
	Reason       string `json:"reason,omitempty"`
	TotalApplied string `json:"total_applied"`
}

// PositiveBalanceDTO represents a standing overpayment surplus.
type PositiveBalanceDTO struct {
	ID         string `json:"id"`
	LoanID     string `json:"loan_id"`
	CustomerID string `json:"customer_id"`
	Amount     string `json:"amount"`
	UsedAmount string `json:"used_amount"`
	Available  string `json:"available"`
	IsUsed     bool   `json:"is_used"`
	Source     string `json:"source"`
	CreatedAt  string `json:"created_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toLoanDTO(loan *lending.Loan) LoanDTO {
	dto := LoanDTO{
		ID:                     string(loan.ID),
		CustomerID:             loan.CustomerID,
		Type:                   string(loan.Type),
		Principal:              loan.Principal.String(),
		RemainingBalance:       loan.RemainingBalance.String(),
		InterestRate:           loan.InterestRate.String(),
		PenaltyRate:            loan.PenaltyRate.String(),
		Frequency:              string(loan.Frequency),
		Term:                   loan.Term,
		GracePeriodDays:        loan.GracePeriodDays,
		Status:                 string(loan.Status),
		StartDate:              loan.StartDate.Format(time.RFC3339),
		RequiresCapitalPayment: loan.RequiresCapitalPayment,
		CreatedAt:              loan.CreatedAt.Format(time.RFC3339),
	}
	if !loan.NextDueDate.IsZero() {
		dto.NextDueDate = loan.NextDueDate.Format(time.RFC3339)
	}
	return dto
}

func toInstallmentDTO(inst *lending.Installment) InstallmentDTO {
	dto := InstallmentDTO{
		ID:             string(inst.ID),
		LoanID:         string(inst.LoanID),
		Sequence:       inst.Sequence,
		DueDate:        inst.DueDate.Format(time.RFC3339),
		CapitalAmount:  inst.CapitalAmount.String(),
		InterestAmount: inst.InterestAmount.String(),
		TotalAmount:    inst.TotalAmount.String(),
		PaidAmount:     inst.PaidAmount.String(),
		IsPaid:         inst.IsPaid,
		Status:         string(inst.Status),
	}
	if inst.PaidAt != nil {
		s := inst.PaidAt.Format(time.RFC3339)
		dto.PaidAt = &s
	}
	return dto
}

func toInstallmentDTOs(insts []*lending.Installment) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(insts))
	for i, inst := range insts {
		dtos[i] = toInstallmentDTO(inst)
	}
	return dtos
}

func toPaymentDTO(p *lending.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                p.ID,
		LoanID:            string(p.LoanID),
		CollectorID:       p.CollectorID,
		Amount:            p.Amount.String(),
		AppliedToCapital:  p.AppliedToCapital.String(),
		AppliedToInterest: p.AppliedToInterest.String(),
		AppliedToLateFee:  p.AppliedToLateFee.String(),
		ExcessAmount:      p.ExcessAmount.String(),
		CreatedAt:         p.CreatedAt.Format(time.RFC3339),
	}
}

func toPaymentResultDTO(res *allocation.Result) PaymentResultDTO {
	breakdown := make([]InstallmentBreakdownDTO, len(res.Breakdown))
	for i, b := range res.Breakdown {
		breakdown[i] = InstallmentBreakdownDTO{
			InstallmentID: string(b.InstallmentID),
			Sequence:      b.Sequence,
			LateFee:       b.LateFee.String(),
			Interest:      b.Interest.String(),
			Capital:       b.Capital.String(),
		}
	}
	return PaymentResultDTO{
		PaymentID:         res.Payment.ID,
		Amount:            res.Payment.Amount.String(),
		AppliedToCapital:  res.Payment.AppliedToCapital.String(),
		AppliedToInterest: res.Payment.AppliedToInterest.String(),
		AppliedToLateFee:  res.Payment.AppliedToLateFee.String(),
		ExcessAmount:      res.Excess.String(),
		LoanStatus:        string(res.LoanStatus),
		Breakdown:         breakdown,
	}
}

func toPositiveBalanceDTO(b *lending.PositiveBalance) PositiveBalanceDTO {
	return PositiveBalanceDTO{
		ID:         b.ID,
		LoanID:     string(b.LoanID),
		CustomerID: b.CustomerID,
		Amount:     b.Amount.String(),
		UsedAmount: b.UsedAmount.String(),
		Available:  b.Available().String(),
		IsUsed:     b.IsUsed,
		Source:     b.Source,
		CreatedAt:  b.CreatedAt.Format(time.RFC3339),
	}
}

/*
handlers.go - HTTP API handlers for the lending engine

PURPOSE:
  Exposes loan origination, installment consultation, payment collection
  and advance application via REST API. Handles HTTP request/response and
  JSON serialization, then delegates to the domain workers.

ENDPOINTS:
  Loans:
    POST   /api/loans                         Originate a loan (creates installment #1)
    GET    /api/loans/{id}                    Loan details
    GET    /api/loans/{id}/installments       Installment schedule
    GET    /api/loans/{id}/payments           Payment history
    GET    /api/loans/{id}/positive-balances  Standing overpayment surpluses
    POST   /api/loans/{id}/payments           Apply a collection (waterfall)
    POST   /api/loans/{id}/advances           Re-apply positive balances

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (generator, allocation engine, store)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation and configuration errors, invalid input
  - 404: Loan not found
  - 409: Inactive loan, duplicate sequence
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/allocation"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/generator"
	"github.com/D-C-Comunicaciones/mi-gestor-backend-sub001/lending"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     lending.TxStore
	Generator *generator.Generator
	Engine    *allocation.Engine
}

// NewHandler creates a new handler wired to the given workers.
func NewHandler(store lending.TxStore, gen *generator.Generator, engine *allocation.Engine) *Handler {
	return &Handler{Store: store, Generator: gen, Engine: engine}
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// CreateLoan originates a loan and synchronously creates its first
// installment, which also schedules the generation and overdue triggers.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loan, err := h.buildLoan(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid loan", err)
		return
	}

	// Strategy validation before the loan row exists, so a misconfigured
	// request never leaves an orphan loan behind.
	strategy, err := lending.StrategyFor(loan.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid loan", err)
		return
	}
	if err := strategy.Validate(loan); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid loan", err)
		return
	}

	if err := h.Store.CreateLoan(r.Context(), loan); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create loan", err)
		return
	}

	if _, err := h.Generator.CreateFirst(r.Context(), loan.ID); err != nil {
		// The loan row committed in its own transaction; compensate so a
		// failed origination leaves nothing behind for CreateNext to trip on.
		if delErr := h.Store.DeleteLoan(r.Context(), loan.ID); delErr != nil {
			log.Printf("[API] Loan %s: failed to remove after installment creation failed: %v", loan.ID, delErr)
		}
		writeDomainError(w, "Failed to create first installment", err)
		return
	}

	created, err := h.Store.GetLoan(r.Context(), loan.ID)
	if err != nil {
		writeDomainError(w, "Failed to reload loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLoanDTO(created))
}

func (h *Handler) buildLoan(req CreateLoanRequest) (*lending.Loan, error) {
	principal, err := decimal.NewFromString(req.Principal)
	if err != nil || !principal.IsPositive() {
		return nil, lending.ErrInvalidAmount
	}
	interestRate, err := decimal.NewFromString(req.InterestRate)
	if err != nil {
		return nil, &lending.RateError{Field: "interest rate", Value: decimal.Zero}
	}
	penaltyRate, err := decimal.NewFromString(req.PenaltyRate)
	if err != nil {
		return nil, &lending.RateError{Field: "penalty rate", Value: decimal.Zero}
	}

	frequency := lending.PaymentFrequency(req.Frequency)
	if !frequency.Valid() {
		return nil, errors.New("unknown payment frequency: " + req.Frequency)
	}

	startDate := time.Now()
	if req.StartDate != "" {
		startDate, err = time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			return nil, errors.New("start_date must be RFC 3339")
		}
	}

	now := time.Now()
	return &lending.Loan{
		ID:               lending.LoanID(uuid.New().String()),
		CustomerID:       req.CustomerID,
		Type:             lending.LoanType(req.Type),
		Principal:        principal,
		RemainingBalance: principal,
		InterestRate:     interestRate,
		PenaltyRate:      penaltyRate,
		Frequency:        frequency,
		Term:             req.Term,
		GracePeriodDays:  req.GracePeriodDays,
		Status:           lending.LoanUpToDate,
		StartDate:        startDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// GetLoan returns a single loan.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.Store.GetLoan(r.Context(), lending.LoanID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(loan))
}

// ListInstallments returns the loan's installment schedule in sequence order.
func (h *Handler) ListInstallments(w http.ResponseWriter, r *http.Request) {
	loanID := lending.LoanID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetLoan(r.Context(), loanID); err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}

	insts, err := h.Store.InstallmentsByLoan(r.Context(), loanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list installments", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTOs(insts))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// SubmitPayment applies a collection event to the loan under the
// moratory -> interest -> capital waterfall.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	loanID := lending.LoanID(chi.URLParam(r, "id"))

	var req SubmitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	res, err := h.Engine.AllocatePayment(r.Context(), loanID, amount, req.CollectorID)
	if err != nil {
		writeDomainError(w, "Failed to apply payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResultDTO(res))
}

// ListPayments returns the loan's payment history.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	loanID := lending.LoanID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetLoan(r.Context(), loanID); err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}

	payments, err := h.Store.PaymentsByLoan(r.Context(), loanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApplyAdvance re-applies the loan's standing positive balances to its
// pending installments.
func (h *Handler) ApplyAdvance(w http.ResponseWriter, r *http.Request) {
	loanID := lending.LoanID(chi.URLParam(r, "id"))

	res, err := h.Engine.ApplyAdvance(r.Context(), loanID)
	if err != nil {
		writeDomainError(w, "Failed to apply advance", err)
		return
	}
	writeJSON(w, http.StatusOK, AdvanceResultDTO{
		Applied:      res.Applied,
		Reason:       res.Reason,
		TotalApplied: res.TotalApplied.String(),
	})
}

// ListPositiveBalances returns all positive balances for a loan, used and
// open.
func (h *Handler) ListPositiveBalances(w http.ResponseWriter, r *http.Request) {
	loanID := lending.LoanID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetLoan(r.Context(), loanID); err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}

	balances, err := h.Store.PositiveBalancesByLoan(r.Context(), loanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list positive balances", err)
		return
	}
	dtos := make([]PositiveBalanceDTO, len(balances))
	for i, b := range balances {
		dtos[i] = toPositiveBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain error categories onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case lending.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, lending.ErrLoanInactive),
		errors.Is(err, lending.ErrDuplicateSequence):
		status = http.StatusConflict
	case lending.IsValidationError(err), lending.IsConfigError(err):
		status = http.StatusBadRequest
	}
	writeError(w, status, message, err)
}

package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcclellann/carloan/pkg/amortization"
	"github.com/mcclellann/carloan/pkg/ledger"
	"github.com/mcclellann/carloan/pkg/lifecycle"
	"github.com/mcclellann/carloan/pkg/store"
	"github.com/rs/zerolog/log"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Error types
const (
	ErrorTypeValidation  = "https://carloan.dev/errors/validation"
	ErrorTypeNotFound    = "https://carloan.dev/errors/not-found"
	ErrorTypeConflict    = "https://carloan.dev/errors/conflict"
	ErrorTypeCalculation = "https://carloan.dev/errors/calculation"
	ErrorTypeRateLimit   = "https://carloan.dev/errors/rate-limit"
	ErrorTypeInternal    = "https://carloan.dev/errors/internal"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, typ, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ProblemDetails{
		Type:     typ,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, ErrorTypeValidation, "Validation Error", detail)
}

// writeError maps a domain error onto its HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, ErrorTypeNotFound, "Not Found", err.Error())
	case errors.Is(err, ledger.ErrInvalidTerms),
		errors.Is(err, ledger.ErrInvalidRecord),
		errors.Is(err, ledger.ErrInvalidStatus),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingPaymentDate):
		badRequest(w, r, err.Error())
	case errors.Is(err, ledger.ErrLoanNotActive),
		errors.Is(err, ledger.ErrNoUnpaidPeriods),
		errors.Is(err, ledger.ErrPeriodAlreadyPaid),
		errors.Is(err, lifecycle.ErrTerminalStatus),
		errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, lifecycle.ErrLoanHasPayments),
		errors.Is(err, store.ErrConflict):
		writeProblem(w, r, http.StatusConflict, ErrorTypeConflict, "Conflict", err.Error())
	case errors.Is(err, ledger.ErrPeriodNotFound),
		errors.Is(err, amortization.ErrIterationCap),
		errors.Is(err, amortization.ErrReconciliation):
		writeProblem(w, r, http.StatusUnprocessableEntity, ErrorTypeCalculation, "Unprocessable Entity", err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Unhandled error")
		writeProblem(w, r, http.StatusInternalServerError, ErrorTypeInternal, "Internal Server Error", "internal error")
	}
}

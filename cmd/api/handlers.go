package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/carloan/pkg/amortization"
	"github.com/mcclellann/carloan/pkg/ledger"
	"github.com/mcclellann/carloan/pkg/models"
	"github.com/shopspring/decimal"
)

// Server holds the ledger instance.
type Server struct {
	ledger *ledger.Ledger
	now    func() time.Time
}

func NewServer(l *ledger.Ledger) *Server {
	return &Server{
		ledger: l,
		now:    time.Now,
	}
}

const dateLayout = "2006-01-02"

// parseDate accepts a calendar date or an RFC 3339 timestamp. Empty input
// gives the zero time.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		badRequest(w, r, "Invalid "+name+" ID")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, r, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) createCustomerHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateCustomerRequest
	if !decode(w, r, &req) {
		return
	}
	customer, err := s.ledger.CreateCustomer(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, customer)
}

func (s *Server) getCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customer")
	if !ok {
		return
	}
	customer, err := s.ledger.GetCustomer(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (s *Server) createCarHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateCarRequest
	if !decode(w, r, &req) {
		return
	}
	car, err := s.ledger.CreateCar(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, car)
}

func (s *Server) getCarHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "car")
	if !ok {
		return
	}
	car, err := s.ledger.GetCar(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}

type createLoanBody struct {
	CustomerID   *uuid.UUID       `json:"customer_id"`
	CarID        *uuid.UUID       `json:"car_id"`
	Principal    decimal.Decimal  `json:"principal"`
	AnnualRate   *decimal.Decimal `json:"annual_rate"` // Percent, 6 for 6%
	TermMonths   int              `json:"term_months"`
	Compounding  string           `json:"compounding"`
	StartDate    string           `json:"start_date"`
	ExtraPayment decimal.Decimal  `json:"extra_payment"`
	PenaltyType  string           `json:"penalty_type"`
	PenaltyRate  *decimal.Decimal `json:"penalty_rate"`
	GraceDays    *int             `json:"grace_days"`
}

type loanResponse struct {
	Loan     *models.Loan           `json:"loan"`
	Schedule []models.ScheduleEntry `json:"schedule"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var body createLoanBody
	if !decode(w, r, &body) {
		return
	}
	start, err := parseDate(body.StartDate)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	loan, schedule, err := s.ledger.CreateLoan(ledger.CreateLoanRequest{
		CustomerID:        body.CustomerID,
		CarID:             body.CarID,
		Principal:         body.Principal,
		AnnualRatePercent: body.AnnualRate,
		TermMonths:        body.TermMonths,
		Compounding:       body.Compounding,
		StartDate:         start,
		ExtraPayment:      body.ExtraPayment,
		PenaltyType:       body.PenaltyType,
		PenaltyRate:       body.PenaltyRate,
		GraceDays:         body.GraceDays,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loanResponse{Loan: loan, Schedule: schedule})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) getLoanDetailsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	details, err := s.ledger.GetLoanWithDetails(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	if err := s.ledger.DeleteLoan(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) totalOutstandingHandler(w http.ResponseWriter, r *http.Request) {
	total, err := s.ledger.TotalOutstanding()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"total_outstanding": total})
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	schedule, err := s.ledger.GetSchedule(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if schedule == nil {
		schedule = []models.ScheduleEntry{}
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) regenerateScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	var body struct {
		ExtraPayment decimal.Decimal `json:"extra_payment"`
	}
	if !decode(w, r, &body) {
		return
	}
	loan, schedule, err := s.ledger.RegenerateSchedule(id, body.ExtraPayment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanResponse{Loan: loan, Schedule: schedule})
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	payments, err := s.ledger.GetPayments(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) applyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	var body struct {
		Amount      decimal.Decimal `json:"amount"`
		PaymentDate string          `json:"payment_date"`
		Type        string          `json:"type"`
		Period      *int            `json:"period"`
		Notes       string          `json:"notes"`
	}
	if !decode(w, r, &body) {
		return
	}
	date, err := parseDate(body.PaymentDate)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	result, err := s.ledger.ApplyPayment(id, ledger.PaymentRequest{
		Amount: body.Amount,
		Date:   date,
		Type:   body.Type,
		Period: body.Period,
		Notes:  body.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	observePayment(result)
	writeJSON(w, http.StatusCreated, result)
}

// asOf reads the optional as_of query parameter, defaulting to today.
func (s *Server) asOf(r *http.Request) (time.Time, error) {
	t, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		return time.Time{}, err
	}
	if t.IsZero() {
		return s.now().UTC(), nil
	}
	return t, nil
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	today, err := s.asOf(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	summary, err := s.ledger.Summary(id, today)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) changeStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	loan, err := s.ledger.ChangeStatus(id, body.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) estimateHandler(w http.ResponseWriter, r *http.Request) {
	var in amortization.EstimateInput
	if !decode(w, r, &in) {
		return
	}
	result, err := s.ledger.Estimate(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Router registers every route. /loans/outstanding must precede /loans/{id}.
func (s *Server) Router(middlewares ...mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()
	router.Use(middlewares...)

	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.Handle("/metrics", metricsHandler()).Methods("GET")

	router.HandleFunc("/customers", s.createCustomerHandler).Methods("POST")
	router.HandleFunc("/customers/{id}", s.getCustomerHandler).Methods("GET")
	router.HandleFunc("/cars", s.createCarHandler).Methods("POST")
	router.HandleFunc("/cars/{id}", s.getCarHandler).Methods("GET")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/outstanding", s.totalOutstandingHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/details", s.getLoanDetailsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule", s.getScheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule", s.regenerateScheduleHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.applyPaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/summary", s.summaryHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/status", s.changeStatusHandler).Methods("POST")

	router.HandleFunc("/estimates", s.estimateHandler).Methods("POST")

	return router
}

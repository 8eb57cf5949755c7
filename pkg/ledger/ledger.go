package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/carloan/pkg/amortization"
	"github.com/mcclellann/carloan/pkg/cache"
	"github.com/mcclellann/carloan/pkg/lifecycle"
	"github.com/mcclellann/carloan/pkg/models"
	"github.com/mcclellann/carloan/pkg/money"
	"github.com/mcclellann/carloan/pkg/penalty"
	"github.com/mcclellann/carloan/pkg/rates"
	"github.com/mcclellann/carloan/pkg/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Defaults are the origination terms applied when a request leaves them out.
type Defaults struct {
	AnnualRatePercent decimal.Decimal
	Compounding       rates.Compounding
	Penalty           penalty.Policy
}

// Ledger handles the business logic for customers, cars, loans, their
// schedules and payments.
type Ledger struct {
	storage  store.Storage
	defaults Defaults
	log      zerolog.Logger
	now      func() time.Time
	locks    *loanLocks

	cache    cache.Cache
	cacheTTL time.Duration
}

// Option configures optional Ledger collaborators.
type Option func(*Ledger)

// WithCache caches quick estimates in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(l *Ledger) {
		l.cache = c
		l.cacheTTL = ttl
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, defaults Defaults, logger zerolog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		storage:  s,
		defaults: defaults,
		log:      logger,
		now:      time.Now,
		locks:    newLoanLocks(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type CreateCustomerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// CreateCustomer stores a new customer record.
func (l *Ledger) CreateCustomer(req CreateCustomerRequest) (*models.Customer, error) {
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		return nil, fmt.Errorf("%w: full_name is required", ErrInvalidRecord)
	}
	c := &models.Customer{
		ID:        uuid.New(),
		FullName:  name,
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: l.now().UTC(),
	}
	if err := l.storage.CreateCustomer(c); err != nil {
		return nil, fmt.Errorf("failed to store customer: %w", err)
	}
	return c, nil
}

func (l *Ledger) GetCustomer(id uuid.UUID) (*models.Customer, error) {
	return l.storage.GetCustomer(id)
}

type CreateCarRequest struct {
	VIN   string          `json:"vin"`
	Make  string          `json:"make"`
	Model string          `json:"model"`
	Year  int             `json:"year"`
	Price decimal.Decimal `json:"price"`
}

// CreateCar stores a new car record. VIN, make and model are required.
func (l *Ledger) CreateCar(req CreateCarRequest) (*models.Car, error) {
	vin := strings.ToUpper(strings.TrimSpace(req.VIN))
	switch {
	case vin == "":
		return nil, fmt.Errorf("%w: vin is required", ErrInvalidRecord)
	case strings.TrimSpace(req.Make) == "" || strings.TrimSpace(req.Model) == "":
		return nil, fmt.Errorf("%w: make and model are required", ErrInvalidRecord)
	case req.Year <= 0:
		return nil, fmt.Errorf("%w: year must be positive", ErrInvalidRecord)
	case req.Price.IsNegative():
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidRecord)
	}
	c := &models.Car{
		ID:        uuid.New(),
		VIN:       vin,
		Make:      strings.TrimSpace(req.Make),
		Model:     strings.TrimSpace(req.Model),
		Year:      req.Year,
		Price:     req.Price,
		CreatedAt: l.now().UTC(),
	}
	if err := l.storage.CreateCar(c); err != nil {
		return nil, fmt.Errorf("failed to store car: %w", err)
	}
	return c, nil
}

func (l *Ledger) GetCar(id uuid.UUID) (*models.Car, error) {
	return l.storage.GetCar(id)
}

// CreateLoanRequest carries origination terms. Nil or empty fields take the
// ledger defaults. AnnualRatePercent is nominal, 6 for 6%.
type CreateLoanRequest struct {
	CustomerID        *uuid.UUID       `json:"customer_id,omitempty"`
	CarID             *uuid.UUID       `json:"car_id,omitempty"`
	Principal         decimal.Decimal  `json:"principal"`
	AnnualRatePercent *decimal.Decimal `json:"annual_rate,omitempty"`
	TermMonths        int              `json:"term_months"`
	Compounding       string           `json:"compounding,omitempty"`
	StartDate         time.Time        `json:"start_date"`
	ExtraPayment      decimal.Decimal  `json:"extra_payment"`
	PenaltyType       string           `json:"penalty_type,omitempty"`
	PenaltyRate       *decimal.Decimal `json:"penalty_rate,omitempty"`
	GraceDays         *int             `json:"grace_days,omitempty"`
}

func (l *Ledger) resolveTerms(req CreateLoanRequest) (decimal.Decimal, rates.Compounding, penalty.Policy, error) {
	ratePct := l.defaults.AnnualRatePercent
	if req.AnnualRatePercent != nil {
		ratePct = *req.AnnualRatePercent
	}
	compounding := l.defaults.Compounding
	if strings.TrimSpace(req.Compounding) != "" {
		compounding = rates.ParseCompounding(req.Compounding)
	}
	policy := l.defaults.Penalty
	if strings.TrimSpace(req.PenaltyType) != "" {
		policy.Type = penalty.ParseType(req.PenaltyType)
	}
	if req.PenaltyRate != nil {
		policy.Rate = *req.PenaltyRate
	}
	if req.GraceDays != nil {
		policy.GraceDays = *req.GraceDays
	}

	switch {
	case req.Principal.Sign() <= 0:
		return decimal.Zero, "", penalty.Policy{}, fmt.Errorf("%w: principal must be positive", ErrInvalidTerms)
	case req.TermMonths <= 0:
		return decimal.Zero, "", penalty.Policy{}, fmt.Errorf("%w: term_months must be positive", ErrInvalidTerms)
	case req.TermMonths > amortization.MaxTermMonths:
		return decimal.Zero, "", penalty.Policy{}, fmt.Errorf("%w: term_months must not exceed %d", ErrInvalidTerms, amortization.MaxTermMonths)
	case ratePct.IsNegative():
		return decimal.Zero, "", penalty.Policy{}, fmt.Errorf("%w: annual_rate must not be negative", ErrInvalidTerms)
	case req.ExtraPayment.IsNegative():
		return decimal.Zero, "", penalty.Policy{}, fmt.Errorf("%w: extra_payment must not be negative", ErrInvalidTerms)
	case policy.Rate.IsNegative():
		return decimal.Zero, "", penalty.Policy{}, fmt.Errorf("%w: penalty_rate must not be negative", ErrInvalidTerms)
	case policy.GraceDays < 0:
		return decimal.Zero, "", penalty.Policy{}, fmt.Errorf("%w: grace_days must not be negative", ErrInvalidTerms)
	}
	if compounding == "" {
		compounding = rates.CompoundingMonthly
	}
	if policy.Type == "" {
		policy.Type = penalty.PercentPerMonth
	}
	return money.FromPercent(ratePct), compounding, policy, nil
}

// CreateLoan validates the terms, generates the schedule and stores both.
// The loan starts active with its totals cached from the schedule.
func (l *Ledger) CreateLoan(req CreateLoanRequest) (*models.Loan, []models.ScheduleEntry, error) {
	annualRate, compounding, policy, err := l.resolveTerms(req)
	if err != nil {
		return nil, nil, err
	}

	if req.CustomerID != nil {
		if _, err := l.storage.GetCustomer(*req.CustomerID); err != nil {
			return nil, nil, err
		}
	}
	if req.CarID != nil {
		if _, err := l.storage.GetCar(*req.CarID); err != nil {
			return nil, nil, err
		}
	}

	now := l.now().UTC()
	start := req.StartDate
	if start.IsZero() {
		start = dateOf(now)
	}

	loan := &models.Loan{
		ID:           uuid.New(),
		CustomerID:   req.CustomerID,
		CarID:        req.CarID,
		Principal:    req.Principal,
		AnnualRate:   annualRate,
		MonthlyRate:  rates.EffectiveMonthlyRate(annualRate, compounding),
		TermMonths:   req.TermMonths,
		Compounding:  compounding.String(),
		StartDate:    start,
		ExtraPayment: req.ExtraPayment,
		Penalty:      policy.ToModel(),
		Status:       models.LoanStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	schedule, err := l.generate(loan)
	if err != nil {
		return nil, nil, err
	}

	if err := l.storage.CreateLoan(loan, schedule); err != nil {
		return nil, nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.log.Info().
		Str("loan_id", loan.ID.String()).
		Str("principal", loan.Principal.StringFixed(2)).
		Str("annual_rate_percent", money.ToPercent(loan.AnnualRate).String()).
		Int("term_months", loan.TermMonths).
		Str("monthly_payment", loan.MonthlyPayment.StringFixed(2)).
		Msg("Loan originated")

	return loan, schedule, nil
}

// generate builds loan's schedule from its terms and caches the totals on loan.
func (l *Ledger) generate(loan *models.Loan) ([]models.ScheduleEntry, error) {
	schedule, err := amortization.Generate(amortization.Request{
		LoanID:       loan.ID,
		Principal:    loan.Principal,
		MonthlyRate:  loan.MonthlyRate,
		TermMonths:   loan.TermMonths,
		StartDate:    loan.StartDate,
		ExtraPayment: loan.ExtraPayment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate schedule: %w", err)
	}
	if len(schedule) == 0 {
		return nil, fmt.Errorf("%w: schedule is empty", ErrInvalidTerms)
	}

	totals := amortization.Summarize(schedule)
	loan.MonthlyPayment = totals.MonthlyPayment
	loan.TotalInterest = totals.TotalInterest
	loan.TotalAmount = totals.TotalAmount
	return schedule, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// GetLoanWithDetails retrieves a loan joined with its customer and car.
func (l *Ledger) GetLoanWithDetails(id uuid.UUID) (*models.LoanDetails, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	details := &models.LoanDetails{Loan: loan}
	if loan.CustomerID != nil {
		if details.Customer, err = l.storage.GetCustomer(*loan.CustomerID); err != nil {
			return nil, err
		}
	}
	if loan.CarID != nil {
		if details.Car, err = l.storage.GetCar(*loan.CarID); err != nil {
			return nil, err
		}
	}
	return details, nil
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// GetSchedule returns the loan's schedule ordered by period.
func (l *Ledger) GetSchedule(id uuid.UUID) ([]models.ScheduleEntry, error) {
	if _, err := l.storage.GetLoan(id); err != nil {
		return nil, err
	}
	return l.storage.GetSchedule(id)
}

// GetPayments returns the loan's payments in payment order.
func (l *Ledger) GetPayments(id uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.storage.GetLoan(id); err != nil {
		return nil, err
	}
	return l.storage.GetPaymentsForLoan(id)
}

// RegenerateSchedule rebuilds the schedule of an active loan with a new
// extra payment. It is refused once any payment has been recorded.
func (l *Ledger) RegenerateSchedule(id uuid.UUID, extraPayment decimal.Decimal) (*models.Loan, []models.ScheduleEntry, error) {
	if extraPayment.IsNegative() {
		return nil, nil, fmt.Errorf("%w: extra_payment must not be negative", ErrInvalidTerms)
	}

	unlock := l.locks.lock(id)
	defer unlock()

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, nil, fmt.Errorf("%w: status %s", ErrLoanNotActive, loan.Status)
	}
	payments, err := l.storage.GetPaymentsForLoan(id)
	if err != nil {
		return nil, nil, err
	}
	if err := lifecycle.CanDelete(len(payments)); err != nil {
		return nil, nil, err
	}

	loan.ExtraPayment = extraPayment
	schedule, err := l.generate(loan)
	if err != nil {
		return nil, nil, err
	}
	loan.UpdatedAt = l.now().UTC()

	if err := l.storage.ReplaceSchedule(loan, schedule); err != nil {
		return nil, nil, fmt.Errorf("failed to replace schedule: %w", err)
	}

	l.log.Info().
		Str("loan_id", loan.ID.String()).
		Str("extra_payment", extraPayment.StringFixed(2)).
		Int("periods", len(schedule)).
		Msg("Schedule regenerated")

	return loan, schedule, nil
}

// DeleteLoan deletes a loan and its schedule. Loans with payments are kept.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	unlock := l.locks.lock(id)
	defer unlock()

	if _, err := l.storage.GetLoan(id); err != nil {
		return err
	}
	payments, err := l.storage.GetPaymentsForLoan(id)
	if err != nil {
		return err
	}
	if err := lifecycle.CanDelete(len(payments)); err != nil {
		return err
	}
	if err := l.storage.DeleteLoan(id); err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}

	l.log.Info().Str("loan_id", id.String()).Msg("Loan deleted")
	return nil
}

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Car struct {
	ID        uuid.UUID       `json:"id"`
	VIN       string          `json:"vin"`
	Make      string          `json:"make"`
	Model     string          `json:"model"`
	Year      int             `json:"year"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusClosed    LoanStatus = "closed"
	LoanStatusPaidOff   LoanStatus = "paid_off"
	LoanStatusDefaulted LoanStatus = "defaulted"
	LoanStatusArchived  LoanStatus = "archived"
)

var loanStatuses = map[string]LoanStatus{
	string(LoanStatusActive):    LoanStatusActive,
	string(LoanStatusClosed):    LoanStatusClosed,
	string(LoanStatusPaidOff):   LoanStatusPaidOff,
	string(LoanStatusDefaulted): LoanStatusDefaulted,
	string(LoanStatusArchived):  LoanStatusArchived,
}

// ParseLoanStatus rejects anything that is not a known status; a typo must
// never become a new lifecycle state.
func ParseLoanStatus(s string) (LoanStatus, error) {
	st, ok := loanStatuses[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("invalid loan status %q", s)
	}
	return st, nil
}

// IsTerminal reports whether no further transition is allowed.
func (s LoanStatus) IsTerminal() bool {
	return s != LoanStatusActive
}

// PenaltyPolicy is stored on the loan as plain strings and numbers; the
// penalty package interprets it.
type PenaltyPolicy struct {
	Type      string          `json:"type"`
	Rate      decimal.Decimal `json:"rate"`
	GraceDays int             `json:"grace_days"`
}

type Loan struct {
	ID           uuid.UUID       `json:"id"`
	CustomerID   *uuid.UUID      `json:"customer_id,omitempty"`
	CarID        *uuid.UUID      `json:"car_id,omitempty"`
	Principal    decimal.Decimal `json:"principal"`
	AnnualRate   decimal.Decimal `json:"annual_rate"` // Nominal, as a fraction (0.06 = 6%)
	MonthlyRate  decimal.Decimal `json:"monthly_rate"`
	TermMonths   int             `json:"term_months"`
	Compounding  string          `json:"compounding"`
	StartDate    time.Time       `json:"start_date"`
	ExtraPayment decimal.Decimal `json:"extra_payment"`
	Penalty      PenaltyPolicy   `json:"penalty"`
	Status       LoanStatus      `json:"status"`

	// Cached from the schedule at origination or regeneration.
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
	TotalAmount    decimal.Decimal `json:"total_amount"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// LoanDetails is a loan joined with its customer and car. Either reference
// may be nil when the loan was originated without it.
type LoanDetails struct {
	Loan     *Loan     `json:"loan"`
	Customer *Customer `json:"customer,omitempty"`
	Car      *Car      `json:"car,omitempty"`
}

type ScheduleEntry struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	Period           int             `json:"period"`
	DueDate          time.Time       `json:"due_date"`
	OpeningBalance   decimal.Decimal `json:"opening_balance"`
	ScheduledPayment decimal.Decimal `json:"scheduled_payment"`
	PrincipalPortion decimal.Decimal `json:"principal_portion"` // Includes ExtraPayment
	InterestPortion  decimal.Decimal `json:"interest_portion"`
	PenaltyAmount    decimal.Decimal `json:"penalty_amount"`
	ExtraPayment     decimal.Decimal `json:"extra_payment"`
	ClosingBalance   decimal.Decimal `json:"closing_balance"`
	Paid             bool            `json:"paid"`
	PaidDate         *time.Time      `json:"paid_date,omitempty"`
}

type PaymentType string

const (
	PaymentTypeRegular     PaymentType = "regular"
	PaymentTypePartial     PaymentType = "partial"
	PaymentTypeAdvance     PaymentType = "advance"
	PaymentTypeLate        PaymentType = "late"
	PaymentTypeFull        PaymentType = "full"
	PaymentTypeExtra       PaymentType = "extra"
	PaymentTypeEarlyPayoff PaymentType = "early_payoff"
	PaymentTypePenaltyOnly PaymentType = "penalty_only"
)

var paymentTypes = map[string]PaymentType{
	string(PaymentTypeRegular):     PaymentTypeRegular,
	string(PaymentTypePartial):     PaymentTypePartial,
	string(PaymentTypeAdvance):     PaymentTypeAdvance,
	string(PaymentTypeLate):        PaymentTypeLate,
	string(PaymentTypeFull):        PaymentTypeFull,
	string(PaymentTypeExtra):       PaymentTypeExtra,
	string(PaymentTypeEarlyPayoff): PaymentTypeEarlyPayoff,
	string(PaymentTypePenaltyOnly): PaymentTypePenaltyOnly,
}

// ParsePaymentType maps a tag to a PaymentType. Unknown tags are regular.
func ParsePaymentType(s string) PaymentType {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if pt, ok := paymentTypes[key]; ok {
		return pt
	}
	return PaymentTypeRegular
}

type Payment struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	ScheduleEntryID  *uuid.UUID      `json:"schedule_entry_id,omitempty"`
	Period           *int            `json:"period,omitempty"`
	PaymentDate      time.Time       `json:"payment_date"`
	Amount           decimal.Decimal `json:"amount"`
	PenaltyApplied   decimal.Decimal `json:"penalty_applied"`
	PrincipalApplied decimal.Decimal `json:"principal_applied"`
	InterestApplied  decimal.Decimal `json:"interest_applied"`
	Type             PaymentType     `json:"type"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

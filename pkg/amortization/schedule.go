package amortization

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/carloan/pkg/models"
	"github.com/mcclellann/carloan/pkg/money"
	"github.com/shopspring/decimal"
)

var (
	ErrIterationCap   = errors.New("amortization: iteration cap exceeded")
	ErrReconciliation = errors.New("amortization: final balance did not reconcile to zero")
)

// MaxTermMonths bounds the term of any schedule or estimate.
const MaxTermMonths = 600

var one = decimal.NewFromInt(1)

// DueDate returns the date months calendar months after start. The day is
// clamped to the last day of the target month, so a Jan 31 start falls due
// on Feb 29 in a leap year.
func DueDate(start time.Time, months int) time.Time {
	y, m, day := start.Date()
	first := time.Date(y, m+time.Month(months), 1, start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// Request describes the loan terms a schedule is generated from.
type Request struct {
	LoanID       uuid.UUID
	Principal    decimal.Decimal
	MonthlyRate  decimal.Decimal
	TermMonths   int
	StartDate    time.Time
	ExtraPayment decimal.Decimal
}

// Totals are the figures a loan caches from its schedule.
type Totals struct {
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

// LevelPayment returns the fixed periodic payment, rounded to cents:
//
//	payment = P * r(1+r)^n / ((1+r)^n - 1)
//
// or P/n when the rate is zero.
func LevelPayment(principal, monthlyRate decimal.Decimal, termMonths int) decimal.Decimal {
	if termMonths <= 0 || principal.Sign() <= 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(termMonths))
	if monthlyRate.IsZero() {
		return money.Round2(principal.Div(n))
	}
	factor := one.Add(monthlyRate).Pow(n)
	return money.Round2(principal.Mul(monthlyRate).Mul(factor).Div(factor.Sub(one)))
}

// Generate builds the payment schedule for req. Invalid terms (non-positive
// principal, a term outside 1..MaxTermMonths, negative rate) produce an empty
// schedule and no error; callers must check for it.
//
// The last period, or any period whose principal would reach the remaining
// balance, is reconciled so the closing balance is exactly zero. With an
// extra payment the schedule may finish before TermMonths.
func Generate(req Request) ([]models.ScheduleEntry, error) {
	if req.Principal.Sign() <= 0 || req.TermMonths <= 0 || req.TermMonths > MaxTermMonths || req.MonthlyRate.IsNegative() {
		return nil, nil
	}

	payment := LevelPayment(req.Principal, req.MonthlyRate, req.TermMonths)
	extra := money.ClampZero(req.ExtraPayment)
	limit := 2 * req.TermMonths

	var entries []models.ScheduleEntry
	balance := req.Principal

	for period := 1; balance.IsPositive(); period++ {
		if period > limit {
			return nil, fmt.Errorf("%w: %d periods for a %d month term", ErrIterationCap, period-1, req.TermMonths)
		}

		opening := balance
		interest := money.Round2(balance.Mul(req.MonthlyRate))
		scheduled := payment.Sub(interest)
		periodExtra := extra

		var principal decimal.Decimal
		final := period == req.TermMonths || scheduled.Add(periodExtra).GreaterThanOrEqual(balance.Sub(money.Cent))
		if final {
			if periodExtra.IsPositive() {
				periodExtra = money.ClampZero(decimal.Min(periodExtra, balance.Sub(scheduled)))
			}
			principal = balance
		} else {
			principal = scheduled.Add(periodExtra)
		}

		balance = money.ClampZero(opening.Sub(principal))

		entries = append(entries, models.ScheduleEntry{
			ID:               uuid.New(),
			LoanID:           req.LoanID,
			Period:           period,
			DueDate:          DueDate(req.StartDate, period),
			OpeningBalance:   opening,
			ScheduledPayment: principal.Add(interest),
			PrincipalPortion: principal,
			InterestPortion:  interest,
			PenaltyAmount:    decimal.Zero,
			ExtraPayment:     periodExtra,
			ClosingBalance:   balance,
		})

		if final {
			break
		}
	}

	if last := entries[len(entries)-1]; !last.ClosingBalance.IsZero() {
		return nil, fmt.Errorf("%w: period %d closes at %s", ErrReconciliation, last.Period, last.ClosingBalance)
	}
	return entries, nil
}

// Summarize computes the totals a loan caches from its schedule.
func Summarize(entries []models.ScheduleEntry) Totals {
	t := Totals{
		MonthlyPayment: decimal.Zero,
		TotalInterest:  decimal.Zero,
		TotalAmount:    decimal.Zero,
	}
	if len(entries) == 0 {
		return t
	}
	t.MonthlyPayment = entries[0].ScheduledPayment
	for _, e := range entries {
		t.TotalInterest = t.TotalInterest.Add(e.InterestPortion)
		t.TotalAmount = t.TotalAmount.Add(e.ScheduledPayment)
	}
	return t
}

package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/carloan/pkg/lifecycle"
	"github.com/mcclellann/carloan/pkg/models"
	"github.com/mcclellann/carloan/pkg/money"
	"github.com/mcclellann/carloan/pkg/penalty"
	"github.com/shopspring/decimal"
)

// PaymentRequest is a payment event against a loan. Type and Period are
// optional: without a type the payment is classified, without a period it
// settles the earliest unpaid one.
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"payment_date"`
	Type   string          `json:"type,omitempty"`
	Period *int            `json:"period,omitempty"`
	Notes  string          `json:"notes,omitempty"`
}

type ApplyResult struct {
	Payment     *models.Payment       `json:"payment"`
	Entry       *models.ScheduleEntry `json:"entry"`
	TotalPaid   decimal.Decimal       `json:"total_paid"`
	Outstanding decimal.Decimal       `json:"outstanding"`
	Closed      bool                  `json:"closed"`
}

// ApplyPayment records a payment against the loan's target period, prices
// any lateness and closes the loan once cumulative payments cover its total
// amount. Rejected payments leave no trace.
func (l *Ledger) ApplyPayment(loanID uuid.UUID, req PaymentRequest) (*ApplyResult, error) {
	unlock := l.locks.lock(loanID)
	defer unlock()

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, fmt.Errorf("%w: status %s", ErrLoanNotActive, loan.Status)
	}
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, req.Amount)
	}
	if req.Date.IsZero() {
		return nil, ErrMissingPaymentDate
	}

	schedule, err := l.storage.GetSchedule(loanID)
	if err != nil {
		return nil, err
	}
	entry, err := targetEntry(schedule, req.Period)
	if err != nil {
		return nil, err
	}

	previous, err := l.storage.GetPaymentsForLoan(loanID)
	if err != nil {
		return nil, err
	}

	policy := penalty.FromModel(loan.Penalty)
	charge := penalty.Calculate(entry.ScheduledPayment, policy, entry.DueDate, req.Date)

	paymentType := classify(req, entry, charge)

	paidDate := req.Date
	entry.Paid = true
	entry.PaidDate = &paidDate

	period := entry.Period
	entryID := entry.ID
	now := l.now().UTC()
	payment := &models.Payment{
		ID:               uuid.New(),
		LoanID:           loanID,
		ScheduleEntryID:  &entryID,
		Period:           &period,
		PaymentDate:      req.Date,
		Amount:           req.Amount,
		PenaltyApplied:   charge,
		PrincipalApplied: entry.PrincipalPortion,
		InterestApplied:  entry.InterestPortion,
		Type:             paymentType,
		Notes:            strings.TrimSpace(req.Notes),
		CreatedAt:        now,
	}

	totalPaid := req.Amount
	for _, p := range previous {
		totalPaid = totalPaid.Add(p.Amount)
	}

	closed := false
	loan.UpdatedAt = now
	if totalPaid.GreaterThanOrEqual(loan.TotalAmount) {
		if err := lifecycle.Transition(loan, models.LoanStatusClosed, now); err != nil {
			return nil, err
		}
		closed = true
	}

	if err := l.storage.RecordPayment(payment, entry, loan); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	event := l.log.Info().
		Str("loan_id", loanID.String()).
		Int("period", period).
		Str("amount", req.Amount.StringFixed(2)).
		Str("penalty", charge.StringFixed(2)).
		Str("type", string(paymentType))
	if closed {
		event.Bool("closed", true)
	}
	event.Msg("Payment applied")

	return &ApplyResult{
		Payment:     payment,
		Entry:       entry,
		TotalPaid:   totalPaid,
		Outstanding: money.ClampZero(loan.TotalAmount.Sub(totalPaid)),
		Closed:      closed,
	}, nil
}

// targetEntry picks the period a payment settles: the requested one, or the
// earliest unpaid period.
func targetEntry(schedule []models.ScheduleEntry, period *int) (*models.ScheduleEntry, error) {
	if period != nil {
		for i := range schedule {
			if schedule[i].Period != *period {
				continue
			}
			if schedule[i].Paid {
				return nil, fmt.Errorf("%w: period %d", ErrPeriodAlreadyPaid, *period)
			}
			return &schedule[i], nil
		}
		return nil, fmt.Errorf("%w: period %d", ErrPeriodNotFound, *period)
	}

	var target *models.ScheduleEntry
	for i := range schedule {
		if schedule[i].Paid {
			continue
		}
		if target == nil || schedule[i].Period < target.Period {
			target = &schedule[i]
		}
	}
	if target == nil {
		return nil, ErrNoUnpaidPeriods
	}
	return target, nil
}

// classify returns the explicit type when one was given, otherwise derives
// it from the charge and how the amount and date compare to the entry.
func classify(req PaymentRequest, entry *models.ScheduleEntry, charge decimal.Decimal) models.PaymentType {
	if strings.TrimSpace(req.Type) != "" {
		return models.ParsePaymentType(req.Type)
	}
	switch {
	case charge.IsPositive():
		return models.PaymentTypeLate
	case req.Amount.LessThan(entry.ScheduledPayment):
		return models.PaymentTypePartial
	case dateOf(req.Date).Before(dateOf(entry.DueDate)):
		return models.PaymentTypeAdvance
	case req.Amount.GreaterThan(entry.ScheduledPayment):
		return models.PaymentTypeExtra
	default:
		return models.PaymentTypeRegular
	}
}

package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/carloan/pkg/models"
	"github.com/mcclellann/carloan/pkg/money"
	"github.com/mcclellann/carloan/pkg/penalty"
	"github.com/mcclellann/carloan/pkg/rates"
	"github.com/shopspring/decimal"
)

type PeriodCounts struct {
	Paid   int `json:"paid"`
	Unpaid int `json:"unpaid"`
}

// LoanSummary bundles a loan's aggregate position as of a day. APYPercent is
// the effective annual rate as a percentage, banker's-rounded for disclosure.
type LoanSummary struct {
	Loan          *models.Loan           `json:"loan"`
	APYPercent    decimal.Decimal        `json:"apy_percent"`
	TotalPaid     decimal.Decimal        `json:"total_paid"`
	PenaltiesPaid decimal.Decimal        `json:"penalties_paid"`
	Outstanding   decimal.Decimal        `json:"outstanding"`
	Periods       PeriodCounts           `json:"periods"`
	NextUnpaid    *models.ScheduleEntry  `json:"next_unpaid,omitempty"`
	Overdue       []models.ScheduleEntry `json:"overdue"`
}

func apyPercent(loan *models.Loan) decimal.Decimal {
	ear := rates.EffectiveAnnualRate(loan.AnnualRate, rates.ParseCompounding(loan.Compounding))
	return money.RoundBank2(money.ToPercent(ear))
}

// OverdueLoan lists the overdue periods of one loan and what their penalties
// would be if paid on the report day.
type OverdueLoan struct {
	LoanID         uuid.UUID              `json:"loan_id"`
	Entries        []models.ScheduleEntry `json:"entries"`
	AccruedPenalty decimal.Decimal        `json:"accrued_penalty"`
}

func sumPayments(payments []*models.Payment) (total, penalties decimal.Decimal) {
	total, penalties = decimal.Zero, decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
		penalties = penalties.Add(p.PenaltyApplied)
	}
	return total, penalties
}

func outstanding(loan *models.Loan, payments []*models.Payment) decimal.Decimal {
	total, _ := sumPayments(payments)
	return money.ClampZero(loan.TotalAmount.Sub(total))
}

func countPeriods(schedule []models.ScheduleEntry) PeriodCounts {
	var c PeriodCounts
	for _, e := range schedule {
		if e.Paid {
			c.Paid++
		} else {
			c.Unpaid++
		}
	}
	return c
}

func nextUnpaid(schedule []models.ScheduleEntry) *models.ScheduleEntry {
	entry, err := targetEntry(schedule, nil)
	if err != nil {
		return nil
	}
	e := *entry
	return &e
}

// overdueEntries returns unpaid entries due strictly before today.
func overdueEntries(schedule []models.ScheduleEntry, today time.Time) []models.ScheduleEntry {
	cutoff := dateOf(today)
	overdue := []models.ScheduleEntry{}
	for _, e := range schedule {
		if !e.Paid && dateOf(e.DueDate).Before(cutoff) {
			overdue = append(overdue, e)
		}
	}
	return overdue
}

// Outstanding returns the loan's total amount less everything paid, floored at zero.
func (l *Ledger) Outstanding(id uuid.UUID) (decimal.Decimal, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return decimal.Zero, err
	}
	payments, err := l.storage.GetPaymentsForLoan(id)
	if err != nil {
		return decimal.Zero, err
	}
	return outstanding(loan, payments), nil
}

func (l *Ledger) PeriodCounts(id uuid.UUID) (PeriodCounts, error) {
	schedule, err := l.GetSchedule(id)
	if err != nil {
		return PeriodCounts{}, err
	}
	return countPeriods(schedule), nil
}

// NextUnpaid returns the earliest unpaid period, or nil when every period is paid.
func (l *Ledger) NextUnpaid(id uuid.UUID) (*models.ScheduleEntry, error) {
	schedule, err := l.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	return nextUnpaid(schedule), nil
}

// Overdue returns the periods due before today that are still unpaid.
func (l *Ledger) Overdue(id uuid.UUID, today time.Time) ([]models.ScheduleEntry, error) {
	schedule, err := l.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	return overdueEntries(schedule, today), nil
}

// TotalOutstanding sums Outstanding over all active loans.
func (l *Ledger) TotalOutstanding() (decimal.Decimal, error) {
	loans, err := l.storage.GetAllActiveLoans()
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, loan := range loans {
		payments, err := l.storage.GetPaymentsForLoan(loan.ID)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(outstanding(loan, payments))
	}
	return total, nil
}

func (l *Ledger) Summary(id uuid.UUID, today time.Time) (*LoanSummary, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	schedule, err := l.storage.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	payments, err := l.storage.GetPaymentsForLoan(id)
	if err != nil {
		return nil, err
	}

	total, penalties := sumPayments(payments)
	return &LoanSummary{
		Loan:          loan,
		APYPercent:    apyPercent(loan),
		TotalPaid:     total,
		PenaltiesPaid: penalties,
		Outstanding:   outstanding(loan, payments),
		Periods:       countPeriods(schedule),
		NextUnpaid:    nextUnpaid(schedule),
		Overdue:       overdueEntries(schedule, today),
	}, nil
}

// OverdueReport lists every active loan with overdue periods as of today.
func (l *Ledger) OverdueReport(today time.Time) ([]OverdueLoan, error) {
	loans, err := l.storage.GetAllActiveLoans()
	if err != nil {
		return nil, err
	}

	report := []OverdueLoan{}
	for _, loan := range loans {
		schedule, err := l.storage.GetSchedule(loan.ID)
		if err != nil {
			return nil, err
		}
		overdue := overdueEntries(schedule, today)
		if len(overdue) == 0 {
			continue
		}

		policy := penalty.FromModel(loan.Penalty)
		charges := make([]decimal.Decimal, len(overdue))
		for i, e := range overdue {
			charges[i] = penalty.Calculate(e.ScheduledPayment, policy, e.DueDate, today)
		}
		report = append(report, OverdueLoan{
			LoanID:         loan.ID,
			Entries:        overdue,
			AccruedPenalty: money.Sum(charges...),
		})
	}
	return report, nil
}

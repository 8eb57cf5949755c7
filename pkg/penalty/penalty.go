package penalty

import (
	"strings"
	"time"

	"github.com/mcclellann/carloan/pkg/models"
	"github.com/mcclellann/carloan/pkg/money"
	"github.com/shopspring/decimal"
)

// Type is the late-payment pricing policy.
type Type string

const (
	PercentPerDay   Type = "percent_per_day"
	PercentPerMonth Type = "percent_per_month"
	Flat            Type = "flat"
)

const daysPerMonth = 30

// ParseType maps a stored policy name to a Type, ignoring case and accepting
// "-" or " " as separators. Unknown names fall back to PercentPerMonth.
func ParseType(s string) Type {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	switch Type(key) {
	case PercentPerDay:
		return PercentPerDay
	case Flat:
		return Flat
	default:
		return PercentPerMonth
	}
}

func (t Type) String() string { return string(t) }

// Policy is a loan's late-payment terms. Rate is a percentage for the
// percent policies and an absolute amount for Flat.
type Policy struct {
	Type      Type
	Rate      decimal.Decimal
	GraceDays int
}

// FromModel reads the policy stored on a loan.
func FromModel(p models.PenaltyPolicy) Policy {
	return Policy{
		Type:      ParseType(p.Type),
		Rate:      p.Rate,
		GraceDays: p.GraceDays,
	}
}

// ToModel converts the policy into its stored form.
func (p Policy) ToModel() models.PenaltyPolicy {
	return models.PenaltyPolicy{
		Type:      p.Type.String(),
		Rate:      p.Rate,
		GraceDays: p.GraceDays,
	}
}

func day(t time.Time) time.Time {
	y, m, dd := t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

// DaysLate returns the whole days paid lies past the end of the grace
// period that follows due, or zero when it does not.
func DaysLate(graceDays int, due, paid time.Time) int {
	graceEnd := day(due).AddDate(0, 0, graceDays)
	p := day(paid)
	if !p.After(graceEnd) {
		return 0
	}
	return int(p.Sub(graceEnd).Hours() / 24)
}

// Calculate prices a payment of a period with the given scheduled amount,
// due on due and paid on paid. Payments inside the grace period, and
// policies with a non-positive rate, cost nothing. The result is rounded
// half-up to cents.
func Calculate(scheduled decimal.Decimal, p Policy, due, paid time.Time) decimal.Decimal {
	if p.Rate.Sign() <= 0 {
		return decimal.Zero
	}

	late := DaysLate(p.GraceDays, due, paid)
	if late == 0 {
		return decimal.Zero
	}
	days := decimal.NewFromInt(int64(late))

	var amount decimal.Decimal
	switch p.Type {
	case PercentPerDay:
		amount = scheduled.Mul(money.FromPercent(p.Rate)).Mul(days)
	case Flat:
		amount = p.Rate
	default:
		months := days.Div(decimal.NewFromInt(daysPerMonth))
		amount = scheduled.Mul(money.FromPercent(p.Rate)).Mul(months)
	}
	return money.Round2(amount)
}

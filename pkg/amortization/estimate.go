package amortization

import (
	"fmt"
	"math"

	"github.com/mcclellann/carloan/pkg/rates"
	"github.com/shopspring/decimal"
)

// estimateEpsilon is the balance at which a quick estimate counts as paid off.
const estimateEpsilon = 0.01

// EstimateInput drives the quick-estimate calculator. It works in float64 and
// its results are never persisted.
type EstimateInput struct {
	Principal      float64           `json:"principal"`
	AnnualRate     float64           `json:"annual_rate"` // Nominal, as a fraction
	TermMonths     int               `json:"term_months"`
	Compounding    rates.Compounding `json:"compounding"`
	ExtraPayment   float64           `json:"extra_payment"`
	MissedPayments int               `json:"missed_payments"`
	PenaltyRate    float64           `json:"penalty_rate"` // Fraction of the balance per missed period
}

type EstimatePeriod struct {
	Period    int     `json:"period"`
	Payment   float64 `json:"payment"`
	Principal float64 `json:"principal"`
	Interest  float64 `json:"interest"`
	Penalty   float64 `json:"penalty"`
	Balance   float64 `json:"balance"`
	Missed    bool    `json:"missed"`
}

type EstimateResult struct {
	MonthlyRate    float64          `json:"monthly_rate"`
	MonthlyPayment float64          `json:"monthly_payment"`
	TotalPaid      float64          `json:"total_paid"`
	TotalInterest  float64          `json:"total_interest"`
	TotalPenalties float64          `json:"total_penalties"`
	Months         int              `json:"months"`
	Periods        []EstimatePeriod `json:"periods"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Estimate runs a rough amortization preview. The first MissedPayments
// periods pay nothing: their interest capitalizes into the balance and a
// penalty of balance*PenaltyRate, taken before capitalization, accrues. The
// remaining periods pay the level payment of the original terms plus any
// extra until the balance is gone.
//
// Invalid terms, including a term above MaxTermMonths, give a zero result
// and no error.
func Estimate(in EstimateInput) (EstimateResult, error) {
	if in.Principal <= 0 || in.TermMonths <= 0 || in.TermMonths > MaxTermMonths || in.AnnualRate < 0 {
		return EstimateResult{}, nil
	}

	r := rates.EffectiveMonthlyRate(decimal.NewFromFloat(in.AnnualRate), in.Compounding).InexactFloat64()
	n := float64(in.TermMonths)

	var payment float64
	if r == 0 {
		payment = in.Principal / n
	} else {
		factor := math.Pow(1+r, n)
		payment = in.Principal * r * factor / (factor - 1)
	}

	extra := math.Max(in.ExtraPayment, 0)
	limit := 2 * in.TermMonths
	balance := in.Principal

	res := EstimateResult{
		MonthlyRate:    r,
		MonthlyPayment: round2(payment),
	}

	var totalPaid, totalPenalties float64
	for period := 1; balance > estimateEpsilon; period++ {
		if period > limit {
			return EstimateResult{}, fmt.Errorf("%w: estimate did not pay off within %d periods", ErrIterationCap, limit)
		}

		interest := balance * r

		if period <= in.MissedPayments {
			penalty := balance * in.PenaltyRate
			balance += interest
			totalPenalties += penalty
			res.Periods = append(res.Periods, EstimatePeriod{
				Period:   period,
				Interest: round2(interest),
				Penalty:  round2(penalty),
				Balance:  round2(balance),
				Missed:   true,
			})
			continue
		}

		principal := payment - interest + extra
		if principal >= balance-estimateEpsilon {
			principal = balance
		}
		paid := principal + interest
		balance = math.Max(balance-principal, 0)
		totalPaid += paid

		res.Periods = append(res.Periods, EstimatePeriod{
			Period:    period,
			Payment:   round2(paid),
			Principal: round2(principal),
			Interest:  round2(interest),
			Balance:   round2(balance),
		})
	}

	res.Months = len(res.Periods)
	res.TotalPaid = round2(totalPaid)
	res.TotalInterest = round2(totalPaid - in.Principal)
	res.TotalPenalties = round2(totalPenalties)
	return res, nil
}

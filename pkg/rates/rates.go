package rates

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Compounding is how often a nominal annual rate compounds.
type Compounding string

const (
	CompoundingMonthly      Compounding = "monthly"
	CompoundingQuarterly    Compounding = "quarterly"
	CompoundingSemiAnnually Compounding = "semi-annually"
	CompoundingAnnually     Compounding = "annually"
)

var compoundingAliases = map[string]Compounding{
	"monthly":       CompoundingMonthly,
	"quarterly":     CompoundingQuarterly,
	"semi-annually": CompoundingSemiAnnually,
	"semi_annually": CompoundingSemiAnnually,
	"semiannually":  CompoundingSemiAnnually,
	"annually":      CompoundingAnnually,
}

// ParseCompounding maps a stored frequency string to a Compounding.
// Unknown values fall back to monthly.
func ParseCompounding(s string) Compounding {
	if c, ok := compoundingAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return CompoundingMonthly
}

// PeriodsPerYear returns the compounding periods in a year. Anything
// unrecognised counts as monthly.
func (c Compounding) PeriodsPerYear() int {
	switch c {
	case CompoundingQuarterly:
		return 4
	case CompoundingSemiAnnually:
		return 2
	case CompoundingAnnually:
		return 1
	default:
		return 12
	}
}

func (c Compounding) String() string { return string(c) }

var one = decimal.NewFromInt(1)

// EffectiveMonthlyRate converts a nominal annual rate (0.06 for 6%) into the
// equivalent monthly rate:
//
//	effectiveAnnual = (1 + nominal/periods)^periods - 1
//	monthly         = (1 + effectiveAnnual)^(1/12) - 1
//
// A non-positive nominal rate yields zero without exponentiation.
func EffectiveMonthlyRate(nominalAnnual decimal.Decimal, c Compounding) decimal.Decimal {
	if nominalAnnual.Sign() <= 0 {
		return decimal.Zero
	}

	effectiveAnnual := EffectiveAnnualRate(nominalAnnual, c)

	// The twelfth root is irrational in general; take it in float64 and come
	// back to decimal. This is rate precision, not a money amount.
	monthly := math.Pow(one.Add(effectiveAnnual).InexactFloat64(), 1.0/12.0) - 1
	return decimal.NewFromFloat(monthly)
}

// EffectiveAnnualRate returns (1 + nominal/periods)^periods - 1.
func EffectiveAnnualRate(nominalAnnual decimal.Decimal, c Compounding) decimal.Decimal {
	if nominalAnnual.Sign() <= 0 {
		return decimal.Zero
	}
	periods := decimal.NewFromInt(int64(c.PeriodsPerYear()))
	return one.Add(nominalAnnual.Div(periods)).Pow(periods).Sub(one)
}

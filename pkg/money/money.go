package money

import "github.com/shopspring/decimal"

var (
	// Cent is the smallest settled amount. Balances at or below it count as paid.
	Cent = decimal.New(1, -2)

	hundred = decimal.NewFromInt(100)
)

// Round2 rounds half away from zero to two places, which is half-up for the
// non-negative amounts the engine produces.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// RoundBank2 rounds half to even to two places.
func RoundBank2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// FromPercent converts a percentage (6 for 6%) into a fraction (0.06).
func FromPercent(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// ToPercent converts a fraction into a percentage.
func ToPercent(f decimal.Decimal) decimal.Decimal {
	return f.Mul(hundred)
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds up amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

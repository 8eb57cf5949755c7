package amortization

import (
	"errors"
	"testing"
	"time"

	"github.com/mcclellann/carloan/pkg/rates"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGenerate_TwentyThousandAtSixPercent(t *testing.T) {
	r := rates.EffectiveMonthlyRate(d("0.06"), rates.CompoundingMonthly)

	schedule, err := Generate(Request{
		Principal:   d("20000"),
		MonthlyRate: r,
		TermMonths:  36,
		StartDate:   start,
	})
	require.NoError(t, err)
	require.Len(t, schedule, 36)

	first := schedule[0]
	assert.Equal(t, 1, first.Period)
	assert.Equal(t, "608.44", first.ScheduledPayment.StringFixed(2))
	assert.Equal(t, "100.00", first.InterestPortion.StringFixed(2))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), first.DueDate)

	last := schedule[35]
	assert.Equal(t, 36, last.Period)
	assert.True(t, last.ClosingBalance.IsZero(), "last closing balance should be zero, got %s", last.ClosingBalance)
	assert.True(t, last.PrincipalPortion.Equal(last.OpeningBalance))
	assert.True(t, last.ScheduledPayment.Equal(last.PrincipalPortion.Add(last.InterestPortion)))

	totalPrincipal := decimal.Zero
	for _, e := range schedule {
		totalPrincipal = totalPrincipal.Add(e.PrincipalPortion)
	}
	assert.True(t, totalPrincipal.Sub(d("20000")).Abs().LessThanOrEqual(d("0.01")),
		"principal should reconcile to 20000, got %s", totalPrincipal)

	totals := Summarize(schedule)
	assert.Equal(t, "608.44", totals.MonthlyPayment.StringFixed(2))
	assert.True(t, totals.TotalAmount.Sub(d("21903.82")).Abs().LessThan(d("0.05")), "total amount %s", totals.TotalAmount)
	assert.True(t, totals.TotalAmount.Equal(totals.TotalInterest.Add(d("20000"))))
}

func TestGenerate_ZeroRate(t *testing.T) {
	schedule, err := Generate(Request{
		Principal:   d("10000"),
		MonthlyRate: decimal.Zero,
		TermMonths:  10,
		StartDate:   start,
	})
	require.NoError(t, err)
	require.Len(t, schedule, 10)

	for _, e := range schedule {
		assert.Equal(t, "1000.00", e.ScheduledPayment.StringFixed(2), "period %d", e.Period)
		assert.Equal(t, "1000.00", e.PrincipalPortion.StringFixed(2), "period %d", e.Period)
		assert.True(t, e.InterestPortion.IsZero(), "period %d", e.Period)
	}
	assert.True(t, Summarize(schedule).TotalInterest.IsZero())
	assert.True(t, schedule[9].ClosingBalance.IsZero())
}

func TestGenerate_ZeroRateReconcilesRemainder(t *testing.T) {
	schedule, err := Generate(Request{Principal: d("1000"), TermMonths: 3, StartDate: start})
	require.NoError(t, err)
	require.Len(t, schedule, 3)

	assert.Equal(t, "333.33", schedule[0].PrincipalPortion.StringFixed(2))
	assert.Equal(t, "333.33", schedule[1].PrincipalPortion.StringFixed(2))
	assert.Equal(t, "333.34", schedule[2].PrincipalPortion.StringFixed(2))
	assert.True(t, schedule[2].ClosingBalance.IsZero())
}

func TestGenerate_InvalidTermsGiveEmptySchedule(t *testing.T) {
	cases := []Request{
		{Principal: d("0"), MonthlyRate: d("0.01"), TermMonths: 12},
		{Principal: d("-5"), MonthlyRate: d("0.01"), TermMonths: 12},
		{Principal: d("1000"), MonthlyRate: d("0.01"), TermMonths: 0},
		{Principal: d("1000"), MonthlyRate: d("0.01"), TermMonths: -3},
		{Principal: d("1000"), MonthlyRate: d("-0.01"), TermMonths: 12},
		{Principal: d("1000"), MonthlyRate: d("0.01"), TermMonths: MaxTermMonths + 1},
		{Principal: d("1000"), MonthlyRate: d("0.01"), TermMonths: 2_000_000},
	}
	for _, req := range cases {
		schedule, err := Generate(req)
		assert.NoError(t, err)
		assert.Empty(t, schedule)
	}
}

func TestGenerate_BalanceChainIsContiguous(t *testing.T) {
	terms := []struct {
		principal string
		rate      string
		months    int
	}{
		{"5000", "0.01", 12},
		{"18750.55", "0.0075", 60},
		{"999.99", "0.02", 7},
		{"100000", "0.004", 84},
	}
	for _, tc := range terms {
		schedule, err := Generate(Request{Principal: d(tc.principal), MonthlyRate: d(tc.rate), TermMonths: tc.months, StartDate: start})
		require.NoError(t, err)
		require.Len(t, schedule, tc.months)

		assert.True(t, schedule[0].OpeningBalance.Equal(d(tc.principal)))
		for i, e := range schedule {
			assert.Equal(t, i+1, e.Period)
			assert.True(t, e.OpeningBalance.Sub(e.PrincipalPortion).Equal(e.ClosingBalance),
				"period %d: %s - %s != %s", e.Period, e.OpeningBalance, e.PrincipalPortion, e.ClosingBalance)
			assert.False(t, e.ClosingBalance.IsNegative())
			if i > 0 {
				assert.True(t, e.OpeningBalance.Equal(schedule[i-1].ClosingBalance), "period %d breaks the chain", e.Period)
				assert.True(t, e.ClosingBalance.LessThan(e.OpeningBalance))
			}
		}
		assert.True(t, schedule[len(schedule)-1].ClosingBalance.IsZero())
	}
}

func TestGenerate_ExtraPaymentShortensTerm(t *testing.T) {
	r := d("0.005")
	base, err := Generate(Request{Principal: d("20000"), MonthlyRate: r, TermMonths: 36, StartDate: start})
	require.NoError(t, err)

	withExtra, err := Generate(Request{Principal: d("20000"), MonthlyRate: r, TermMonths: 36, StartDate: start, ExtraPayment: d("200")})
	require.NoError(t, err)

	assert.Less(t, len(withExtra), len(base))
	assert.True(t, withExtra[0].ExtraPayment.Equal(d("200")))
	assert.Equal(t, "708.44", withExtra[0].ScheduledPayment.StringFixed(2))
	assert.True(t, withExtra[len(withExtra)-1].ClosingBalance.IsZero())
	assert.True(t, Summarize(withExtra).TotalInterest.LessThan(Summarize(base).TotalInterest))
}

func TestGenerate_SinglePeriod(t *testing.T) {
	schedule, err := Generate(Request{Principal: d("1200"), MonthlyRate: d("0.01"), TermMonths: 1, StartDate: start})
	require.NoError(t, err)
	require.Len(t, schedule, 1)
	assert.Equal(t, "1212.00", schedule[0].ScheduledPayment.StringFixed(2))
	assert.True(t, schedule[0].ClosingBalance.IsZero())
}

func TestLevelPayment(t *testing.T) {
	assert.Equal(t, "444.24", LevelPayment(d("5000"), d("0.01"), 12).StringFixed(2))
	assert.Equal(t, "1000.00", LevelPayment(d("10000"), decimal.Zero, 10).StringFixed(2))
	assert.True(t, LevelPayment(d("10000"), d("0.01"), 0).IsZero())
}

func TestSummarize_Empty(t *testing.T) {
	totals := Summarize(nil)
	assert.True(t, totals.MonthlyPayment.IsZero())
	assert.True(t, totals.TotalAmount.IsZero())
}

func TestErrIterationCapIsWrapped(t *testing.T) {
	_, err := Estimate(EstimateInput{Principal: 10000, AnnualRate: 0.12, TermMonths: 12, MissedPayments: 24})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIterationCap))
}

func TestGenerate_MonthEndStartClampsDueDates(t *testing.T) {
	schedule, err := Generate(Request{
		Principal:  d("1200"),
		TermMonths: 4,
		StartDate:  time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, schedule, 4)

	want := []time.Time{
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
	}
	for i, e := range schedule {
		assert.Equal(t, want[i], e.DueDate, "period %d", e.Period)
	}
}

func TestDueDate(t *testing.T) {
	cases := []struct {
		start  time.Time
		months int
		want   time.Time
	}{
		{time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 13, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)},
		{time.Date(2024, 11, 15, 9, 30, 0, 0, time.UTC), 2, time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)},
		{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 0, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DueDate(tc.start, tc.months), "%s + %d", tc.start.Format("2006-01-02"), tc.months)
	}
}

package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/carloan/pkg/amortization"
	"github.com/mcclellann/carloan/pkg/cache"
	"github.com/mcclellann/carloan/pkg/lifecycle"
	"github.com/mcclellann/carloan/pkg/models"
	"github.com/mcclellann/carloan/pkg/penalty"
	"github.com/mcclellann/carloan/pkg/rates"
	"github.com/mcclellann/carloan/pkg/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func testDefaults() Defaults {
	return Defaults{
		AnnualRatePercent: d("6"),
		Compounding:       rates.CompoundingMonthly,
		Penalty:           penalty.Policy{Type: penalty.PercentPerMonth, Rate: d("5"), GraceDays: 5},
	}
}

func newTestLedger(s *MockStore, opts ...Option) *Ledger {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewLedger(s, testDefaults(), zerolog.Nop(), opts...)
}

// seedLoan stores an active loan with n level entries of scheduled each,
// due monthly after start, and no interest.
func seedLoan(t *testing.T, s *MockStore, n int, scheduled string, start, created time.Time) *models.Loan {
	t.Helper()
	amount := d(scheduled)
	total := amount.Mul(decimal.NewFromInt(int64(n)))
	loan := &models.Loan{
		ID:             uuid.New(),
		Principal:      total,
		AnnualRate:     decimal.Zero,
		MonthlyRate:    decimal.Zero,
		TermMonths:     n,
		Compounding:    "monthly",
		StartDate:      start,
		ExtraPayment:   decimal.Zero,
		Penalty:        models.PenaltyPolicy{Type: "percent_per_month", Rate: d("5"), GraceDays: 5},
		Status:         models.LoanStatusActive,
		MonthlyPayment: amount,
		TotalInterest:  decimal.Zero,
		TotalAmount:    total,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	schedule := make([]models.ScheduleEntry, 0, n)
	balance := total
	for k := 1; k <= n; k++ {
		closing := balance.Sub(amount)
		schedule = append(schedule, models.ScheduleEntry{
			ID:               uuid.New(),
			LoanID:           loan.ID,
			Period:           k,
			DueDate:          amortization.DueDate(start, k),
			OpeningBalance:   balance,
			ScheduledPayment: amount,
			PrincipalPortion: amount,
			InterestPortion:  decimal.Zero,
			PenaltyAmount:    decimal.Zero,
			ExtraPayment:     decimal.Zero,
			ClosingBalance:   closing,
		})
		balance = closing
	}
	require.NoError(t, s.CreateLoan(loan, schedule))
	return loan
}

func TestCreateLoan_AppliesDefaultsAndCachesTotals(t *testing.T) {
	s := NewMockStore()
	l := newTestLedger(s)

	loan, schedule, err := l.CreateLoan(CreateLoanRequest{
		Principal:  d("20000"),
		TermMonths: 36,
	})
	require.NoError(t, err)

	assert.Equal(t, models.LoanStatusActive, loan.Status)
	assert.Equal(t, "0.06", loan.AnnualRate.String())
	assert.Equal(t, "monthly", loan.Compounding)
	assert.Equal(t, "percent_per_month", loan.Penalty.Type)
	assert.Equal(t, 5, loan.Penalty.GraceDays)
	assert.True(t, loan.StartDate.Equal(date(2024, 6, 1)))

	require.Len(t, schedule, 36)
	assert.Equal(t, "608.44", loan.MonthlyPayment.StringFixed(2))
	assert.True(t, schedule[35].ClosingBalance.IsZero())
	assert.InDelta(t, 21903.82, loan.TotalAmount.InexactFloat64(), 0.05)
	assert.True(t, loan.TotalAmount.Sub(loan.Principal).Equal(loan.TotalInterest))
	assert.True(t, schedule[0].DueDate.Equal(date(2024, 7, 1)))

	stored, err := s.GetSchedule(loan.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 36)
}

func TestCreateLoan_LogsOrigination(t *testing.T) {
	var buf bytes.Buffer
	l := NewLedger(NewMockStore(), testDefaults(), zerolog.New(&buf), WithClock(func() time.Time { return testNow }))

	loan, _, err := l.CreateLoan(CreateLoanRequest{Principal: d("20000"), TermMonths: 36})
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "Loan originated", entry["message"])
	assert.Equal(t, loan.ID.String(), entry["loan_id"])
	assert.Equal(t, "6", entry["annual_rate_percent"])
	assert.Equal(t, "608.44", entry["monthly_payment"])
}

func TestCreateLoan_ExplicitTerms(t *testing.T) {
	s := NewMockStore()
	l := newTestLedger(s)

	rate := d("0")
	penaltyRate := d("35")
	grace := 10
	loan, schedule, err := l.CreateLoan(CreateLoanRequest{
		Principal:         d("10000"),
		AnnualRatePercent: &rate,
		TermMonths:        10,
		Compounding:       "Quarterly",
		StartDate:         date(2024, 1, 15),
		PenaltyType:       "FLAT",
		PenaltyRate:       &penaltyRate,
		GraceDays:         &grace,
	})
	require.NoError(t, err)

	assert.Equal(t, "quarterly", loan.Compounding)
	assert.Equal(t, "flat", loan.Penalty.Type)
	assert.Equal(t, "35", loan.Penalty.Rate.String())
	assert.Equal(t, 10, loan.Penalty.GraceDays)
	assert.True(t, loan.TotalInterest.IsZero())
	for _, e := range schedule {
		assert.Equal(t, "1000.00", e.ScheduledPayment.StringFixed(2))
		assert.True(t, e.InterestPortion.IsZero())
	}
}

func TestCreateLoan_InvalidTerms(t *testing.T) {
	negative := d("-1")
	negativeGrace := -2
	cases := map[string]CreateLoanRequest{
		"zero principal":   {Principal: decimal.Zero, TermMonths: 12},
		"zero term":        {Principal: d("1000"), TermMonths: 0},
		"term too long":    {Principal: d("1000"), TermMonths: 2_000_000},
		"negative rate":    {Principal: d("1000"), TermMonths: 12, AnnualRatePercent: &negative},
		"negative extra":   {Principal: d("1000"), TermMonths: 12, ExtraPayment: d("-5")},
		"negative penalty": {Principal: d("1000"), TermMonths: 12, PenaltyRate: &negative},
		"negative grace":   {Principal: d("1000"), TermMonths: 12, GraceDays: &negativeGrace},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewMockStore()
			_, _, err := newTestLedger(s).CreateLoan(req)
			assert.ErrorIs(t, err, ErrInvalidTerms)
			loans, _ := s.GetAllLoans()
			assert.Empty(t, loans)
		})
	}
}

func TestCreateLoan_ReferencesMustExist(t *testing.T) {
	s := NewMockStore()
	l := newTestLedger(s)

	missing := uuid.New()
	_, _, err := l.CreateLoan(CreateLoanRequest{Principal: d("1000"), TermMonths: 12, CustomerID: &missing})
	assert.ErrorIs(t, err, store.ErrNotFound)

	customer, err := l.CreateCustomer(CreateCustomerRequest{FullName: "  Ada Driver "})
	require.NoError(t, err)
	car, err := l.CreateCar(CreateCarRequest{VIN: "1hgcm82633a004352", Make: "Honda", Model: "Accord", Year: 2021, Price: d("24999.99")})
	require.NoError(t, err)
	assert.Equal(t, "1HGCM82633A004352", car.VIN)

	loan, _, err := l.CreateLoan(CreateLoanRequest{Principal: d("1000"), TermMonths: 12, CustomerID: &customer.ID, CarID: &car.ID})
	require.NoError(t, err)

	details, err := l.GetLoanWithDetails(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Driver", details.Customer.FullName)
	assert.Equal(t, "Accord", details.Car.Model)
}

func TestCreateCustomerAndCar_Validation(t *testing.T) {
	l := newTestLedger(NewMockStore())

	_, err := l.CreateCustomer(CreateCustomerRequest{FullName: "   "})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = l.CreateCar(CreateCarRequest{Make: "Honda", Model: "Accord", Year: 2021})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = l.CreateCar(CreateCarRequest{VIN: "X", Model: "Accord", Year: 2021})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = l.CreateCar(CreateCarRequest{VIN: "X", Make: "Honda", Model: "Accord"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = l.CreateCar(CreateCarRequest{VIN: "X", Make: "Honda", Model: "Accord", Year: 2021, Price: d("-1")})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestRegenerateSchedule(t *testing.T) {
	s := NewMockStore()
	l := newTestLedger(s)

	loan, original, err := l.CreateLoan(CreateLoanRequest{Principal: d("20000"), TermMonths: 36})
	require.NoError(t, err)

	updated, schedule, err := l.RegenerateSchedule(loan.ID, d("200"))
	require.NoError(t, err)
	assert.Less(t, len(schedule), len(original))
	assert.Equal(t, "200", updated.ExtraPayment.String())
	assert.True(t, updated.TotalAmount.LessThan(loan.TotalAmount))
	assert.True(t, schedule[len(schedule)-1].ClosingBalance.IsZero())

	stored, err := l.GetSchedule(loan.ID)
	require.NoError(t, err)
	assert.Len(t, stored, len(schedule))

	_, _, err = l.RegenerateSchedule(loan.ID, d("-1"))
	assert.ErrorIs(t, err, ErrInvalidTerms)

	_, err = l.ApplyPayment(loan.ID, PaymentRequest{Amount: updated.MonthlyPayment, Date: schedule[0].DueDate})
	require.NoError(t, err)
	_, _, err = l.RegenerateSchedule(loan.ID, decimal.Zero)
	assert.ErrorIs(t, err, lifecycle.ErrLoanHasPayments)
}

func TestRegenerateSchedule_RequiresActiveLoan(t *testing.T) {
	s := NewMockStore()
	l := newTestLedger(s)
	loan := seedLoan(t, s, 3, "100", date(2024, 1, 1), testNow)

	_, err := l.Archive(loan.ID)
	require.NoError(t, err)
	_, _, err = l.RegenerateSchedule(loan.ID, decimal.Zero)
	assert.ErrorIs(t, err, ErrLoanNotActive)
}

func TestDeleteLoan(t *testing.T) {
	s := NewMockStore()
	l := newTestLedger(s)

	unpaid := seedLoan(t, s, 3, "100", date(2024, 1, 1), testNow)
	require.NoError(t, l.DeleteLoan(unpaid.ID))
	_, err := l.GetLoan(unpaid.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	paid := seedLoan(t, s, 3, "100", date(2024, 1, 1), testNow)
	_, err = l.ApplyPayment(paid.ID, PaymentRequest{Amount: d("100"), Date: date(2024, 2, 1)})
	require.NoError(t, err)

	err = l.DeleteLoan(paid.ID)
	assert.ErrorIs(t, err, lifecycle.ErrLoanHasPayments)
	_, err = l.GetLoan(paid.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, l.DeleteLoan(uuid.New()), store.ErrNotFound)
}

func TestChangeStatus(t *testing.T) {
	s := NewMockStore()
	l := newTestLedger(s)
	loan := seedLoan(t, s, 3, "100", date(2024, 1, 1), testNow)

	_, err := l.ChangeStatus(loan.ID, "suspended")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = l.ChangeStatus(loan.ID, "active")
	assert.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	updated, err := l.MarkDefaulted(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusDefaulted, updated.Status)
	require.NotNil(t, updated.ClosedAt)
	assert.True(t, updated.ClosedAt.Equal(testNow))

	for _, attempt := range []func(uuid.UUID) (*models.Loan, error){l.CloseLoan, l.MarkPaidOff, l.Archive, l.MarkDefaulted} {
		_, err := attempt(loan.ID)
		assert.ErrorIs(t, err, lifecycle.ErrTerminalStatus)
	}

	stored, err := l.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusDefaulted, stored.Status)
}

func TestEstimate_IsCached(t *testing.T) {
	c := &countingCache{Cache: cache.NewMemoryCache()}
	l := newTestLedger(NewMockStore(), WithCache(c, time.Minute))

	in := amortization.EstimateInput{Principal: 12000, AnnualRate: 0.12, TermMonths: 24, Compounding: "MONTHLY"}
	first, err := l.Estimate(context.Background(), in)
	require.NoError(t, err)
	in.Compounding = "monthly"
	second, err := l.Estimate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.sets)
	assert.Equal(t, 1, c.hits)
	assert.Equal(t, 24, second.Months)
}

func TestEstimate_CacheFailureStillComputes(t *testing.T) {
	l := newTestLedger(NewMockStore(), WithCache(failingCache{}, time.Minute))

	result, err := l.Estimate(context.Background(), amortization.EstimateInput{Principal: 1000, TermMonths: 10})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, result.MonthlyPayment, 0.001)
}

type countingCache struct {
	cache.Cache
	hits, sets int
}

func (c *countingCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := c.Cache.Get(ctx, key)
	if ok {
		c.hits++
	}
	return v, ok, err
}

func (c *countingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.sets++
	return c.Cache.Set(ctx, key, value, ttl)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func (failingCache) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func TestLoanLocks_ReleaseEntries(t *testing.T) {
	k := newLoanLocks()
	id := uuid.New()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock(id)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.size())
}

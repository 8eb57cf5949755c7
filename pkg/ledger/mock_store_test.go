package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/carloan/pkg/models"
	"github.com/mcclellann/carloan/pkg/store"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
// It hands out copies so callers cannot change stored state without a write.
type MockStore struct {
	mu        sync.Mutex
	customers map[uuid.UUID]models.Customer
	cars      map[uuid.UUID]models.Car
	loans     map[uuid.UUID]models.Loan
	schedules map[uuid.UUID][]models.ScheduleEntry
	payments  []models.Payment

	// failRecord makes RecordPayment fail, to check nothing leaks on error.
	failRecord error
}

func NewMockStore() *MockStore {
	return &MockStore{
		customers: make(map[uuid.UUID]models.Customer),
		cars:      make(map[uuid.UUID]models.Car),
		loans:     make(map[uuid.UUID]models.Loan),
		schedules: make(map[uuid.UUID][]models.ScheduleEntry),
	}
}

var _ store.Storage = (*MockStore)(nil)

func (m *MockStore) CreateCustomer(c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = *c
	return nil
}

func (m *MockStore) GetCustomer(id uuid.UUID) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (m *MockStore) CreateCar(c *models.Car) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cars[c.ID] = *c
	return nil
}

func (m *MockStore) GetCar(id uuid.UUID) (*models.Car, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cars[id]
	if !ok {
		return nil, fmt.Errorf("car %s: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (m *MockStore) CreateLoan(loan *models.Loan, schedule []models.ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = *loan
	m.schedules[loan.ID] = append([]models.ScheduleEntry(nil), schedule...)
	return nil
}

func (m *MockStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, store.ErrNotFound)
	}
	return &loan, nil
}

func (m *MockStore) UpdateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[loan.ID]; !ok {
		return fmt.Errorf("loan %s: %w", loan.ID, store.ErrNotFound)
	}
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MockStore) DeleteLoan(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[id]; !ok {
		return fmt.Errorf("loan %s: %w", id, store.ErrNotFound)
	}
	delete(m.loans, id)
	delete(m.schedules, id)
	return nil
}

func (m *MockStore) listLoans(keep func(models.Loan) bool) []*models.Loan {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		if keep(l) {
			loan := l
			loans = append(loans, &loan)
		}
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].CreatedAt.Before(loans[j].CreatedAt) })
	return loans
}

func (m *MockStore) GetAllLoans() ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLoans(func(models.Loan) bool { return true }), nil
}

func (m *MockStore) GetAllActiveLoans() ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLoans(func(l models.Loan) bool { return l.Status == models.LoanStatusActive }), nil
}

func (m *MockStore) GetSchedule(loanID uuid.UUID) ([]models.ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ScheduleEntry(nil), m.schedules[loanID]...), nil
}

func (m *MockStore) ReplaceSchedule(loan *models.Loan, schedule []models.ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = *loan
	m.schedules[loan.ID] = append([]models.ScheduleEntry(nil), schedule...)
	return nil
}

func (m *MockStore) RecordPayment(payment *models.Payment, entry *models.ScheduleEntry, loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		return m.failRecord
	}
	if entry != nil {
		entries := m.schedules[payment.LoanID]
		found := false
		for i := range entries {
			if entries[i].ID != entry.ID {
				continue
			}
			if entries[i].Paid {
				return fmt.Errorf("schedule entry %d already paid: %w", entry.Period, store.ErrConflict)
			}
			entries[i] = *entry
			found = true
		}
		if !found {
			return fmt.Errorf("schedule entry %s: %w", entry.ID, store.ErrNotFound)
		}
	}
	if loan != nil {
		m.loans[loan.ID] = *loan
	}
	m.payments = append(m.payments, *payment)
	return nil
}

func (m *MockStore) GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payments := []*models.Payment{}
	for _, p := range m.payments {
		if p.LoanID == loanID {
			payment := p
			payments = append(payments, &payment)
		}
	}
	return payments, nil
}

func (m *MockStore) Close() error { return nil }

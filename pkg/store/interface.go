package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/carloan/pkg/models"
)

var (
	// ErrNotFound is wrapped with the entity name by every lookup that misses.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would overwrite settled state,
	// such as paying an already paid schedule entry.
	ErrConflict = errors.New("conflict")
)

// Storage defines the interface for database operations on customers, cars,
// loans, their schedules and payments.
type Storage interface {
	CreateCustomer(customer *models.Customer) error
	GetCustomer(id uuid.UUID) (*models.Customer, error)

	CreateCar(car *models.Car) error
	GetCar(id uuid.UUID) (*models.Car, error)

	// CreateLoan stores a loan together with its schedule.
	CreateLoan(loan *models.Loan, schedule []models.ScheduleEntry) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	// DeleteLoan removes a loan and its schedule. Payments are not cascaded.
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)
	GetAllActiveLoans() ([]*models.Loan, error)

	GetSchedule(loanID uuid.UUID) ([]models.ScheduleEntry, error)
	// ReplaceSchedule discards the loan's entries and stores the new ones
	// along with the loan's refreshed totals.
	ReplaceSchedule(loan *models.Loan, schedule []models.ScheduleEntry) error

	// RecordPayment inserts the payment, marks entry paid and saves loan in
	// one unit of work. entry may be nil.
	RecordPayment(payment *models.Payment, entry *models.ScheduleEntry, loan *models.Loan) error
	GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error)

	Close() error
}

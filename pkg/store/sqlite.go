package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/carloan/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var openDB = sql.Open

// NewSQLiteStore opens dataSourceName and creates the schema. The handle is
// closed again when any setup step fails.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := openDB("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// One connection keeps PRAGMAs and transactions on the same handle.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) setup() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := s.db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	if err := s.initSchema(); err != nil {
		return fmt.Errorf("could not initialize schema: %w", err)
	}
	return nil
}

// initSchema creates the tables if they don't already exist. Decimal fields
// are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cars (
		id TEXT PRIMARY KEY,
		vin TEXT NOT NULL UNIQUE,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		year INTEGER NOT NULL,
		price TEXT NOT NULL DEFAULT '0',
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_id TEXT REFERENCES customers(id),
		car_id TEXT REFERENCES cars(id),
		principal TEXT NOT NULL,
		annual_rate TEXT NOT NULL,
		monthly_rate TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		compounding TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		extra_payment TEXT NOT NULL DEFAULT '0',
		penalty_type TEXT NOT NULL,
		penalty_rate TEXT NOT NULL,
		grace_days INTEGER NOT NULL,
		status TEXT NOT NULL,
		monthly_payment TEXT NOT NULL,
		total_interest TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		closed_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS schedule_entries (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		period INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		opening_balance TEXT NOT NULL,
		scheduled_payment TEXT NOT NULL,
		principal_portion TEXT NOT NULL,
		interest_portion TEXT NOT NULL,
		penalty_amount TEXT NOT NULL DEFAULT '0',
		extra_payment TEXT NOT NULL DEFAULT '0',
		closing_balance TEXT NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT 0,
		paid_date DATETIME,
		UNIQUE(loan_id, period)
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		schedule_entry_id TEXT,
		period INTEGER,
		payment_date DATETIME NOT NULL,
		amount TEXT NOT NULL,
		penalty_applied TEXT NOT NULL,
		principal_applied TEXT NOT NULL,
		interest_applied TEXT NOT NULL,
		type TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_loan ON schedule_entries(loan_id, period);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id, payment_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// CreateCustomer inserts a new customer.
func (s *SQLiteStore) CreateCustomer(c *models.Customer) error {
	_, err := s.db.Exec(
		`INSERT INTO customers (id, full_name, email, phone, address, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.FullName, c.Email, c.Phone, c.Address, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

// GetCustomer retrieves a customer by its ID.
func (s *SQLiteStore) GetCustomer(id uuid.UUID) (*models.Customer, error) {
	var c models.Customer
	err := s.db.QueryRow(`SELECT id, full_name, email, phone, address, created_at FROM customers WHERE id = ?`, id.String()).
		Scan(&c.ID, &c.FullName, &c.Email, &c.Phone, &c.Address, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}

// CreateCar inserts a new car.
func (s *SQLiteStore) CreateCar(c *models.Car) error {
	_, err := s.db.Exec(
		`INSERT INTO cars (id, vin, make, model, year, price, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.VIN, c.Make, c.Model, c.Year, c.Price, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create car: %w", err)
	}
	return nil
}

// GetCar retrieves a car by its ID.
func (s *SQLiteStore) GetCar(id uuid.UUID) (*models.Car, error) {
	var c models.Car
	err := s.db.QueryRow(`SELECT id, vin, make, model, year, price, created_at FROM cars WHERE id = ?`, id.String()).
		Scan(&c.ID, &c.VIN, &c.Make, &c.Model, &c.Year, &c.Price, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("car %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get car: %w", err)
	}
	return &c, nil
}

const loanColumns = `id, customer_id, car_id, principal, annual_rate, monthly_rate, term_months, compounding, start_date,
	extra_payment, penalty_type, penalty_rate, grace_days, status, monthly_payment, total_interest, total_amount,
	created_at, updated_at, closed_at`

// CreateLoan inserts a loan and its schedule within a transaction.
func (s *SQLiteStore) CreateLoan(loan *models.Loan, schedule []models.ScheduleEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), nullUUID(loan.CustomerID), nullUUID(loan.CarID), loan.Principal, loan.AnnualRate, loan.MonthlyRate,
		loan.TermMonths, loan.Compounding, loan.StartDate, loan.ExtraPayment, loan.Penalty.Type, loan.Penalty.Rate,
		loan.Penalty.GraceDays, string(loan.Status), loan.MonthlyPayment, loan.TotalInterest, loan.TotalAmount,
		loan.CreatedAt, loan.UpdatedAt, loan.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	if err := insertEntries(tx, schedule); err != nil {
		return err
	}
	return tx.Commit()
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var customerID, carID uuid.NullUUID
	var status string
	var closedAt sql.NullTime
	err := row.Scan(&loan.ID, &customerID, &carID, &loan.Principal, &loan.AnnualRate, &loan.MonthlyRate,
		&loan.TermMonths, &loan.Compounding, &loan.StartDate, &loan.ExtraPayment, &loan.Penalty.Type, &loan.Penalty.Rate,
		&loan.Penalty.GraceDays, &status, &loan.MonthlyPayment, &loan.TotalInterest, &loan.TotalAmount,
		&loan.CreatedAt, &loan.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	st, err := models.ParseLoanStatus(status)
	if err != nil {
		return nil, fmt.Errorf("loan %s: %w", loan.ID, err)
	}
	loan.Status = st
	loan.CustomerID = uuidPtr(customerID)
	loan.CarID = uuidPtr(carID)
	loan.ClosedAt = timePtr(closedAt)
	return &loan, nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

func updateLoan(db execer, loan *models.Loan) error {
	result, err := db.Exec(
		`UPDATE loans SET customer_id = ?, car_id = ?, principal = ?, annual_rate = ?, monthly_rate = ?, term_months = ?,
		compounding = ?, start_date = ?, extra_payment = ?, penalty_type = ?, penalty_rate = ?, grace_days = ?, status = ?,
		monthly_payment = ?, total_interest = ?, total_amount = ?, updated_at = ?, closed_at = ? WHERE id = ?`,
		nullUUID(loan.CustomerID), nullUUID(loan.CarID), loan.Principal, loan.AnnualRate, loan.MonthlyRate, loan.TermMonths,
		loan.Compounding, loan.StartDate, loan.ExtraPayment, loan.Penalty.Type, loan.Penalty.Rate, loan.Penalty.GraceDays,
		string(loan.Status), loan.MonthlyPayment, loan.TotalInterest, loan.TotalAmount, loan.UpdatedAt, loan.ClosedAt,
		loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", loan.ID, ErrNotFound)
	}
	return nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	return updateLoan(s.db, loan)
}

// DeleteLoan removes a loan and its schedule within a transaction. The
// payments foreign key makes this fail for loans that have payments.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schedule_entries WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}

	return tx.Commit()
}

// GetAllLoans retrieves all loans.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetAllActiveLoans retrieves all active loans.
func (s *SQLiteStore) GetAllActiveLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY created_at`, string(models.LoanStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to get all active loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func insertEntries(tx *sql.Tx, schedule []models.ScheduleEntry) error {
	stmt, err := tx.Prepare(`INSERT INTO schedule_entries (id, loan_id, period, due_date, opening_balance, scheduled_payment,
		principal_portion, interest_portion, penalty_amount, extra_payment, closing_balance, paid, paid_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare schedule insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range schedule {
		_, err := stmt.Exec(e.ID.String(), e.LoanID.String(), e.Period, e.DueDate, e.OpeningBalance, e.ScheduledPayment,
			e.PrincipalPortion, e.InterestPortion, e.PenaltyAmount, e.ExtraPayment, e.ClosingBalance, e.Paid, e.PaidDate)
		if err != nil {
			return fmt.Errorf("failed to insert schedule entry %d: %w", e.Period, err)
		}
	}
	return nil
}

// GetSchedule retrieves a loan's schedule ordered by period.
func (s *SQLiteStore) GetSchedule(loanID uuid.UUID) ([]models.ScheduleEntry, error) {
	rows, err := s.db.Query(`SELECT id, loan_id, period, due_date, opening_balance, scheduled_payment, principal_portion,
		interest_portion, penalty_amount, extra_payment, closing_balance, paid, paid_date
		FROM schedule_entries WHERE loan_id = ? ORDER BY period ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var schedule []models.ScheduleEntry
	for rows.Next() {
		var e models.ScheduleEntry
		var paidDate sql.NullTime
		if err := rows.Scan(&e.ID, &e.LoanID, &e.Period, &e.DueDate, &e.OpeningBalance, &e.ScheduledPayment,
			&e.PrincipalPortion, &e.InterestPortion, &e.PenaltyAmount, &e.ExtraPayment, &e.ClosingBalance,
			&e.Paid, &paidDate); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		e.PaidDate = timePtr(paidDate)
		schedule = append(schedule, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for schedule: %w", err)
	}
	return schedule, nil
}

// ReplaceSchedule swaps a loan's schedule and saves its refreshed totals.
func (s *SQLiteStore) ReplaceSchedule(loan *models.Loan, schedule []models.ScheduleEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schedule_entries WHERE loan_id = ?`, loan.ID.String()); err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if err := insertEntries(tx, schedule); err != nil {
		return err
	}
	if err := updateLoan(tx, loan); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordPayment stores a payment, flips its schedule entry to paid and saves
// the loan, all or nothing.
func (s *SQLiteStore) RecordPayment(payment *models.Payment, entry *models.ScheduleEntry, loan *models.Loan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var period sql.NullInt64
	if payment.Period != nil {
		period = sql.NullInt64{Int64: int64(*payment.Period), Valid: true}
	}
	_, err = tx.Exec(
		`INSERT INTO payments (id, loan_id, schedule_entry_id, period, payment_date, amount, penalty_applied,
		principal_applied, interest_applied, type, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID.String(), payment.LoanID.String(), nullUUID(payment.ScheduleEntryID), period, payment.PaymentDate,
		payment.Amount, payment.PenaltyApplied, payment.PrincipalApplied, payment.InterestApplied, string(payment.Type),
		payment.Notes, payment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	if entry != nil {
		result, err := tx.Exec(`UPDATE schedule_entries SET paid = 1, paid_date = ? WHERE id = ? AND paid = 0`,
			entry.PaidDate, entry.ID.String())
		if err != nil {
			return fmt.Errorf("failed to mark schedule entry paid: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("schedule entry %d already paid: %w", entry.Period, ErrConflict)
		}
	}

	if loan != nil {
		if err := updateLoan(tx, loan); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetPaymentsForLoan retrieves all payments for a loan in payment order.
func (s *SQLiteStore) GetPaymentsForLoan(loanID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.db.Query(`SELECT id, loan_id, schedule_entry_id, period, payment_date, amount, penalty_applied,
		principal_applied, interest_applied, type, notes, created_at
		FROM payments WHERE loan_id = ? ORDER BY payment_date ASC, created_at ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		var p models.Payment
		var entryID uuid.NullUUID
		var period sql.NullInt64
		var paymentType string
		if err := rows.Scan(&p.ID, &p.LoanID, &entryID, &period, &p.PaymentDate, &p.Amount, &p.PenaltyApplied,
			&p.PrincipalApplied, &p.InterestApplied, &paymentType, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		p.ScheduleEntryID = uuidPtr(entryID)
		if period.Valid {
			n := int(period.Int64)
			p.Period = &n
		}
		p.Type = models.ParsePaymentType(paymentType)
		payments = append(payments, &p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan payments: %w", err)
	}
	return payments, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

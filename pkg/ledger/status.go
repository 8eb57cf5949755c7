package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/carloan/pkg/lifecycle"
	"github.com/mcclellann/carloan/pkg/models"
)

// ChangeStatus moves the loan to the named status. Unknown names are
// rejected with ErrInvalidStatus.
func (l *Ledger) ChangeStatus(id uuid.UUID, status string) (*models.Loan, error) {
	to, err := models.ParseLoanStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	return l.transition(id, to)
}

// CloseLoan closes the loan administratively, e.g. after an early payoff
// settled outside the schedule.
func (l *Ledger) CloseLoan(id uuid.UUID) (*models.Loan, error) {
	return l.transition(id, models.LoanStatusClosed)
}

func (l *Ledger) MarkPaidOff(id uuid.UUID) (*models.Loan, error) {
	return l.transition(id, models.LoanStatusPaidOff)
}

func (l *Ledger) MarkDefaulted(id uuid.UUID) (*models.Loan, error) {
	return l.transition(id, models.LoanStatusDefaulted)
}

func (l *Ledger) Archive(id uuid.UUID) (*models.Loan, error) {
	return l.transition(id, models.LoanStatusArchived)
}

func (l *Ledger) transition(id uuid.UUID, to models.LoanStatus) (*models.Loan, error) {
	unlock := l.locks.lock(id)
	defer unlock()

	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	from := loan.Status
	if err := lifecycle.Transition(loan, to, l.now().UTC()); err != nil {
		return nil, err
	}
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan status: %w", err)
	}

	l.log.Info().
		Str("loan_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Loan status changed")
	return loan, nil
}

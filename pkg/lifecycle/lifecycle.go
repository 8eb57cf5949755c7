package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/carloan/pkg/models"
)

var (
	ErrTerminalStatus    = errors.New("loan is in a terminal status")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrLoanHasPayments   = errors.New("loan has recorded payments")
)

// allowed lists the targets reachable from each status. Only active has any.
var allowed = map[models.LoanStatus][]models.LoanStatus{
	models.LoanStatusActive: {
		models.LoanStatusClosed,
		models.LoanStatusPaidOff,
		models.LoanStatusDefaulted,
		models.LoanStatusArchived,
	},
}

// CanTransition reports whether from -> to is a defined transition.
func CanTransition(from, to models.LoanStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves loan to status to. A loan in a terminal status cannot move
// at all, and the loan is left untouched on any error.
func Transition(loan *models.Loan, to models.LoanStatus, at time.Time) error {
	if loan.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalStatus, loan.Status, to)
	}
	if !CanTransition(loan.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, loan.Status, to)
	}

	loan.Status = to
	loan.UpdatedAt = at
	if to.IsTerminal() {
		closedAt := at
		loan.ClosedAt = &closedAt
	}
	return nil
}

// CanDelete rejects deletion of a loan that has payments against it.
func CanDelete(paymentCount int) error {
	if paymentCount > 0 {
		return fmt.Errorf("%w: %d payment(s)", ErrLoanHasPayments, paymentCount)
	}
	return nil
}

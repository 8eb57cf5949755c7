package ledger

import "errors"

var (
	ErrInvalidTerms       = errors.New("invalid loan terms")
	ErrInvalidRecord      = errors.New("invalid record")
	ErrInvalidStatus      = errors.New("invalid loan status")
	ErrLoanNotActive      = errors.New("loan is not active")
	ErrInvalidAmount      = errors.New("payment amount must be positive")
	ErrMissingPaymentDate = errors.New("payment date is required")
	ErrNoUnpaidPeriods    = errors.New("loan has no unpaid periods")
	ErrPeriodNotFound     = errors.New("schedule period not found")
	ErrPeriodAlreadyPaid  = errors.New("schedule period already paid")
)

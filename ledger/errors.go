package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed trade or input. Nothing was written.
	ErrValidation = errors.New("validation error")

	// ErrDuplicateTrade marks a trade whose client identity was already applied.
	ErrDuplicateTrade = errors.New("duplicate trade")

	// ErrConcurrencyConflict is transient: retry the whole reconciliation.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrPersistence means storage failed or timed out. Fatal to the call.
	ErrPersistence = errors.New("persistence error")
)

// DuplicateTradeError carries the identity of the trade that was replayed.
type DuplicateTradeError struct {
	ClientID string
	TradeID  string
}

func (e *DuplicateTradeError) Error() string {
	return fmt.Sprintf("duplicate trade: client id %q already recorded as %s", e.ClientID, e.TradeID)
}

func (e *DuplicateTradeError) Is(target error) bool {
	return target == ErrDuplicateTrade
}

// ReconciliationError reports which step of a reconciliation failed. The
// transaction was rolled back before it is returned.
type ReconciliationError struct {
	Stage    string
	ClientID string
	Symbol   string
	Err      error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s %s (%s): %v", e.Symbol, e.ClientID, e.Stage, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// Validationf builds an ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the caller may safely resubmit the same trade.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

package game

import (
	"errors"
	"fmt"
)

const (
	opPlaceBet  = "place_bet"
	opCashOut   = "cash_out"
	opCancelBet = "cancel_bet"
)

var (
	ErrEngineStopped  = errors.New("game engine stopped")
	ErrTimerInvariant = errors.New("timer fired outside its round or phase")
	ErrFairness       = errors.New("fairness check failed")
	ErrBetNotWon      = errors.New("bet was not won")
)

// ValidationError rejects a command for the issuing player only; round state
// is left unchanged.
type ValidationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(op, format string, args ...interface{}) error {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err was caused by a rejected command.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

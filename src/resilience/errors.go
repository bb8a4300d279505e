// Package resilience holds the fault-tolerance primitives shared by every outbound call:
// circuit breakers, timeout and retry policy, admission control and degradation levels.
package resilience

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is matched by every breaker rejection.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned when a breaker rejects a call without invoking it.
type OpenError struct {
	Breaker    string
	RetryAfter time.Duration
	Forced     bool
}

func (e *OpenError) Error() string {
	if e.Forced {
		return fmt.Sprintf("circuit breaker %q is forced open", e.Breaker)
	}
	return fmt.Sprintf("circuit breaker %q is open, retry in %s", e.Breaker, e.RetryAfter.Round(time.Millisecond))
}

func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// TimeoutError reports that the last attempt of a guarded operation overran its budget.
type TimeoutError struct {
	Class    TimeoutClass
	Budget   time.Duration
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %d attempt(s) (budget %s)", e.Class, e.Attempts, e.Budget)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// UserMessage returns the text shown to the user for this timeout class.
func (e *TimeoutError) UserMessage() string {
	return TimeoutMessage(e.Class)
}

// OperationError reports that every attempt of a guarded operation failed.
type OperationError struct {
	Class    TimeoutClass
	Attempts int
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s operation failed after %d attempt(s): %v", e.Class, e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func (e *OperationError) UserMessage() string {
	return FailureMessage(e.Class)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The timeout manager returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// UserMessage extracts the user-facing text carried by a resilience error, if any.
func UserMessage(err error) (string, bool) {
	var carrier interface{ UserMessage() string }
	if errors.As(err, &carrier) {
		return carrier.UserMessage(), true
	}
	if errors.Is(err, ErrCircuitOpen) {
		return "Este servicio no está disponible en este momento. Intenta de nuevo en unos minutos.", true
	}
	return "", false
}

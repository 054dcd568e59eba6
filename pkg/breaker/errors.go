package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is matched by every rejection of an open breaker.
var ErrCircuitOpen = errors.New("circuit open")

// OpenError is returned when a call is rejected without being attempted.
type OpenError struct {
	// Name is the operation name of the breaker.
	Name string

	// State is the breaker state at rejection time (open or half-open).
	State State

	// RetryAfter is the remaining cooldown, zero while a half-open probe is in flight.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit %q is %s (retry in %s)", e.Name, e.State, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit %q is %s", e.Name, e.State)
}

// Is reports ErrCircuitOpen equivalence.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// IsOpen reports whether err was produced by an open breaker.
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

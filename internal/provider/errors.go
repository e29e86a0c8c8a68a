package provider

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("provider: not found")
	ErrNotConfigured   = errors.New("provider: client not configured")
	ErrInvalidArgument = errors.New("provider: invalid argument")
)

// IOError is a failed exchange with the provider API. StatusCode is zero when
// no HTTP response was received.
type IOError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *IOError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider: %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call may succeed.
func (e *IOError) Transient() bool { return IsTransient(e) }

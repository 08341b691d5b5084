package eventloop

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Start when the loop runs already.
	ErrAlreadyStarted = errors.New("event loop already started")

	// ErrStopped is returned when work is posted to a stopped loop.
	ErrStopped = errors.New("event loop stopped")
)

// Fault is a panic recovered from a work unit.
type Fault struct {
	// Work is the name of the unit that panicked.
	Work string

	// Value is the recovered panic value.
	Value any

	// Stack is the goroutine stack at the time of the panic.
	Stack []byte
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("panic in %s: %v", f.Work, f.Value)
}

// IsFault reports whether err is, or wraps, a recovered panic.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

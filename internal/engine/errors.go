package engine

import (
	"errors"
	"fmt"
)

// Kind categorizes engine errors. The string form is what callers see at
// the string boundary.
type Kind string

const (
	// KindConfigValidation: missing or invalid configuration at load time.
	KindConfigValidation Kind = "ConfigValidationError"

	// KindMalformedCommand: the command is not module_action_key.
	KindMalformedCommand Kind = "MalformedCommand"

	// KindUnknownModule: the module is not registered on the instance.
	KindUnknownModule Kind = "UnknownModule"

	// KindUnsupportedAction: the module does not support the action.
	KindUnsupportedAction Kind = "UnsupportedAction"

	// KindInvalidValue: the argument failed the module's validation.
	KindInvalidValue Kind = "InvalidValue"

	// KindEngineFault: unexpected failure during asynchronous work.
	KindEngineFault Kind = "EngineFault"

	// KindLifecycleViolation: operation invoked in the wrong state.
	KindLifecycleViolation Kind = "LifecycleViolation"

	// KindCancelled: the operation was abandoned by shutdown.
	KindCancelled Kind = "Cancelled"
)

// Error is an engine error with a Kind.
type Error struct {
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Command is the offending command, for dispatcher errors.
	Command string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface: "<Kind>: <Message>".
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

func commandError(kind Kind, cmd string, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Command: cmd, Err: err}
}

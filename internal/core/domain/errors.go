package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Kinds
// =============================================================================

var (
	// ErrConfig marks malformed, missing or ambiguous configuration. Aborts the run.
	ErrConfig = errors.New("configuration error")

	// ErrSelection marks a build selector that matches nothing. Aborts the run.
	ErrSelection = errors.New("selection error")

	// ErrValidation marks a descriptor set rejected by the validator. Aborts the build.
	ErrValidation = errors.New("validation error")

	// ErrExecution marks a failed external command. Aborts the build.
	ErrExecution = errors.New("execution error")

	// ErrBestEffort marks a failure that is reported but never aborts.
	ErrBestEffort = errors.New("best-effort warning")

	// ErrLockHeld marks a concurrent unattended run of the same operation.
	ErrLockHeld = errors.New("lock held")

	// ErrConnectivity marks an unreachable remote host.
	ErrConnectivity = errors.New("connectivity error")
)

// Error wraps an error kind with the operation that failed and an optional cause.
type Error struct {
	Op      string // Operation that failed (e.g., "Resolve")
	Kind    error  // One of the Err* kinds above
	Message string
	Err     error // Underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError creates a new Error.
func NewError(op string, kind error, message string, err error) *Error {
	return &Error{
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ConfigError is shorthand for NewError(op, ErrConfig, message, err).
func ConfigError(op, message string, err error) *Error {
	return NewError(op, ErrConfig, message, err)
}

// SelectionError is shorthand for NewError(op, ErrSelection, message, nil).
func SelectionError(op, message string) *Error {
	return NewError(op, ErrSelection, message, nil)
}

// ExecutionError is shorthand for NewError(op, ErrExecution, message, err).
func ExecutionError(op, message string, err error) *Error {
	return NewError(op, ErrExecution, message, err)
}

// KindOf returns the error kind carried by err, or nil when err carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrConfig, ErrSelection, ErrValidation, ErrExecution, ErrBestEffort, ErrLockHeld, ErrConnectivity} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

package task

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoIdentities is returned when a run is requested without any identity.
	ErrNoIdentities = errors.New("no identities supplied")
	// ErrUnknownAction is returned for an action outside Actions.
	ErrUnknownAction = errors.New("unknown action")
	// ErrMissingTarget is returned when a network action has no target descriptor.
	ErrMissingTarget = errors.New("target descriptor is required for this action")
)

// Error is a task failure carrying its ErrorCategory.
type Error struct {
	Category ErrorCategory
	Message  string
	Err      error
	Attempts int // remote attempts made before the failure
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Category)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the given category and message.
func NewError(category ErrorCategory, message string) *Error {
	return &Error{Category: category, Message: message}
}

// WrapError creates an Error with the given category wrapping err.
func WrapError(category ErrorCategory, message string, err error) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

// CategoryOf classifies err. Errors carrying a category keep it, context
// expiry is transient and everything else is Unknown.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return CategoryNone
	}
	var taskErr *Error
	if errors.As(err, &taskErr) && taskErr.Category != CategoryNone {
		return taskErr.Category
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTransientFailure
	}
	return CategoryUnknown
}

// AttemptsOf returns the attempt count recorded on err, or zero.
func AttemptsOf(err error) int {
	var taskErr *Error
	if errors.As(err, &taskErr) {
		return taskErr.Attempts
	}
	return 0
}

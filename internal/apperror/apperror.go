// Package apperror defines the error taxonomy shared by the executor, the
// history service and the HTTP layer.
//
// Each AppError wraps one sentinel so callers can branch with errors.Is()
// without caring which layer produced it:
//
//	ErrValidation  → bad input, detected before any daemon call
//	ErrNotFound    → unknown history record
//	ErrDaemon      → the container daemon rejected create/start
//	ErrUnavailable → the executor is not accepting work
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation error")
	ErrDaemon      = errors.New("container daemon error")
	ErrUnavailable = errors.New("executor unavailable")
)

type AppError struct {
	Err     error  // sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Daemon wraps a daemon transport failure. The message keeps the daemon's own
// text because it ends up in the stderr of the error-shaped result.
func Daemon(op string, err error) *AppError {
	return &AppError{
		Err:     ErrDaemon,
		Message: fmt.Sprintf("%s: %v", op, err),
	}
}

// Unavailable reports that the executor cannot take the request at all.
func Unavailable(message string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
	}
}

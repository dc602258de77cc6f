// Package apperror defines the error kinds shared by every layer of the app.
//
// ERROR KINDS, NOT ERROR TEXT:
// Each failure is wrapped in an *AppError whose Err field is one of the
// sentinel kinds below. Callers switch on the kind with errors.Is, never on
// the message text. The HTTP layer maps kinds to status codes and
// UserMessage maps them to the strings shown in forms.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// Kinds raised by the backend data layer.
	ErrTimeout    = errors.New("timed out")
	ErrPermission = errors.New("permission denied")
	ErrConnection = errors.New("connection error")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying driver/library error, never shown to users
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
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

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means no valid session was presented.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Timeout wraps an operation that ran out of time.
func Timeout(operation string, cause error) *AppError {
	return &AppError{
		Err:     ErrTimeout,
		Message: fmt.Sprintf("%s timed out", operation),
		Cause:   cause,
	}
}

// Permission wraps a write the data service refused to execute.
func Permission(operation string, cause error) *AppError {
	return &AppError{
		Err:     ErrPermission,
		Message: fmt.Sprintf("%s: permission denied", operation),
		Cause:   cause,
	}
}

// Connection wraps a transient failure talking to the data service.
func Connection(operation string, cause error) *AppError {
	return &AppError{
		Err:     ErrConnection,
		Message: fmt.Sprintf("%s: connection error", operation),
		Cause:   cause,
	}
}

// IsTransient reports whether retrying the operation could succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}

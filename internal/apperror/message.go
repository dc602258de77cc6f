package apperror

import (
	"errors"
)

// User-facing messages for the backend kinds. Forms display these verbatim.
const (
	MsgTimeout    = "Operation timed out. Please try again."
	MsgPermission = "Unable to save due to SQL command restrictions. Please remove any SET commands or similar SQL operations."
	MsgConnection = "Database connection error. Please try again in a moment."
	MsgGeneric    = "Something went wrong. Please try again."
)

// UserMessage turns any error into the text shown next to a form.
//
// Validation, not-found, conflict, forbidden and unauthorized errors carry a
// message written for the user already, so it's passed through. Backend kinds
// get a fixed message. Anything else gets fallback, or MsgGeneric when
// fallback is empty.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if fallback == "" {
		fallback = MsgGeneric
	}

	switch {
	case errors.Is(err, ErrTimeout):
		return MsgTimeout
	case errors.Is(err, ErrPermission):
		return MsgPermission
	case errors.Is(err, ErrConnection):
		return MsgConnection
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		switch {
		case errors.Is(err, ErrValidation),
			errors.Is(err, ErrNotFound),
			errors.Is(err, ErrConflict),
			errors.Is(err, ErrForbidden),
			errors.Is(err, ErrUnauthorized):
			return appErr.Message
		}
	}
	return fallback
}

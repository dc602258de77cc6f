package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and writeError, so every error
// response from the API has the same shape:
//
//	{"error": "not_found", "message": "snippet not found with id abc123"}
//
// "error" is machine-readable, "message" is the text the form shows, and
// "field" (when present) names the input to highlight.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/snippet-share/internal/apperror"
)

// maxBodyBytes caps request bodies. Snippet code is the largest field.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body; once Encode writes, any
// header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps an error kind to an HTTP status and sends it.
//
// ERROR MAPPING:
//
//	ErrValidation   → 400    ErrNotFound   → 404
//	ErrUnauthorized → 401    ErrConflict   → 409
//	ErrForbidden    → 403    ErrPermission → 422
//	ErrConnection   → 503    ErrTimeout    → 504
//
// fallback is the message for errors with no kind, e.g. "Failed to create
// snippet". Their details are logged, never sent: a raw error can carry SQL
// or file paths.
func writeError(w http.ResponseWriter, err error, fallback string) {
	status, errorType := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", slog.String("error", err.Error()))
	}

	resp := ErrorResponse{
		Error:   errorType,
		Message: apperror.UserMessage(err, fallback),
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp.Field = appErr.Field
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrPermission):
		return http.StatusUnprocessableEntity, "permission_denied"
	case errors.Is(err, apperror.ErrConnection):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, apperror.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

// decodeJSON reads a JSON request body into dst. A malformed body is a
// validation error so it goes back to the form like any other.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.ValidationFailed("", fmt.Sprintf("Request body must be %d bytes or less", tooLarge.Limit))
		}
		return apperror.ValidationFailed("", "Invalid JSON body")
	}
	return nil
}

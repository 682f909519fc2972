// Package apperr defines the error kinds surfaced by domain services and maps
// them onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every *Error wraps exactly one of these so callers can branch
// with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// Error is a domain error carrying a kind, a caller-facing message and
// optional field details.
type Error struct {
	Kind    error             `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Validation reports malformed or missing input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Code: "VALIDATION_ERROR", Message: fmt.Sprintf(format, args...)}
}

// ValidationFields reports invalid input with per-field details.
func ValidationFields(message string, details map[string]string) *Error {
	return &Error{Kind: ErrValidation, Code: "VALIDATION_ERROR", Message: message, Details: details}
}

// Unauthorized reports an actor lacking the permission for an operation.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: ErrUnauthorized, Code: "UNAUTHORIZED", Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports a transition that is not legal from the current state.
func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidState, Code: "INVALID_STATE", Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing or inactive entity.
func NotFound(resource string, id any) *Error {
	return &Error{
		Kind:    ErrNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
		Details: map[string]string{"resource": resource, "id": fmt.Sprint(id)},
	}
}

// Conflict reports a concurrent modification.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: ErrConflict, Code: "CONFLICT", Message: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is a concurrent-modification error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

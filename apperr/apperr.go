// Package apperr defines the error taxonomy shared by the proxy and the
// checkout client, and maps it onto HTTP status codes and user-facing text.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrProvider   = errors.New("payment provider rejected the request")
	ErrUpstream   = errors.New("upstream service unavailable")
	ErrConflict   = errors.New("conflict")
)

// Error pairs a kind with a message that is safe to show to the customer.
// Cause holds internal detail that stays in the server logs.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func Validation(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

// Provider wraps a decline or rejection. msg is shown to the user verbatim.
func Provider(msg string, cause error) error {
	return &Error{Kind: ErrProvider, Message: msg, Cause: cause}
}

func Upstream(msg string, cause error) error {
	return &Error{Kind: ErrUpstream, Message: msg, Cause: cause}
}

func Conflict(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrValidation):
		return "validation_error"

	case errors.Is(err, ErrProvider):
		return "provider_error"

	case errors.Is(err, ErrConflict):
		return "conflict"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, ErrUpstream):
		return "upstream_error"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, ErrProvider):
		return http.StatusPaymentRequired

	case errors.Is(err, ErrConflict):
		return http.StatusConflict

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway

	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// Message returns the human-readable part of err. Errors outside the
// taxonomy never leak their text.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The payment service took too long to respond. Please try again."
	}
	return "Internal server error"
}

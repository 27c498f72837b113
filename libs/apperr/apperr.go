// Package apperr defines the error taxonomy shared by the clinic services.
// Every synchronous failure that crosses a service boundary carries one of
// these codes so callers can render an actionable message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	Unauthenticated            Code = "UNAUTHENTICATED"
	Unauthorized               Code = "UNAUTHORIZED"
	NotFound                   Code = "NOT_FOUND"
	InvalidArgument            Code = "INVALID_ARGUMENT"
	InvalidTransition          Code = "INVALID_TRANSITION"
	InvalidPaymentState        Code = "INVALID_PAYMENT_STATE"
	ConcurrentModification     Code = "CONCURRENT_MODIFICATION"
	GatewayAuthError           Code = "GATEWAY_AUTH_ERROR"
	GatewayUnavailable         Code = "GATEWAY_UNAVAILABLE"
	GatewayRejected            Code = "GATEWAY_REJECTED"
	GatewayTimeout             Code = "GATEWAY_TIMEOUT"
	PaymentUnconfirmed         Code = "PAYMENT_UNCONFIRMED"
	NotificationDeliveryFailed Code = "NOTIFICATION_DELIVERY_FAILED"
	Internal                   Code = "INTERNAL"
)

// Error is a coded error. Details holds diagnostic context such as the raw
// payload returned by a payment gateway.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code, so errors.Is(err, apperr.New(code, ""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns e after recording key=value in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// Retryable reports whether a caller may safely repeat the failed step.
// Only an unavailable gateway qualifies; a timeout is ambiguous and must be
// reconciled first.
func Retryable(err error) bool {
	return Is(err, GatewayUnavailable)
}

func HTTPStatus(code Code) int {
	switch code {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Unauthorized:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidArgument:
		return http.StatusBadRequest
	case InvalidTransition, InvalidPaymentState, ConcurrentModification:
		return http.StatusConflict
	case GatewayAuthError, GatewayUnavailable, GatewayRejected:
		return http.StatusBadGateway
	case GatewayTimeout:
		return http.StatusGatewayTimeout
	case PaymentUnconfirmed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

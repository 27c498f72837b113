package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ItsMoloy/Android-250/libs/apperr"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code      apperr.Code    `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// PaymentRetryAfter is advertised to callers that should reconcile later.
const PaymentRetryAfter = 15

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error":{"code","message"}} with the status
// implied by its taxonomy code. Internal errors never leak their cause.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	msg := "internal error"
	var details map[string]any
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
		if code != apperr.Internal {
			details = ae.Details
		}
	}
	if code == apperr.PaymentUnconfirmed {
		w.Header().Set("Retry-After", strconv.Itoa(PaymentRetryAfter))
	}
	payload := errorPayload{Code: code, Message: msg, Details: details}
	if r != nil {
		payload.RequestID = RequestIDFromContext(r.Context())
	}
	WriteJSON(w, apperr.HTTPStatus(code), errorBody{Error: payload})
}

// DecodeJSON strictly decodes a single JSON object from the request body.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.InvalidArgument, "request body is empty")
		}
		return apperr.Wrap(apperr.InvalidArgument, fmt.Sprintf("invalid json: %v", err), err)
	}
	return nil
}

// RequireMethod writes 405 and returns false when r does not use method.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

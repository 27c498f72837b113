// Package gateway wraps external payment providers behind the four step
// checkout protocol used by the appointment orchestrator: acquire a token,
// create a session, execute it, and query it. Every method is a single
// outbound attempt; retry policy belongs to the caller.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"

	"github.com/ItsMoloy/Android-250/libs/apperr"
)

// Status is the provider's view of a session, normalised.
type Status string

const (
	// StatusInitiated means the session exists and has not been executed.
	StatusInitiated Status = "initiated"
	// StatusCompleted means the charge went through.
	StatusCompleted Status = "completed"
	// StatusFailed is a definitive failure (declined, cancelled, expired).
	StatusFailed Status = "failed"
	// StatusPending is anything the provider has not settled yet.
	StatusPending Status = "pending"
)

func (s Status) Final() bool { return s == StatusCompleted || s == StatusFailed }

// Token is a short lived bearer credential. It is never cached beyond one
// orchestration call.
type Token struct {
	Value     string
	ExpiresIn int
}

type Session struct {
	PaymentID   string
	CheckoutURL string
	Status      Status
}

type Execution struct {
	PaymentID     string
	TransactionID string
	Status        Status
	Raw           json.RawMessage
}

type Client interface {
	AcquireToken(ctx context.Context) (Token, error)
	CreateSession(ctx context.Context, tok Token, amount int64, invoiceRef string) (Session, error)
	Execute(ctx context.Context, tok Token, paymentID string) (Execution, error)
	Query(ctx context.Context, tok Token, paymentID string) (Execution, error)
}

// transportError classifies a failed round trip. Timeouts are kept apart
// from other failures because an execute that timed out may have succeeded.
func transportError(op string, err error) error {
	if isTimeout(err) {
		return apperr.Wrap(apperr.GatewayTimeout, op+" timed out", err)
	}
	return apperr.Wrap(apperr.GatewayUnavailable, op+" failed", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func statusError(op string, httpStatus int, body []byte) error {
	code := apperr.GatewayRejected
	if httpStatus >= 500 || httpStatus == 429 {
		code = apperr.GatewayUnavailable
	}
	return apperr.Newf(code, "%s returned %d", op, httpStatus).
		WithDetail("http_status", httpStatus).
		WithDetail("payload", truncate(body))
}

func truncate(b []byte) string {
	const max = 2048
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type StripeConfig struct {
	SecretKey  string
	APIURL     string // override for tests and stripe-mock
	Currency   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// StripeClient maps the checkout protocol onto manually captured
// PaymentIntents: create authorizes, execute captures, query retrieves.
type StripeClient struct {
	sc       *client.API
	key      string
	currency string
}

func NewStripeClient(cfg StripeConfig) (*StripeClient, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	bc := &stripe.BackendConfig{
		HTTPClient:        hc,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, bc),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
	}
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "bdt"
	}
	return &StripeClient{sc: client.New(key, backends), key: key, currency: currency}, nil
}

// AcquireToken has nothing to exchange: the secret key is the credential.
func (c *StripeClient) AcquireToken(context.Context) (Token, error) {
	return Token{Value: c.key}, nil
}

func (c *StripeClient) CreateSession(ctx context.Context, _ Token, amount int64, invoiceRef string) (Session, error) {
	ctx, span := tracer.Start(ctx, "gateway.stripe.create_session", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if amount <= 0 {
		return Session{}, fail(span, apperr.Newf(apperr.GatewayRejected, "amount must be positive (got %d)", amount))
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount * 100),
		Currency:      stripe.String(c.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(invoiceRef)
	params.AddMetadata("invoice_ref", invoiceRef)

	pi, err := c.sc.PaymentIntents.New(params)
	if err != nil {
		return Session{}, fail(span, stripeError("create session", err))
	}
	span.SetAttributes(attribute.String("payment.id", pi.ID))
	return Session{PaymentID: pi.ID, CheckoutURL: pi.ClientSecret, Status: mapIntentStatus(pi.Status)}, nil
}

func (c *StripeClient) Execute(ctx context.Context, _ Token, paymentID string) (Execution, error) {
	ctx, span := tracer.Start(ctx, "gateway.stripe.execute", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := c.sc.PaymentIntents.Capture(paymentID, params)
	if err != nil {
		return Execution{}, fail(span, stripeError("execute", err))
	}
	return intentExecution(pi), nil
}

func (c *StripeClient) Query(ctx context.Context, _ Token, paymentID string) (Execution, error) {
	ctx, span := tracer.Start(ctx, "gateway.stripe.query", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.sc.PaymentIntents.Get(paymentID, params)
	if err != nil {
		return Execution{}, fail(span, stripeError("query", err))
	}
	return intentExecution(pi), nil
}

func intentExecution(pi *stripe.PaymentIntent) Execution {
	ex := Execution{PaymentID: pi.ID, Status: mapIntentStatus(pi.Status)}
	if pi.LatestCharge != nil {
		ex.TransactionID = pi.LatestCharge.ID
	}
	return ex
}

// A PaymentIntent awaiting capture has not been executed yet.
func mapIntentStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCompleted
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	case stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction:
		return StatusInitiated
	default:
		return StatusPending
	}
}

func stripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return transportError(op, err)
	}
	code := apperr.GatewayRejected
	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized:
		code = apperr.GatewayAuthError
	case se.HTTPStatusCode >= 500 || se.HTTPStatusCode == http.StatusTooManyRequests:
		code = apperr.GatewayUnavailable
	}
	return apperr.Wrap(code, op+": "+se.Msg, err).
		WithDetail("http_status", se.HTTPStatusCode).
		WithDetail("stripe_code", string(se.Code))
}

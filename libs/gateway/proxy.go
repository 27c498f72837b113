package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ProxyConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ProxyClient talks to a payment-proxy deployment (/create-payment,
// /execute-payment, /query-payment). The proxy grants a provider token for
// every request it forwards, so AcquireToken makes no call.
type ProxyClient struct {
	baseURL string
	hc      *http.Client
}

func NewProxyClient(cfg ProxyConfig) (*ProxyClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("payment proxy url is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &ProxyClient{baseURL: base, hc: hc}, nil
}

type proxyCreateRequest struct {
	Amount                int64  `json:"amount"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
}

type proxyPaymentRequest struct {
	PaymentID string `json:"paymentID"`
}

type proxyFailure struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (c *ProxyClient) AcquireToken(context.Context) (Token, error) { return Token{}, nil }

func (c *ProxyClient) CreateSession(ctx context.Context, _ Token, amount int64, invoiceRef string) (Session, error) {
	ctx, span := tracer.Start(ctx, "gateway.create_session", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.amount", amount), attribute.String("payment.invoice_ref", invoiceRef))

	if amount <= 0 {
		return Session{}, fail(span, apperr.Newf(apperr.GatewayRejected, "amount must be positive (got %d)", amount))
	}
	out, raw, err := c.post(ctx, "/create-payment", proxyCreateRequest{Amount: amount, MerchantInvoiceNumber: invoiceRef}, "create session")
	if err != nil {
		return Session{}, fail(span, err)
	}
	if out.PaymentID == "" {
		return Session{}, fail(span, apperr.New(apperr.GatewayRejected, "create session returned no paymentID").
			WithDetail("payload", truncate(raw)))
	}
	url := out.CheckoutURL
	if url == "" {
		url = out.BkashURL
	}
	span.SetAttributes(attribute.String("payment.id", out.PaymentID))
	return Session{PaymentID: out.PaymentID, CheckoutURL: url, Status: mapCheckoutStatus(out.TransactionStatus)}, nil
}

func (c *ProxyClient) Execute(ctx context.Context, _ Token, paymentID string) (Execution, error) {
	return c.payment(ctx, "gateway.execute", "/execute-payment", "execute", paymentID)
}

func (c *ProxyClient) Query(ctx context.Context, _ Token, paymentID string) (Execution, error) {
	return c.payment(ctx, "gateway.query", "/query-payment", "query", paymentID)
}

func (c *ProxyClient) payment(ctx context.Context, spanName, path, op, paymentID string) (Execution, error) {
	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	out, raw, err := c.post(ctx, path, proxyPaymentRequest{PaymentID: paymentID}, op)
	if err != nil {
		return Execution{}, fail(span, err)
	}
	id := out.PaymentID
	if id == "" {
		id = paymentID
	}
	return Execution{
		PaymentID:     id,
		TransactionID: out.TrxID,
		Status:        mapCheckoutStatus(out.TransactionStatus),
		Raw:           json.RawMessage(raw),
	}, nil
}

func (c *ProxyClient) post(ctx context.Context, path string, in any, op string) (paymentResponse, []byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return paymentResponse{}, nil, fmt.Errorf("gateway: %s body: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return paymentResponse{}, nil, fmt.Errorf("gateway: %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return paymentResponse{}, nil, transportError(op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return paymentResponse{}, nil, transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return paymentResponse{}, raw, proxyError(op, resp.StatusCode, raw)
	}

	var out paymentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return paymentResponse{}, raw, apperr.Wrap(apperr.GatewayUnavailable, op+" returned malformed json", err).
			WithDetail("payload", truncate(raw))
	}
	if out.ErrorCode != "" {
		return out, raw, apperr.Newf(apperr.GatewayRejected, "%s rejected: %s", op, out.ErrorMessage).
			WithDetail("error_code", out.ErrorCode).
			WithDetail("payload", truncate(raw))
	}
	return out, raw, nil
}

// proxyError keeps the classification the proxy made upstream. The proxy
// answers every failure with 500, so the status alone would turn a
// rejection into a retryable outage.
func proxyError(op string, httpStatus int, raw []byte) error {
	var f proxyFailure
	if json.Unmarshal(raw, &f) != nil {
		return statusError(op, httpStatus, raw)
	}
	var code apperr.Code
	switch apperr.Code(f.Code) {
	case apperr.GatewayAuthError, apperr.GatewayRejected, apperr.GatewayTimeout, apperr.GatewayUnavailable:
		code = apperr.Code(f.Code)
	case apperr.InvalidArgument:
		code = apperr.GatewayRejected
	default:
		return statusError(op, httpStatus, raw)
	}
	return apperr.Newf(code, "%s failed at proxy: %s", op, f.Message).
		WithDetail("http_status", httpStatus).
		WithDetail("payload", truncate(raw))
}

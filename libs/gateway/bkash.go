package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("clinic.libs.gateway")

// Credentials are the long lived app credentials of the tokenized checkout API.
type Credentials struct {
	Username  string
	Password  string
	AppKey    string
	AppSecret string
}

type CheckoutConfig struct {
	BaseURL     string
	Credentials Credentials
	Currency    string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// CheckoutClient speaks the tokenized mobile checkout protocol
// (token/grant, payment/create, payment/execute, payment/query).
type CheckoutClient struct {
	baseURL  string
	creds    Credentials
	currency string
	hc       *http.Client
}

func NewCheckoutClient(cfg CheckoutConfig) (*CheckoutClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if cfg.Credentials.AppKey == "" || cfg.Credentials.AppSecret == "" {
		return nil, fmt.Errorf("gateway app key and secret are required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "BDT"
	}
	return &CheckoutClient{baseURL: base, creds: cfg.Credentials, currency: currency, hc: hc}, nil
}

type grantRequest struct {
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
}

type grantResponse struct {
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	StatusCode   string `json:"statusCode"`
	StatusMsg    string `json:"statusMessage"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type createRequest struct {
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	Intent                string `json:"intent"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
}

// paymentResponse covers create, execute and query payloads.
type paymentResponse struct {
	PaymentID         string `json:"paymentID"`
	BkashURL          string `json:"bkashURL"`
	CheckoutURL       string `json:"checkoutURL"`
	TrxID             string `json:"trxID"`
	TransactionStatus string `json:"transactionStatus"`
	ErrorCode         string `json:"errorCode"`
	ErrorMessage      string `json:"errorMessage"`
}

func (c *CheckoutClient) AcquireToken(ctx context.Context) (Token, error) {
	ctx, span := tracer.Start(ctx, "gateway.acquire_token", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body, _ := json.Marshal(grantRequest{AppKey: c.creds.AppKey, AppSecret: c.creds.AppSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/token/grant", bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("gateway: token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("username", c.creds.Username)
	req.Header.Set("password", c.creds.Password)

	status, raw, err := c.do(req)
	if err != nil {
		return Token{}, fail(span, transportError("token grant", err))
	}
	if status < 200 || status > 299 {
		return Token{}, fail(span, apperr.Newf(apperr.GatewayAuthError, "token grant returned %d", status).
			WithDetail("http_status", status).
			WithDetail("payload", truncate(raw)))
	}
	var out grantResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.IDToken == "" {
		return Token{}, fail(span, apperr.New(apperr.GatewayAuthError, "token grant returned no id_token").
			WithDetail("payload", truncate(raw)))
	}
	return Token{Value: out.IDToken, ExpiresIn: out.ExpiresIn}, nil
}

func (c *CheckoutClient) CreateSession(ctx context.Context, tok Token, amount int64, invoiceRef string) (Session, error) {
	ctx, span := tracer.Start(ctx, "gateway.create_session", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.amount", amount), attribute.String("payment.invoice_ref", invoiceRef))

	if amount <= 0 {
		return Session{}, fail(span, apperr.Newf(apperr.GatewayRejected, "amount must be positive (got %d)", amount))
	}
	body, _ := json.Marshal(createRequest{
		Amount:                strconv.FormatInt(amount, 10),
		Currency:              c.currency,
		Intent:                "sale",
		MerchantInvoiceNumber: invoiceRef,
	})
	out, raw, err := c.call(ctx, tok, "/checkout/payment/create", body, "create session")
	if err != nil {
		return Session{}, fail(span, err)
	}
	if out.PaymentID == "" {
		return Session{}, fail(span, apperr.New(apperr.GatewayRejected, "create session returned no paymentID").
			WithDetail("payload", truncate(raw)))
	}
	url := out.BkashURL
	if url == "" {
		url = out.CheckoutURL
	}
	span.SetAttributes(attribute.String("payment.id", out.PaymentID))
	return Session{PaymentID: out.PaymentID, CheckoutURL: url, Status: mapCheckoutStatus(out.TransactionStatus)}, nil
}

func (c *CheckoutClient) Execute(ctx context.Context, tok Token, paymentID string) (Execution, error) {
	ctx, span := tracer.Start(ctx, "gateway.execute", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	out, raw, err := c.call(ctx, tok, "/checkout/payment/execute/"+paymentID, nil, "execute")
	if err != nil {
		return Execution{}, fail(span, err)
	}
	return c.execution(paymentID, out, raw), nil
}

func (c *CheckoutClient) Query(ctx context.Context, tok Token, paymentID string) (Execution, error) {
	ctx, span := tracer.Start(ctx, "gateway.query", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", paymentID))

	out, raw, err := c.call(ctx, tok, "/checkout/payment/query/"+paymentID, nil, "query")
	if err != nil {
		return Execution{}, fail(span, err)
	}
	return c.execution(paymentID, out, raw), nil
}

func (c *CheckoutClient) execution(paymentID string, out paymentResponse, raw []byte) Execution {
	id := out.PaymentID
	if id == "" {
		id = paymentID
	}
	return Execution{
		PaymentID:     id,
		TransactionID: out.TrxID,
		Status:        mapCheckoutStatus(out.TransactionStatus),
		Raw:           json.RawMessage(raw),
	}
}

func (c *CheckoutClient) call(ctx context.Context, tok Token, path string, body []byte, op string) (paymentResponse, []byte, error) {
	var rdr io.Reader = http.NoBody
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return paymentResponse{}, nil, fmt.Errorf("gateway: %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", tok.Value)
	req.Header.Set("X-APP-Key", c.creds.AppKey)

	status, raw, err := c.do(req)
	if err != nil {
		return paymentResponse{}, nil, transportError(op, err)
	}
	if status < 200 || status > 299 {
		return paymentResponse{}, raw, statusError(op, status, raw)
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

func (c *CheckoutClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func mapCheckoutStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed":
		return StatusCompleted
	case "initiated":
		return StatusInitiated
	case "failed", "cancelled", "canceled", "expired", "declined":
		return StatusFailed
	default:
		return StatusPending
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
	return err
}

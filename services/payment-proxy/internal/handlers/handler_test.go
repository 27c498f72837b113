package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ItsMoloy/Android-250/libs/gateway"
	"github.com/ItsMoloy/Android-250/services/payment-proxy/internal/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkoutServer mimics the tokenized checkout endpoints.
type checkoutServer struct {
	grants  atomic.Int32
	invoice atomic.Value
	status  string
}

func (s *checkoutServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/checkout/token/grant":
		s.grants.Add(1)
		_, _ = io.WriteString(w, `{"id_token":"tok","token_type":"Bearer","expires_in":3600}`)
	case r.URL.Path == "/checkout/payment/create":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.invoice.Store(body["merchantInvoiceNumber"])
		_, _ = io.WriteString(w, `{"paymentID":"PAY-1","bkashURL":"https://pay.example/PAY-1","transactionStatus":"Initiated"}`)
	case strings.HasPrefix(r.URL.Path, "/checkout/payment/execute/"),
		strings.HasPrefix(r.URL.Path, "/checkout/payment/query/"):
		if r.Header.Get("Authorization") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		_, _ = io.WriteString(w, `{"paymentID":"`+id+`","trxID":"TRX9","transactionStatus":"`+s.status+`"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type recordingSender struct {
	sent []email.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, m email.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func newProxy(t *testing.T, cs *checkoutServer, sender email.Sender) *httptest.Server {
	t.Helper()
	upstream := httptest.NewServer(cs)
	t.Cleanup(upstream.Close)
	gw, err := gateway.NewCheckoutClient(gateway.CheckoutConfig{
		BaseURL:     upstream.URL,
		Credentials: gateway.Credentials{Username: "u", Password: "p", AppKey: "k", AppSecret: "s"},
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	New(gw, sender, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestCreatePaymentReturnsHandle(t *testing.T) {
	cs := &checkoutServer{}
	srv := newProxy(t, cs, &recordingSender{})

	resp, raw := post(t, srv, "/create-payment", `{"amount": 500}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out createPaymentResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "PAY-1", out.PaymentID)
	assert.Equal(t, "https://pay.example/PAY-1", out.CheckoutURL)
	assert.Equal(t, int32(1), cs.grants.Load())
	assert.True(t, strings.HasPrefix(cs.invoice.Load().(string), "INV-"))
}

func TestCreatePaymentRejectsBadAmount(t *testing.T) {
	srv := newProxy(t, &checkoutServer{}, &recordingSender{})

	resp, raw := post(t, srv, "/create-payment", `{"amount": 0}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var out messageBody
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "Failed to create payment", out.Message)
	assert.Equal(t, "INVALID_ARGUMENT", out.Code)
}

func TestExecutePaymentRelaysGatewayPayload(t *testing.T) {
	cs := &checkoutServer{status: "Completed"}
	srv := newProxy(t, cs, &recordingSender{})

	resp, raw := post(t, srv, "/execute-payment", `{"paymentID":"PAY-7"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "PAY-7", out["paymentID"])
	assert.Equal(t, "TRX9", out["trxID"])
	assert.Equal(t, "Completed", out["transactionStatus"])
}

func TestQueryPaymentFreshTokenPerCall(t *testing.T) {
	cs := &checkoutServer{status: "Initiated"}
	srv := newProxy(t, cs, &recordingSender{})

	for i := 0; i < 2; i++ {
		resp, _ := post(t, srv, "/query-payment", `{"paymentID":"PAY-7"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, int32(2), cs.grants.Load())
}

func TestPaymentCallRequiresID(t *testing.T) {
	srv := newProxy(t, &checkoutServer{}, &recordingSender{})

	resp, raw := post(t, srv, "/query-payment", `{}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(raw), "Failed to query payment")
}

func TestSendEmail(t *testing.T) {
	sender := &recordingSender{}
	srv := newProxy(t, &checkoutServer{}, sender)

	resp, raw := post(t, srv, "/send-email", `{"email":"p@example.com","username":"Ayesha"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Email sent successfully", string(raw))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "p@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Body, "Hello Ayesha")
}

func TestSendEmailFailure(t *testing.T) {
	srv := newProxy(t, &checkoutServer{}, &recordingSender{err: errors.New("smtp down")})

	resp, raw := post(t, srv, "/send-email", `{"email":"p@example.com","username":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to send email", strings.TrimSpace(string(raw)))
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newProxy(t, &checkoutServer{}, &recordingSender{})

	resp, err := http.Get(srv.URL + "/create-payment")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProxyClientRoundTrip(t *testing.T) {
	cs := &checkoutServer{status: "Completed"}
	srv := newProxy(t, cs, &recordingSender{})
	c, err := gateway.NewProxyClient(gateway.ProxyConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	tok, err := c.AcquireToken(ctx)
	require.NoError(t, err)
	sess, err := c.CreateSession(ctx, tok, 500, "appt-1-2")
	require.NoError(t, err)
	assert.Equal(t, "PAY-1", sess.PaymentID)
	assert.Equal(t, "https://pay.example/PAY-1", sess.CheckoutURL)
	assert.Equal(t, "appt-1-2", cs.invoice.Load())

	ex, err := c.Execute(ctx, tok, sess.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCompleted, ex.Status)
	assert.Equal(t, "TRX9", ex.TransactionID)

	q, err := c.Query(ctx, tok, sess.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusCompleted, q.Status)
	// one provider token per forwarded call
	assert.EqualValues(t, 3, cs.grants.Load())
}

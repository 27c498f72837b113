package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProxyClient(t *testing.T, h http.HandlerFunc) *ProxyClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewProxyClient(ProxyConfig{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return c
}

func TestProxyCreateSendsAmountAndInvoice(t *testing.T) {
	c := newTestProxyClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/create-payment", r.URL.Path)
		var body proxyCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, proxyCreateRequest{Amount: 500, MerchantInvoiceNumber: "appt-1-2"}, body)
		_, _ = io.WriteString(w, `{"paymentID":"PAY-1","checkoutURL":"https://pay.example/PAY-1","transactionStatus":"Initiated"}`)
	})

	tok, err := c.AcquireToken(context.Background())
	require.NoError(t, err)
	sess, err := c.CreateSession(context.Background(), tok, 500, "appt-1-2")
	require.NoError(t, err)
	assert.Equal(t, Session{PaymentID: "PAY-1", CheckoutURL: "https://pay.example/PAY-1", Status: StatusInitiated}, sess)
}

func TestProxyExecuteMapsRelayedPayload(t *testing.T) {
	c := newTestProxyClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute-payment", r.URL.Path)
		var body proxyPaymentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "PAY-1", body.PaymentID)
		_, _ = io.WriteString(w, `{"paymentID":"PAY-1","trxID":"TRX9","transactionStatus":"Completed"}`)
	})

	ex, err := c.Execute(context.Background(), Token{}, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, ex.Status)
	assert.Equal(t, "TRX9", ex.TransactionID)
}

func TestProxyKeepsUpstreamClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   apperr.Code
	}{
		{"rejected", http.StatusInternalServerError, `{"message":"Failed to execute payment","code":"GATEWAY_REJECTED"}`, apperr.GatewayRejected},
		{"timeout", http.StatusInternalServerError, `{"message":"Failed to execute payment","code":"GATEWAY_TIMEOUT"}`, apperr.GatewayTimeout},
		{"auth", http.StatusInternalServerError, `{"message":"Failed to execute payment","code":"GATEWAY_AUTH_ERROR"}`, apperr.GatewayAuthError},
		{"bad request", http.StatusInternalServerError, `{"message":"Failed to execute payment","code":"INVALID_ARGUMENT"}`, apperr.GatewayRejected},
		{"unclassified", http.StatusInternalServerError, `{"message":"boom"}`, apperr.GatewayUnavailable},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, apperr.GatewayUnavailable},
		{"provider error in 200", http.StatusOK, `{"errorCode":"2117","errorMessage":"execute already called"}`, apperr.GatewayRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestProxyClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := c.Execute(context.Background(), Token{}, "PAY-1")
			assert.Equal(t, tc.want, apperr.CodeOf(err), "err: %v", err)
		})
	}
}

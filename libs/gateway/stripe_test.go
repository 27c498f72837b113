package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStripe(t *testing.T, h http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewStripeClient(StripeConfig{SecretKey: "sk_test_123", APIURL: srv.URL})
	require.NoError(t, err)
	return c
}

func TestStripeCreateSessionUsesManualCapture(t *testing.T) {
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "manual", r.PostForm.Get("capture_method"))
		assert.Equal(t, "50000", r.PostForm.Get("amount"))
		assert.Equal(t, "inv-1", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"requires_payment_method","client_secret":"pi_1_secret_x"}`))
	})

	s, err := c.CreateSession(context.Background(), Token{}, 500, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", s.PaymentID)
	assert.Equal(t, "pi_1_secret_x", s.CheckoutURL)
	assert.Equal(t, StatusInitiated, s.Status)
}

func TestStripeExecuteAndQuery(t *testing.T) {
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/payment_intents/pi_1/capture":
			_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"succeeded","latest_charge":"ch_1"}`))
		case "/v1/payment_intents/pi_2":
			_, _ = w.Write([]byte(`{"id":"pi_2","object":"payment_intent","status":"canceled"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such payment_intent"}}`))
		}
	})

	ex, err := c.Execute(context.Background(), Token{}, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, ex.Status)
	assert.Equal(t, "ch_1", ex.TransactionID)

	ex, err = c.Query(context.Background(), Token{}, "pi_2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ex.Status)

	_, err = c.Query(context.Background(), Token{}, "pi_missing")
	assert.Equal(t, apperr.GatewayRejected, apperr.CodeOf(err))
}

func TestStripeServerErrorIsUnavailable(t *testing.T) {
	c := newTestStripe(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
	})
	_, err := c.Query(context.Background(), Token{}, "pi_1")
	assert.Equal(t, apperr.GatewayUnavailable, apperr.CodeOf(err))
}

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOfWalksWrappedChain(t *testing.T) {
	base := Wrap(GatewayUnavailable, "create session", errors.New("dial tcp: refused"))
	wrapped := fmt.Errorf("attach payment: %w", base)

	assert.Equal(t, GatewayUnavailable, CodeOf(wrapped))
	assert.True(t, Is(wrapped, GatewayUnavailable))
	assert.True(t, errors.Is(wrapped, New(GatewayUnavailable, "")))
	assert.False(t, errors.Is(wrapped, New(GatewayRejected, "")))
	assert.True(t, Retryable(wrapped))
}

func TestCodeOfPlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, Internal, CodeOf(errors.New("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestTimeoutIsNotRetryable(t *testing.T) {
	assert.False(t, Retryable(New(GatewayTimeout, "execute")))
}

func TestDetailsAndMessage(t *testing.T) {
	err := New(GatewayAuthError, "token grant rejected").WithDetail("payload", `{"msg":"bad key"}`)
	require.NotNil(t, err.Details)
	assert.Equal(t, `{"msg":"bad key"}`, err.Details["payload"])
	assert.Equal(t, "GATEWAY_AUTH_ERROR: token grant rejected", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(Unauthenticated))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Unauthorized))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ConcurrentModification))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(PaymentUnconfirmed))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Internal))
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNotificationWriteCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveNotificationWrite("doctor", true)
	m.ObserveNotificationWrite("admin", false)
	m.ObserveNotificationWrite("admin", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationWrites.WithLabelValues("doctor", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.notificationWrites.WithLabelValues("admin", "failed")))
}

func TestGatewayCallDefaultsResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveGatewayCall("execute", "", 0.2)
	m.ObserveGatewayCall("execute", "GATEWAY_TIMEOUT", 30)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayCalls.WithLabelValues("execute", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayCalls.WithLabelValues("execute", "GATEWAY_TIMEOUT")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("accepted", "ok")
	m.ObserveNotificationWrite("doctor", true)
	m.ObserveEmail(false)
	m.ObserveGatewayCall("query", "", 1)
	m.ObservePaymentOutcome("confirm", "paid")
	m.SubscriptionOpened()
	m.SubscriptionClosed()
}

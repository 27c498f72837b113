package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the appointment-service collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	transitions        *prometheus.CounterVec
	notificationWrites *prometheus.CounterVec
	emailSends         *prometheus.CounterVec
	gatewayCalls       *prometheus.CounterVec
	gatewayLatency     *prometheus.HistogramVec
	paymentOutcomes    *prometheus.CounterVec
	subscriptions      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by target status and result",
		}, []string{"to", "result"}),
		notificationWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notifications",
			Name:      "writes_total",
			Help:      "Notification writes by recipient type and result",
		}, []string{"recipient_type", "result"}),
		emailSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "notifications",
			Name:      "emails_total",
			Help:      "Notification emails by result",
		}, []string{"result"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and result code",
		}, []string{"op", "result"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "gateway_call_seconds",
			Help:      "Latency of payment gateway calls",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		paymentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "payments",
			Name:      "outcomes_total",
			Help:      "Payment confirmation and reconciliation outcomes",
		}, []string{"source", "outcome"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "dashboard",
			Name:      "subscriptions",
			Help:      "Live dashboard subscriptions",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.notificationWrites, m.emailSends, m.gatewayCalls,
		m.gatewayLatency, m.paymentOutcomes, m.subscriptions)
	return m
}

func (m *Metrics) ObserveTransition(to, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to, result).Inc()
}

func (m *Metrics) ObserveNotificationWrite(recipientType string, ok bool) {
	if m == nil {
		return
	}
	m.notificationWrites.WithLabelValues(recipientType, result(ok)).Inc()
}

func (m *Metrics) ObserveEmail(ok bool) {
	if m == nil {
		return
	}
	m.emailSends.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveGatewayCall(op, code string, seconds float64) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.gatewayCalls.WithLabelValues(op, code).Inc()
	m.gatewayLatency.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) ObservePaymentOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

// Subscriptions exposes the live subscription gauge.
func (m *Metrics) Subscriptions() prometheus.Gauge { return m.subscriptions }

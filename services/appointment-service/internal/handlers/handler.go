package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/libs/httpx"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/appointments"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/dashboard"
)

type Handler struct {
	svc                    *appointments.Service
	dash                   *dashboard.Manager
	events                 ProviderEvents
	logger                 *slog.Logger
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	wsPingInterval         time.Duration
	allowedOrigins         []string
}

// ProviderEvents deduplicates provider webhook deliveries.
type ProviderEvents interface {
	RecordProviderEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error)
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	WSPingInterval                time.Duration
	// AllowedOrigins restricts websocket handshakes; empty allows any.
	AllowedOrigins []string
}

func New(svc *appointments.Service, dash *dashboard.Manager, events ProviderEvents, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	ping := cfg.WSPingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	return &Handler{
		svc:                    svc,
		dash:                   dash,
		events:                 events,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		wsPingInterval:         ping,
		allowedOrigins:         cfg.AllowedOrigins,
	}
}

// Routes mounts the API on mux. authed wraps every route that needs a
// caller identity and limit throttles every route, the websocket handshake
// included. api wraps the request/response routes but not the websocket
// stream, which outlives any request timeout.
func (h *Handler) Routes(mux *http.ServeMux, authed, limit httpx.Middleware, api ...httpx.Middleware) {
	wrap := func(f http.HandlerFunc) http.Handler {
		return authed(limit(httpx.Chain(f, api...)))
	}
	mux.Handle("/api/v1/appointments", wrap(h.Appointments))
	mux.Handle("/api/v1/appointments/get", wrap(h.GetAppointment))
	mux.Handle("/api/v1/appointments/transition", wrap(h.Transition))
	mux.Handle("/api/v1/appointments/payment/attach", wrap(h.AttachPayment))
	mux.Handle("/api/v1/appointments/payment/confirm", wrap(h.ConfirmPayment))
	mux.Handle("/api/v1/appointments/payment/reconcile", wrap(h.ReconcilePayment))
	mux.Handle("/api/v1/notifications", wrap(h.Notifications))
	mux.Handle("/api/v1/notifications/read", wrap(h.MarkNotificationRead))
	mux.Handle("/api/v1/dashboard", wrap(h.Dashboard))
	mux.Handle("/api/v1/dashboard/ws", authed(limit(http.HandlerFunc(h.DashboardStream))))
	mux.Handle("/api/v1/payments/webhooks/stripe", limit(httpx.Chain(http.HandlerFunc(h.StripeWebhook), api...)))
}

// actor is the authenticated caller, or the zero principal.
func actor(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

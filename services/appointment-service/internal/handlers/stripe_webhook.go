package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/httpx"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/appointments"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook handles Stripe payment intent events (no JWT auth; the
// signature is the auth). Events only ever trigger confirm or a query-only
// reconcile, so a forged-but-signed replay cannot charge twice.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.stripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.stripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)

	fresh, err := h.events.RecordProviderEvent(r.Context(), "stripe", evt.ID, evtType, body)
	if err != nil {
		h.logger.Error("failed to record provider event", "provider_event_id", evt.ID, "err", err)
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}
	if !fresh {
		h.logger.Info("payment provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	switch evtType {
	case "payment_intent.amount_capturable_updated",
		"payment_intent.succeeded",
		"payment_intent.payment_failed",
		"payment_intent.canceled":
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		h.logger.Error("stripe: invalid payment intent payload", "err", err)
		http.Error(w, "invalid payment intent payload", http.StatusBadRequest)
		return
	}
	appointmentID := appointmentFromMetadata(pi.Metadata)
	if appointmentID == "" {
		h.logger.Warn("stripe: payment intent without appointment metadata", "payment_intent", pi.ID)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	if evtType == "payment_intent.amount_capturable_updated" {
		// The patient authorised the charge; capture it.
		_, err = h.svc.ConfirmPayment(r.Context(), appointments.System, appointmentID, pi.ID)
	} else {
		_, err = h.svc.ReconcilePayment(r.Context(), appointments.System, appointmentID)
	}
	switch apperr.CodeOf(err) {
	case "":
	case apperr.NotFound, apperr.InvalidArgument, apperr.InvalidPaymentState:
		// Stale or foreign event; retrying will not help.
		h.logger.Warn("stripe event not applicable",
			"provider_event_id", evt.ID,
			"appointment_id", appointmentID,
			"payment_intent", pi.ID,
			"err", err,
		)
	default:
		h.logger.Error("stripe event processing failed",
			"provider_event_id", evt.ID,
			"appointment_id", appointmentID,
			"err", err,
		)
		// PaymentUnconfirmed and gateway failures are left to the
		// reconciler; the event itself was recorded.
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "processed"})
}

// appointmentFromMetadata reads appointment_id, falling back to the invoice
// reference ("<appointment id>-<version>") set when the session was created.
func appointmentFromMetadata(md map[string]string) string {
	if id := strings.TrimSpace(md["appointment_id"]); id != "" {
		return id
	}
	ref := strings.TrimSpace(md["invoice_ref"])
	if i := strings.LastIndex(ref, "-"); i > 0 {
		return ref[:i]
	}
	return ""
}

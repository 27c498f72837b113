package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/config"
	"github.com/stripe/stripe-go/v79/webhook"
)

var eventTypes = map[string]string{
	"payment_intent.amount_capturable_updated": "requires_capture",
	"payment_intent.succeeded":                 "succeeded",
	"payment_intent.payment_failed":            "requires_payment_method",
	"payment_intent.canceled":                  "canceled",
}

func main() {
	_ = config.LoadDotEnv()
	var (
		baseURL     = flag.String("base-url", config.String("BASE_URL", "http://localhost:8086"), "appointment service base url")
		evtType     = flag.String("type", config.String("STRIPE_EVENT_TYPE", "payment_intent.amount_capturable_updated"), "stripe event type")
		appointment = flag.String("appointment-id", config.String("APPOINTMENT_ID", ""), "appointment_id metadata")
		intent      = flag.String("payment-intent", config.String("PAYMENT_INTENT_ID", ""), "payment intent id (the appointment's paymentId)")
		secret      = flag.String("secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*appointment) == "" || strings.TrimSpace(*intent) == "" {
		fatal("APPOINTMENT_ID and PAYMENT_INTENT_ID are required")
	}

	now := time.Now().UTC()
	eventID := fmt.Sprintf("evt_test_%d", now.UnixNano())
	payload, err := buildEventJSON(eventID, *evtType, now, *appointment, *intent)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/payments/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	fmt.Printf("event=%s status=%d body=%s\n", eventID, resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType string, t time.Time, appointmentID, intentID string) ([]byte, error) {
	status, ok := eventTypes[eventType]
	if !ok {
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	return json.Marshal(map[string]any{
		"id":      eventID,
		"object":  "event",
		"created": t.Unix(),
		"type":    eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":     intentID,
				"object": "payment_intent",
				"status": status,
				"metadata": map[string]any{
					"appointment_id": appointmentID,
				},
			},
		},
	})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}

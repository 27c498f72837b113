// Package mailer calls the "send notification email" collaborator.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Message struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Subject  string `json:"subject,omitempty"`
	Message  string `json:"message,omitempty"`
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// HTTPMailer posts to {base}/send-email and expects a 2xx text reply.
type HTTPMailer struct {
	url  string
	http *http.Client
}

func NewHTTPMailer(baseURL string, timeout time.Duration) *HTTPMailer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPMailer{
		url: strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/send-email",
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *HTTPMailer) Send(ctx context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if id := httpx.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(httpx.RequestIDHeader, id)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send-email returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type Noop struct{}

func (Noop) Send(context.Context, Message) error { return nil }

package email

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessageHeaders(t *testing.T) {
	msg := buildMessage("from@clinic.local", "p@example.com", "Hello", "body text")
	assert.True(t, strings.HasPrefix(msg, "From: from@clinic.local\r\nTo: p@example.com\r\nSubject: Hello\r\n"))
	assert.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n\r\nbody text\r\n")
}

func TestConfirmationGreetsUser(t *testing.T) {
	m := Confirmation("p@example.com", "Ayesha")
	assert.Equal(t, "p@example.com", m.To)
	assert.Contains(t, m.Subject, "Account Confirmation")
	assert.True(t, strings.HasPrefix(m.Body, "Hello Ayesha,"))
}

func TestSMTPSenderRespectsCancelledContext(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: "1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Send(ctx, Confirmation("p@example.com", "x")), context.Canceled)
}

func TestSendGridSenderPostsMail(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewSendGridSender(SendGridConfig{APIKey: "SG.test", FromEmail: "clinic@example.com", APIURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), Confirmation("p@example.com", "Ayesha")))

	assert.Equal(t, "Bearer SG.test", auth)
	assert.Equal(t, "Account Confirmation - Hospital Appointment System", got["subject"])
	from, _ := got["from"].(map[string]any)
	assert.Equal(t, "clinic@example.com", from["email"])
}

func TestSendGridSenderReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	s, err := NewSendGridSender(SendGridConfig{APIKey: "SG.bad", FromEmail: "clinic@example.com", APIURL: srv.URL})
	require.NoError(t, err)
	err = s.Send(context.Background(), Confirmation("p@example.com", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewSendGridSenderRequiresKey(t *testing.T) {
	_, err := NewSendGridSender(SendGridConfig{FromEmail: "a@b.c"})
	require.Error(t, err)
}

package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends email via SMTP. Authentication is used only when a
// username is configured (Mailpit and local relays accept anonymous mail).
type SMTPSender struct {
	addr string
	host string
	from string
	auth smtp.Auth
}

type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	host := strings.TrimSpace(cfg.Host)
	port := strings.TrimSpace(cfg.Port)
	if port == "" {
		port = "25"
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "no-reply@clinic.local"
	}
	s := &SMTPSender{addr: fmt.Sprintf("%s:%s", host, port), host: host, from: from}
	if cfg.Username != "" {
		s.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return s
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw := buildMessage(s.from, msg.To, msg.Subject, msg.Body)
	return smtp.SendMail(s.addr, s.auth, s.from, []string{msg.To}, []byte(raw))
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		body,
	)
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// APIURL overrides the SendGrid host (tests, sandboxes).
	APIURL string
}

type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

func NewSendGridSender(cfg SendGridConfig) (*SendGridSender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("sendgrid from email is required")
	}
	if cfg.FromName == "" {
		cfg.FromName = "Hospital Appointment System"
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.APIURL != "" {
		client.BaseURL = strings.TrimRight(cfg.APIURL, "/") + "/v3/mail/send"
	}
	return &SendGridSender{client: client, fromEmail: cfg.FromEmail, fromName: cfg.FromName}, nil
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, "")

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return nil
}

// Noop logs instead of sending.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) Send(_ context.Context, msg Message) error {
	if n.Logger != nil {
		n.Logger.Info("email disabled, dropping message", "to", msg.To, "subject", msg.Subject)
	}
	return nil
}

// Confirmation renders the account confirmation email.
func Confirmation(to, username string) Message {
	return Message{
		To:      to,
		ToName:  username,
		Subject: "Account Confirmation - Hospital Appointment System",
		Body:    fmt.Sprintf("Hello %s,\n\nThank you for signing up!\n\nBest regards,\nHospital Appointment System", username),
	}
}

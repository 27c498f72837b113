package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/config"
	"github.com/ItsMoloy/Android-250/libs/gateway"
	"github.com/ItsMoloy/Android-250/libs/httpx"
	otelx "github.com/ItsMoloy/Android-250/libs/otel"
	"github.com/ItsMoloy/Android-250/libs/runtime"
	"github.com/ItsMoloy/Android-250/services/payment-proxy/internal/email"
	"github.com/ItsMoloy/Android-250/services/payment-proxy/internal/handlers"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "payment-proxy")
	port, err := config.Port("PORT", "5000")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	gw, err := gateway.FromEnv()
	if err == nil {
		if _, loop := gw.(*gateway.ProxyClient); loop {
			err = fmt.Errorf("GATEWAY_PROVIDER=proxy is for proxy clients; pick bkash or stripe")
		}
	}
	if err != nil {
		logger.Error("gateway config error", "err", err)
		panic(err)
	}
	sender, err := newSender(logger)
	if err != nil {
		logger.Error("email config error", "err", err)
		panic(err)
	}

	mux := runtime.NewBaseMuxWithReady()
	handlers.New(gw, sender, logger).Routes(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
	)
	handler = otelhttp.NewHandler(handler, "payment-proxy")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	runtime.Shutdown(ctx, srv, logger, 10*time.Second)
}

func newSender(logger *slog.Logger) (email.Sender, error) {
	switch provider := strings.ToLower(config.String("EMAIL_PROVIDER", "smtp")); provider {
	case "smtp":
		return email.NewSMTPSender(email.SMTPConfig{
			Host:     config.String("SMTP_HOST", "localhost"),
			Port:     config.String("SMTP_PORT", "1025"),
			From:     config.String("SMTP_FROM", ""),
			Username: config.String("SMTP_USERNAME", ""),
			Password: config.String("SMTP_PASSWORD", ""),
		}), nil
	case "sendgrid":
		sg, err := email.NewSendGridSender(email.SendGridConfig{
			APIKey:    config.String("SENDGRID_API_KEY", ""),
			FromEmail: config.String("SENDGRID_FROM_EMAIL", ""),
			FromName:  config.String("SENDGRID_FROM_NAME", ""),
		})
		if err != nil {
			return nil, err
		}
		return sg, nil
	case "noop":
		return email.Noop{Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", provider)
	}
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ItsMoloy/Android-250/libs/config"
	"github.com/ItsMoloy/Android-250/libs/kafkax"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/appointments"
)

type Config struct {
	Port     string
	GRPCPort string

	StoreDriver        string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	KafkaBrokers       []string
	KafkaGroupID       string
	OutboxPollInterval time.Duration

	GatewayTimeout       time.Duration
	GatewayRetryAttempts int
	PaymentLockTTL       time.Duration
	StripeWebhookSecret  string

	JWTSecret string
	JWKSURL   string

	EmailServiceURL string

	ReconcileInterval time.Duration
	ReconcileLockKey  int64

	RequestTimeout     time.Duration
	RateLimitPerMinute int
	CORSAllowedOrigins []string
}

func loadConfig() (Config, error) {
	var (
		cfg Config
		err error
	)
	if cfg.Port, err = config.Port("PORT", "8086"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.OptionalPort("GRPC_PORT", "9096"); err != nil {
		return cfg, err
	}

	cfg.StoreDriver = strings.ToLower(config.String("STORE_DRIVER", "postgres"))
	switch cfg.StoreDriver {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("STORE_DRIVER must be postgres or memory (got %q)", cfg.StoreDriver)
	}
	cfg.RedisAddr = config.String("REDIS_ADDR", "")
	cfg.RedisPassword = config.String("REDIS_PASSWORD", "")
	cfg.KafkaBrokers = kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	cfg.KafkaGroupID = config.String("KAFKA_GROUP_ID", "appointment-service")
	if cfg.OutboxPollInterval, err = config.Duration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return cfg, err
	}

	if cfg.GatewayTimeout, err = config.Duration("GATEWAY_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.GatewayRetryAttempts, err = config.Int("GATEWAY_RETRY_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	// The payment lease is renewed while held; the TTL still has to cover a
	// whole operation in case renewals stall.
	budget := cfg.paymentConfig().PaymentBudget()
	if cfg.PaymentLockTTL, err = config.Duration("PAYMENT_LOCK_TTL", budget); err != nil {
		return cfg, err
	}
	if cfg.PaymentLockTTL < budget {
		return cfg, fmt.Errorf("PAYMENT_LOCK_TTL (%s) must cover a full payment operation (%s for GATEWAY_TIMEOUT %s and GATEWAY_RETRY_ATTEMPTS %d)",
			cfg.PaymentLockTTL, budget, cfg.GatewayTimeout, cfg.GatewayRetryAttempts)
	}
	cfg.StripeWebhookSecret = config.String("STRIPE_WEBHOOK_SECRET", "")

	cfg.JWTSecret = config.String("JWT_SECRET", "")
	cfg.JWKSURL = config.String("JWKS_URL", "")
	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		return cfg, fmt.Errorf("JWT_SECRET or JWKS_URL is required")
	}

	cfg.EmailServiceURL = config.String("EMAIL_SERVICE_URL", "")

	if cfg.ReconcileInterval, err = config.Duration("RECONCILE_INTERVAL", time.Minute); err != nil {
		return cfg, err
	}
	lockKey, err := config.Int("RECONCILE_LOCK_KEY", 4242101)
	if err != nil {
		return cfg, err
	}
	cfg.ReconcileLockKey = int64(lockKey)

	if cfg.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 45*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return cfg, err
	}
	cfg.CORSAllowedOrigins = config.List("CORS_ALLOWED_ORIGINS")
	return cfg, nil
}

func (c Config) paymentConfig() appointments.Config {
	return appointments.Config{
		GatewayTimeout: c.GatewayTimeout,
		RetryAttempts:  c.GatewayRetryAttempts,
	}
}

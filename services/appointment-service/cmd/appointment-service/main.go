package main

import (
	"context"
	"net/http"
	"time"

	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/libs/config"
	"github.com/ItsMoloy/Android-250/libs/db"
	"github.com/ItsMoloy/Android-250/libs/gateway"
	"github.com/ItsMoloy/Android-250/libs/httpx"
	"github.com/ItsMoloy/Android-250/libs/kafkax"
	"github.com/ItsMoloy/Android-250/libs/lock"
	otelx "github.com/ItsMoloy/Android-250/libs/otel"
	"github.com/ItsMoloy/Android-250/libs/runtime"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/appointments"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/dashboard"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/fanout"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/feed"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/handlers"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/mailer"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/metrics"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/outbox"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/reconcile"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "appointment-service")
	cfg, err := loadConfig()
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

	m := metrics.New(prometheus.DefaultRegisterer)
	hub := feed.NewHub()
	var checks []runtime.ReadyCheck

	// Store and change feed. Postgres deployments publish through the
	// outbox; with brokers configured every instance also replays the
	// topics into its own hub.
	var (
		store  storage.Store
		pool   *db.Pool
		leader *db.AdvisoryLeader
	)
	switch cfg.StoreDriver {
	case "memory":
		store = storage.NewMemoryStore(hub.Publish)
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		pool, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		obRepo := outbox.NewRepository()
		store = storage.NewPostgresStore(pool, obRepo)
		leader = db.NewAdvisoryLeader(pool, cfg.ReconcileLockKey, logger)

		var sink outbox.Sink
		if len(cfg.KafkaBrokers) > 0 {
			ks := outbox.NewKafkaSink(cfg.KafkaBrokers)
			defer func() { _ = ks.Close() }()
			sink = ks
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})

			bridge := feed.NewKafkaBridge(hub, logger, feed.BridgeConfig{
				Brokers: cfg.KafkaBrokers,
				GroupID: cfg.KafkaGroupID + "-" + uuid.NewString(),
				Topics:  outbox.Topics,
			})
			go bridge.Run(ctx)
		} else {
			sink = outbox.NewHubSink(hub, logger)
		}
		publisher := outbox.NewPublisher(pool, obRepo, sink, logger, outbox.PublisherConfig{
			PollEvery: cfg.OutboxPollInterval,
			BatchSize: 100,
		})
		go publisher.Run(ctx)
	}

	// Payment locks and rate limiting share Redis when it is configured.
	var (
		locker    lock.Locker = lock.NewLocal()
		rateLimit httpx.Middleware
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() { _ = rdb.Close() }()
		locker = lock.NewRedis(rdb, "clinic:lock", cfg.PaymentLockTTL, logger)
		rl := httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "clinic:rl", auth.PrincipalKey)
		rateLimit = rl.Middleware(logger, true)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("redis locks and rate limiting enabled", "redis_addr", cfg.RedisAddr)
	} else {
		rateLimit = httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, auth.PrincipalKey).Middleware()
		logger.Warn("REDIS_ADDR not set; payment locks are process local")
	}

	gw, err := gateway.FromEnv()
	if err != nil {
		logger.Error("gateway config error", "err", err)
		panic(err)
	}

	var mail mailer.Mailer = mailer.Noop{}
	if cfg.EmailServiceURL != "" {
		mail = mailer.NewHTTPMailer(cfg.EmailServiceURL, 5*time.Second)
	}
	fo := fanout.New(store, logger, fanout.WithMailer(mail), fanout.WithMetrics(m))

	svc := appointments.NewService(store, gw, locker, fo, m, logger, cfg.paymentConfig())
	dash := dashboard.NewManager(hub, store, logger, m, dashboard.Options{})

	var keys auth.KeySource
	if cfg.JWKSURL != "" {
		keys = auth.NewJWKSClient(cfg.JWKSURL, 5*time.Minute)
	}
	verifier := auth.NewVerifier(cfg.JWTSecret, keys)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.Handler())
	h := handlers.New(svc, dash, store, logger, handlers.Config{
		StripeWebhookSecret:           cfg.StripeWebhookSecret,
		StripeWebhookToleranceSeconds: 300,
		AllowedOrigins:                cfg.CORSAllowedOrigins,
	})
	h.Routes(mux, auth.RequireAuth(verifier, logger),
		rateLimit,
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(cfg.RequestTimeout),
	)

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
	)
	handler = otelhttp.NewHandler(handler, "appointments")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	worker := reconcile.NewWorker(store, svc, appointments.System, logger, reconcile.WorkerConfig{
		Interval: cfg.ReconcileInterval,
	})
	if leader != nil {
		go func() {
			if err := leader.Lead(ctx, worker.Run); err != nil && ctx.Err() == nil {
				logger.Error("payment reconciler stopped", "err", err)
			}
		}()
	} else {
		go worker.Run(ctx)
	}

	if err := startGrpcServer(ctx, logger, cfg.GRPCPort, service, checks); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	runtime.Shutdown(ctx, srv, logger, 10*time.Second)
}

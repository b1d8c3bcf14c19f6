package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sigmahub/marketplace/internal/auth"
	"github.com/sigmahub/marketplace/internal/config"
	"github.com/sigmahub/marketplace/internal/event"
	handler "github.com/sigmahub/marketplace/internal/handler/http"
	"github.com/sigmahub/marketplace/internal/notify"
	"github.com/sigmahub/marketplace/internal/repository/postgres"
	redisrepo "github.com/sigmahub/marketplace/internal/repository/redis"
	"github.com/sigmahub/marketplace/internal/service"
	"github.com/sigmahub/marketplace/migrations"
	"github.com/sigmahub/marketplace/pkg/database"
	"github.com/sigmahub/marketplace/pkg/health"
	"github.com/sigmahub/marketplace/pkg/httpclient"
	pkgkafka "github.com/sigmahub/marketplace/pkg/kafka"
	"github.com/sigmahub/marketplace/pkg/middleware"
	"github.com/sigmahub/marketplace/pkg/tracing"
)

// App wires together all dependencies and runs the marketplace service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "marketplace",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pool, err := database.NewPostgresPool(ctx, cfg.PostgresConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "marketplace")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Redis for the entitlement cache.
	redisClient, err := database.NewRedisClient(ctx, cfg.RedisConfig())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisConfig().Addr()))

	// Initialize Kafka producer.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	ruleRepo := postgres.NewRuleRepository(pool)
	txnRepo := postgres.NewTransactionRepository(pool)
	purchaseRepo := postgres.NewPurchaseRepository(pool)
	reviewRepo := postgres.NewReviewRepository(pool)
	accessCache := redisrepo.NewEntitlementCache(redisClient, cfg.AccessCacheTTL)
	eventProducer := event.NewProducer(producer, logger)

	// Notifications go to the notification service over HTTP behind a
	// circuit breaker. Without a configured URL they are dropped.
	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.NotificationURL != "" {
		baseClient := httpclient.New(httpclient.DefaultConfig())
		cbClient := httpclient.NewCircuitBreakerClient(baseClient,
			httpclient.DefaultCircuitBreakerConfig("marketplace-notification"), logger)
		notifier = notify.NewHTTPNotifier(cbClient, cfg.NotificationURL, cfg.NotificationTimeout, logger)
		logger.Info("http notifier initialized", slog.String("url", cfg.NotificationURL))
	}

	entitlements := service.NewEntitlementService(ruleRepo, purchaseRepo, accessCache, logger)
	transactions := service.NewTransactionService(
		ruleRepo, txnRepo, purchaseRepo, accessCache,
		eventProducer, notifier, logger, cfg.PlatformFeeRate,
	)
	content := service.NewContentService(ruleRepo, entitlements)
	reviews := service.NewReviewService(reviewRepo, ruleRepo, entitlements, eventProducer, notifier, logger)

	// Token validator bridging to the identity service's signing secret.
	verifier := auth.NewVerifier(cfg.JWTSecret)
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, err := verifier.Verify(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID: claims.UserID,
			Email:  claims.Email,
			Role:   claims.Role,
		}, nil
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	router := handler.NewRouter(handler.RouterDeps{
		Transactions:  transactions,
		Entitlements:  entitlements,
		Content:       content,
		Reviews:       reviews,
		HealthHandler: healthHandler,
		TokenValidate: tokenValidator,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

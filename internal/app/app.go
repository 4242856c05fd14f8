package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/saga-orchestrator/internal/config"
	"github.com/utafrali/saga-orchestrator/internal/event"
	handler "github.com/utafrali/saga-orchestrator/internal/handler/http"
	"github.com/utafrali/saga-orchestrator/internal/metrics"
	"github.com/utafrali/saga-orchestrator/internal/repository"
	memoryrepo "github.com/utafrali/saga-orchestrator/internal/repository/memory"
	"github.com/utafrali/saga-orchestrator/internal/repository/postgres"
	"github.com/utafrali/saga-orchestrator/internal/service"
	"github.com/utafrali/saga-orchestrator/internal/statemachine"
	"github.com/utafrali/saga-orchestrator/migrations"
	"github.com/utafrali/saga-orchestrator/pkg/database"
	"github.com/utafrali/saga-orchestrator/pkg/health"
	"github.com/utafrali/saga-orchestrator/pkg/httpclient"
	pkgkafka "github.com/utafrali/saga-orchestrator/pkg/kafka"
	"github.com/utafrali/saga-orchestrator/pkg/tracing"
)

// App wires together all dependencies and runs the saga orchestrator.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app := &App{cfg: cfg, logger: logger}

	// OpenTelemetry tracing (optional).
	if cfg.OTELEnabled {
		tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
			ServiceName: "saga-orchestrator",
			Endpoint:    cfg.OTELEndpoint,
			SampleRatio: cfg.OTELSampleRate,
			Insecure:    cfg.OTELInsecure,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		app.tracerShutdown = tracerShutdown
	}

	// Saga persistence: PostgreSQL by default, in-memory for local development.
	var repo repository.SagaRepository
	if cfg.UseMemoryRepo {
		repo = memoryrepo.NewSagaRepository()
		logger.Warn("using in-memory saga repository, state is lost on restart")
	} else {
		pgCfg := database.PostgresConfig{
			Host:            cfg.PostgresHost,
			Port:            cfg.PostgresPort,
			User:            cfg.PostgresUser,
			Password:        cfg.PostgresPass,
			DBName:          cfg.PostgresDB,
			SSLMode:         cfg.PostgresSSL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
			MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
		}

		pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)
		database.RegisterPoolMetrics(pool, "saga-orchestrator")

		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")

		app.pool = pool
		repo = postgres.NewSagaRepository(pool)
	}

	// Redis-backed event deduplication (optional). Falls back to an
	// in-process store so the events endpoint stays idempotent either way.
	var idempotency pkgkafka.IdempotencyStore
	if cfg.RedisEnabled {
		redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			app.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis", slog.String("addr", cfg.RedisHost))
		app.redisClient = redisClient
		idempotency = pkgkafka.NewRedisIdempotencyStore(redisClient, "saga-events", cfg.EventDedupTTL())
	} else {
		idempotency = pkgkafka.NewMemoryIdempotencyStore(cfg.EventDedupTTL())
	}

	// Kafka producer for saga lifecycle events (optional).
	var publisher event.Publisher
	if cfg.KafkaEnabled {
		producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		app.producer = producer
		publisher = producer
	}

	recorder := metrics.NewPrometheusRecorder()
	sm := statemachine.New(repo, recorder, logger)

	// One HTTP client per collaborator so a tripped breaker on one service
	// does not block calls to the other.
	baseClient := httpclient.New(httpclient.Config{
		Timeout:         cfg.StepTimeout(),
		MaxConnsPerHost: 100,
	})
	warehouseClient := httpclient.NewCircuitBreakerClient(baseClient, breakerConfig(cfg, "warehouse"), logger)
	ecommerceClient := httpclient.NewCircuitBreakerClient(baseClient, breakerConfig(cfg, "ecommerce"), logger)
	collab := service.NewCollaboratorClient(warehouseClient, ecommerceClient, cfg.WarehouseURL, cfg.EcommerceURL)

	sagaEvents := event.NewSagaEvents(publisher, logger)
	coordinator := service.NewSagaCoordinator(sm, repo, collab, recorder, sagaEvents, logger, cfg.StepTimeout())

	// Seed the current-state gauges from persisted active sagas so they
	// survive restarts.
	if err := coordinator.InitializeMetrics(ctx); err != nil {
		logger.Warn("failed to seed state gauges", slog.String("error", err.Error()))
	}

	// Health checks.
	healthHandler := health.NewHandler(cfg.Version)
	if app.pool != nil {
		healthHandler.Register("postgres", func(ctx context.Context) error {
			return app.pool.Ping(ctx)
		})
	}
	if app.redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return app.redisClient.Ping(ctx).Err()
		})
	}
	if app.producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return app.producer.Ping(ctx)
		})
	}

	router := handler.NewRouter(handler.RouterConfig{
		Sagas:          handler.NewSagaHandler(coordinator, logger),
		Events:         handler.NewEventsHandler(coordinator, idempotency, logger),
		Health:         healthHandler,
		Metrics:        recorder.Handler(),
		Logger:         logger,
		Version:        cfg.Version,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * cfg.StepTimeout(),
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return app, nil
}

func breakerConfig(cfg *config.Config, name string) httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBInterval) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
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

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight sagas; the write timeout already bounds them)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 2*a.cfg.StepTimeout())
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

	a.close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// close releases connection-holding dependencies. Safe on a partially
// initialized App.
func (a *App) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

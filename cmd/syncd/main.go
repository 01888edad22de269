package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ledgersync/internal/api"
	"ledgersync/internal/audit"
	"ledgersync/internal/config"
	"ledgersync/internal/database"
	"ledgersync/internal/events"
	"ledgersync/internal/export"
	"ledgersync/internal/ledger"
	"ledgersync/internal/logging"
	"ledgersync/internal/metrics"
	"ledgersync/internal/models"
	"ledgersync/internal/queue"
	"ledgersync/internal/token"
	"ledgersync/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	metrics.Register()

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	q := queue.New(db, redisClient, cfg.Sync, &logger)
	if err := q.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("stale job recovery failed")
	}
	go q.StartPruner(ctx)

	if cfg.Ledger.ClientCredentialsMissing() {
		logger.Error().Msg("ledger client credentials are not configured")
		return os.ErrInvalid
	}

	tokens := token.NewManager(db, cfg.Ledger, cfg.Sync.TokenMargin.Std(), &logger)
	limiter := ledger.NewLimiter(cfg.Sync.RateLimitRPS, cfg.Sync.RateLimitBurst, cfg.Sync.AcquireTimeout.Std())
	client := ledger.NewClient(cfg.Ledger, tokens, limiter, &logger)
	recorder := audit.NewRecorder(db, &logger)

	retryPolicy := worker.RetryPolicy{
		InitialDelay:  cfg.Sync.BackoffInitial.Std(),
		MaxDelay:      cfg.Sync.BackoffMax.Std(),
		BackoffFactor: cfg.Sync.BackoffFactor,
	}
	pool := worker.NewPool(q, db, recorder, cfg.Sync.Workers, retryPolicy, &logger)
	worker.NewHandlers(db, client, &logger).RegisterAll(pool)
	go pool.Start(ctx)

	bus := events.NewEventBus()
	subscribeEntityEvents(ctx, bus, q, &logger)

	exports := export.NewService(db, cfg.Exports.Path, &logger)

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, db, q, tokens, exports, bus, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			_ = apiServer.Shutdown(context.Background())
		}()
	}

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring, &logger)
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	logger.Info().
		Int("workers", cfg.Sync.Workers).
		Str("ledger", cfg.Ledger.BaseURL).
		Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd-main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create exports directory")
		return err
	}
	return nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("database initialization failed")
		return nil, err
	}
	return db, nil
}

// initRedis returns nil when Redis is not configured or unreachable; the
// queue degrades to polling in that case.
func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("Redis not configured, queue will poll")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, queue will poll")
	}
	return client
}

func startMetricsServer(cfg config.MonitoringConfig, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.PrometheusPort)
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func subscribeEntityEvents(ctx context.Context, bus *events.EventBus, q *queue.Queue, logger *zerolog.Logger) {
	decode := func(ev *events.Event) (events.EntityEventPayload, error) {
		var payload events.EntityEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return payload, err
		}
		return payload, nil
	}

	pushHandler := func(ev *events.Event) error {
		payload, err := decode(ev)
		if err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}

		var jobType string
		switch payload.EntityType {
		case models.EntityInvoice:
			jobType = models.JobPushInvoice
		case models.EntityPurchaseOrder:
			jobType = models.JobPushPurchaseOrder
		default:
			logger.Error().Str("entity_type", payload.EntityType).Msg("event bus: unknown entity type")
			return nil
		}

		if _, err := q.Enqueue(ctx, jobType, payload.EntityType, payload.EntityID, payload); err != nil {
			logger.Error().Err(err).
				Str("entity_type", payload.EntityType).
				Int64("entity_id", payload.EntityID).
				Msg("event bus: enqueue push")
		}
		return nil
	}

	bus.Subscribe(events.EventInvoiceCreated, pushHandler)
	bus.Subscribe(events.EventInvoiceUpdated, pushHandler)
	bus.Subscribe(events.EventPurchaseOrderCreated, pushHandler)
	bus.Subscribe(events.EventPurchaseOrderUpdated, pushHandler)
}

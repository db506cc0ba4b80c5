package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/hostwatch/internal/adapter/api"
	"github.com/V4T54L/hostwatch/internal/adapter/api/handler"
	"github.com/V4T54L/hostwatch/internal/adapter/metrics"
	"github.com/V4T54L/hostwatch/internal/adapter/pii"
	"github.com/V4T54L/hostwatch/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/hostwatch/internal/adapter/repository/redis"
	"github.com/V4T54L/hostwatch/internal/adapter/repository/sqlite"
	"github.com/V4T54L/hostwatch/internal/adapter/repository/wal"
	"github.com/V4T54L/hostwatch/internal/detector"
	"github.com/V4T54L/hostwatch/internal/domain"
	"github.com/V4T54L/hostwatch/internal/pkg/config"
	"github.com/V4T54L/hostwatch/internal/pkg/logger"
	"github.com/V4T54L/hostwatch/internal/usecase"
)

const (
	redisHealthInterval = 5 * time.Second
	sseHeartbeat        = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Event Store ---
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open event store", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- Detection Rules ---
	rules := detector.NewRules(cfg.Thresholds())
	if cfg.RulesFile != "" {
		loader, err := config.NewRulesLoader(cfg.RulesFile, cfg.Thresholds(), rules, logger)
		if err != nil {
			logger.Error("failed to load rules file", "error", err)
			os.Exit(1)
		}
		loader.OnChange(func(detector.Thresholds) { m.RulesReloads.Inc() })
		stopWatch, err := loader.Watch()
		if err != nil {
			logger.Warn("rules file will not be hot reloaded", "error", err)
		} else {
			defer stopWatch()
		}
	}

	dedup := detector.NewDeduplicator(time.Now)
	dedup.OnSuppress(func(alertType string) { m.SuppressedTotal.WithLabelValues(alertType).Inc() })
	m.TrackDedupKeys(dedup.Len)
	detectors := detector.NewSet(store, rules, dedup, logger)

	// --- Alert Publishers ---
	broker := handler.NewAlertBroker(ctx, sseHeartbeat, m, logger)
	publishers := []domain.AlertPublisher{broker}

	var streamStatus handler.StreamStatusReader
	if cfg.RedisAddr != "" {
		alertStream, closeStream, err := openAlertStream(ctx, cfg, m, logger)
		if err != nil {
			logger.Error("failed to initialize alert stream", "error", err)
			os.Exit(1)
		}
		defer closeStream()
		go alertStream.StartHealthCheck(ctx, redisHealthInterval)
		publishers = append(publishers, alertStream)
		streamStatus = alertStream
	} else {
		logger.Info("REDIS_ADDR not set, alert stream publishing disabled")
	}

	// --- Use Cases ---
	ingestUseCase := usecase.NewIngestLogUseCase(store, pii.NewRedactor(cfg.RedactionFields(), logger), m, logger)
	queryUseCase := usecase.NewQueryUseCase(store, logger)
	scheduler := usecase.NewCorrelationScheduler(detectors, store, publishers, usecase.SchedulerConfig{
		Interval:    cfg.AnalysisEvery(),
		StopTimeout: cfg.AnalysisStopTimeout,
	}, m, logger)

	// --- Admin and Metrics Server ---
	adminServer := &http.Server{
		Addr:    cfg.AdminServerAddr,
		Handler: api.NewAdminRouter(prometheus.DefaultGatherer, streamStatus, logger),
	}
	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- API Server ---
	router := api.NewRouter(cfg, api.Services{
		Ingest:   ingestUseCase,
		Query:    queryUseCase,
		Analysis: scheduler,
		Broker:   broker,
	}, m, logger)
	apiServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
		// no WriteTimeout: /alerts/stream is long lived
	}
	go func() {
		logger.Info("starting api server", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	scheduler.Start(ctx)

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down...")

	if !scheduler.Stop() {
		logger.Warn("analysis loop did not stop in time")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.EventStore, func(), error) {
	switch cfg.StorageDriver {
	case "", "sqlite":
		s, err := sqlite.Open(cfg.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		s, err := postgres.NewStore(ctx, db, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, func() { db.Close() }, nil
	default:
		return nil, nil, errors.New("STORAGE_DRIVER must be sqlite or postgres")
	}
}

func openAlertStream(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*redisrepo.AlertStream, func(), error) {
	client, err := redisrepo.NewClient(cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}

	spool, err := wal.NewSpool(cfg.AlertSpoolDir, cfg.AlertSpoolSegmentSize, cfg.AlertSpoolMaxDiskSize, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	stream := redisrepo.NewAlertStream(client, cfg.AlertStream, cfg.AlertStreamMaxLen, spool, m, logger)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("could not connect to redis, alerts will be spooled", "error", err)
	} else if err := stream.ReplaySpool(ctx); err != nil {
		logger.Error("failed to replay alert spool left by a previous run", "error", err)
	}

	return stream, func() {
		spool.Close()
		client.Close()
	}, nil
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/V4T54L/hostwatch/internal/adapter/notifier"
	redisrepo "github.com/V4T54L/hostwatch/internal/adapter/repository/redis"
	"github.com/V4T54L/hostwatch/internal/pkg/config"
	"github.com/V4T54L/hostwatch/internal/pkg/logger"
	"github.com/V4T54L/hostwatch/internal/usecase"
)

const (
	consumerGroup      = "alert-notifiers"
	processingInterval = 1 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting alert notifier")

	if cfg.RedisAddr == "" {
		log.Error("REDIS_ADDR is required for the notifier")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisAddr)
	if err != nil {
		log.Error("invalid redis address", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	// Create a unique consumer name for this instance
	consumerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		consumerName = "notifier-default"
	}

	consumer, err := redisrepo.NewAlertConsumer(ctx, redisClient, cfg.AlertStream, consumerGroup, consumerName, log)
	if err != nil {
		log.Error("failed to create alert consumer", "error", err)
		os.Exit(1)
	}

	notifyUseCase := usecase.NewNotifyAlertsUseCase(consumer, notifier.NewStdoutNotifier(), log)

	ticker := time.NewTicker(processingInterval)
	defer ticker.Stop()

	log.Info("notifier started, waiting for alerts...", "stream", cfg.AlertStream, "group", consumerGroup, "consumer", consumerName)

Loop:
	for {
		select {
		case <-ticker.C:
			if _, err := notifyUseCase.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				log.Error("error processing batch", "error", err)
			}
		case <-ctx.Done():
			log.Info("context cancelled, shutting down notifier loop")
			break Loop
		}
	}

	log.Info("notifier shut down gracefully")
}

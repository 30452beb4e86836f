// Package main is the entrypoint for the Chromatin job worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jakub-figat/chromatin/internal/blob"
	"github.com/jakub-figat/chromatin/internal/cache"
	"github.com/jakub-figat/chromatin/internal/config"
	"github.com/jakub-figat/chromatin/internal/jobs"
	"github.com/jakub-figat/chromatin/internal/predict"
	"github.com/jakub-figat/chromatin/internal/queue"
	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/jakub-figat/chromatin/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"concurrency", cfg.Worker.Concurrency,
		"soft_time_limit", cfg.Worker.SoftTimeLimit,
		"hard_time_limit", cfg.Worker.HardTimeLimit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	broker, err := queue.Dial(cfg.Queue.URL, cfg.Queue.QueueName)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer broker.Close()

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create blob storage: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	sequences := jobs.NewSequenceService(pgStore, blobs, cfg.Storage.SequenceSizeThreshold)
	predictor := predict.NewESMFoldClient(cfg.Prediction.ESMFoldURL, cfg.Prediction.Timeout)

	processor := jobs.NewProcessor(pgStore, redisCache, redisCache,
		jobs.NewAlignmentHandler(sequences, cfg.Align.MaxCells),
		jobs.NewStructureHandler(sequences, pgStore, blobs, predictor, cfg.Prediction.MaxResidues),
		jobs.Limits{
			Soft:      cfg.Worker.SoftTimeLimit,
			Hard:      cfg.Worker.HardTimeLimit,
			StatusTTL: cfg.Worker.StatusCacheTTL,
		},
	)

	wp, err := worker.NewPool(worker.Config{
		Concurrency:     cfg.Worker.Concurrency,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}, broker, processor, redisCache)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	slog.Info("worker started", "queue", cfg.Queue.QueueName)
	err = wp.Run(ctx)

	stats := wp.Stats()
	slog.Info("worker stopped",
		"processed", stats.Processed,
		"errored", stats.Errored,
		"revoked", stats.Revoked,
		"requeued", stats.Requeued,
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}

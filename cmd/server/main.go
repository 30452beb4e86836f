// Package main is the entrypoint for the Chromatin API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jakub-figat/chromatin/internal/api"
	"github.com/jakub-figat/chromatin/internal/api/handler"
	mw "github.com/jakub-figat/chromatin/internal/api/middleware"
	"github.com/jakub-figat/chromatin/internal/api/response"
	"github.com/jakub-figat/chromatin/internal/blob"
	"github.com/jakub-figat/chromatin/internal/cache"
	"github.com/jakub-figat/chromatin/internal/config"
	"github.com/jakub-figat/chromatin/internal/jobs"
	"github.com/jakub-figat/chromatin/internal/queue"
	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/joho/godotenv"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "storage_backend", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	broker, err := queue.Dial(cfg.Queue.URL, cfg.Queue.QueueName)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer broker.Close()
	slog.Info("rabbitmq connected", "queue", cfg.Queue.QueueName)

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create blob storage: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	dispatcher := queue.NewDispatcher(broker, redisCache, cfg.Worker.RevokedKeyTTL)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),

		HealthHandler: healthHandler(map[string]pinger{
			"database": pgStore,
			"cache":    redisCache,
			"queue":    broker,
		}),
		Jobs: handler.NewJobs(jobs.NewService(pgStore, dispatcher, redisCache, cfg.Worker.StatusCacheTTL)),
		Sequences: handler.NewSequences(
			jobs.NewSequenceService(pgStore, blobs, cfg.Storage.SequenceSizeThreshold)),
	}

	router := api.NewRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler pings every backing service and reports 503 when any of them
// fails.
func healthHandler(services map[string]pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(services))
		degraded := false
		for name, p := range services {
			checks[name] = "ok"
			if err := p.Ping(r.Context()); err != nil {
				slog.Warn("health check failed", "service", name, "error", err)
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

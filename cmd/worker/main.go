// Package main is the entry point of the UniVerse background worker.
//
// The worker keeps the Redis leaderboard accelerators consistent with the
// document store: it rebuilds the position index and pre-computes the
// default global page for every metric on a fixed interval. API servers
// keep both up to date incrementally; the rebuild repairs drift after
// missed writes, Redis restarts and evictions.
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

	"github.com/gorilla/mux"

	"github.com/negrahodzic/UniVerse-sub000/config"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/metrics"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/redis"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/scheduler"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/scheduler/jobs"
	"github.com/negrahodzic/UniVerse-sub000/pkg/logger"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Location != nil {
		timeutil.SetLocation(cfg.App.Location)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting UniVerse worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"store", cfg.Store.Driver,
	)

	if !cfg.Worker.Enabled {
		log.Info("worker disabled, nothing to do")
		return nil
	}
	if !cfg.RedisEnabled() {
		return errors.New("worker requires Redis: the leaderboard index lives there")
	}
	if cfg.Store.Driver == config.StoreMemory {
		return errors.New("worker requires a shared store: the memory driver is per process")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DOCUMENT STORE
	// ─────────────────────────────────────────────────────────────────────────
	stores, err := persistence.Open(ctx, cfg, cfg.Database.AutoMigrate)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		log.Info("closing store...")
		_ = stores.Close(context.Background())
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS
	// ─────────────────────────────────────────────────────────────────────────
	redisClient, err := persistence.OpenRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer func() {
		log.Info("closing Redis connection...")
		_ = redisClient.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New()
	sched := scheduler.New(scheduler.Config{Observer: m}, log)

	rebuild := jobs.NewRebuildLeaderboardJob(
		stores.Users,
		redis.NewPositionIndex(redisClient),
		redis.NewPageCache(redisClient, cfg.Leaderboard.CacheTTL),
		jobs.RebuildLeaderboardConfig{
			WarmLimit: cfg.Leaderboard.GlobalLimit,
			Timeout:   cfg.Worker.JobTimeout,
		},
		log,
	)
	if err := sched.Register(rebuild, scheduler.Every(cfg.Worker.RebuildLeaderboardInterval).StartImmediately()); err != nil {
		return fmt.Errorf("failed to register %s: %w", rebuild.Name(), err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	for _, job := range sched.Jobs() {
		log.Info("job scheduled", "job", job.Name, "schedule", job.Schedule, "next_run", job.NextRun)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. METRICS ENDPOINT (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled {
		router := mux.NewRouter()
		router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
		router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := stores.Ping(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}).Methods(http.MethodGet)

		metricsServer = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.Worker.MetricsPort),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("serving worker metrics", "address", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("UniVerse worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown failed", "error", err)
		}
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger builds the structured logger and makes it the default.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch logger.ParseLevel(cfg.Observability.LogLevel) {
	case logger.LevelDebug:
		opts.Level = slog.LevelDebug
	case logger.LevelWarn:
		opts.Level = slog.LevelWarn
	case logger.LevelError, logger.LevelFatal:
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.IsProduction() || logger.ParseFormat(cfg.Observability.LogFormat) == logger.FormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name+"-worker")
	slog.SetDefault(log)
	return log
}

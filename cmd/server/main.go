// Package main is the entry point of the UniVerse API server.
//
// The server exposes registration, stats, leaderboards, friends, group study
// sessions and event booking over JSON, plus WebSocket live feeds for
// session rooms and per-user notifications.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/negrahodzic/UniVerse-sub000/config"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/command"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/eventhandler"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/query"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/saga"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/account"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/achievement"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/leaderboard"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/eventapi"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/messaging"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/metrics"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/memory"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/redis"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/realtime"
	httpserver "github.com/negrahodzic/UniVerse-sub000/internal/interface/http"
	"github.com/negrahodzic/UniVerse-sub000/internal/interface/http/handlers"
	"github.com/negrahodzic/UniVerse-sub000/pkg/logger"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// bcrypt cost for issued access tokens.
const tokenCost = 10

// eventBus is what the server needs from either bus implementation.
type eventBus interface {
	shared.EventBus
	Close() error
}

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
	httpLog := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    logger.ParseFormat(cfg.Observability.LogFormat),
		AddCaller: cfg.App.Debug,
	})
	log.Info("starting UniVerse API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
		"store", cfg.Store.Driver,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DOCUMENT STORE
	// ─────────────────────────────────────────────────────────────────────────
	stores, err := persistence.Open(ctx, cfg, cfg.Database.AutoMigrate)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		log.Info("closing store...")
		if err := stores.Close(context.Background()); err != nil {
			log.Warn("store close failed", "error", err)
		}
	}()
	if err := stores.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	log.Info("store ready", "driver", stores.Driver)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. METRICS
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisClient *goredis.Client
		pageCache   leaderboard.Cache
		index       leaderboard.PositionIndex
		limiter     httpserver.Limiter
		guard       command.SettlementGuard
		bus         eventBus
	)

	if cfg.RedisEnabled() {
		redisClient, err = persistence.OpenRedis(ctx, cfg)
		if err != nil {
			log.Warn("failed to connect to Redis, running without it", "error", err)
		} else {
			defer func() {
				log.Info("closing Redis connection...")
				_ = redisClient.Close()
			}()
			pageCache = redis.NewPageCache(redisClient, cfg.Leaderboard.CacheTTL)
			index = redis.NewPositionIndex(redisClient)
			limiter = redis.NewRateLimiter(redisClient, cfg.HTTP.RateLimitPerMin, redis.TTLRateLimitWindow)
			guard = redis.NewSettlementGuard(redisClient, cfg.Settlement.GuardTTL)
			log.Info("Redis connection established")
		}
	}
	if guard == nil {
		// Process-local guard. Correct for a single instance only.
		if stores.Memory != nil {
			guard = stores.Memory
		} else {
			guard = memory.NewStore()
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Observer = m
	local.Logger = log
	if redisClient != nil {
		bus, err = messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
			Client:  redisClient,
			Channel: messaging.DefaultChannel,
			Local:   local,
			Logger:  log,
		})
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
	} else {
		bus = messaging.NewInMemoryEventBus(local)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. REALTIME HUB & EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	hub := realtime.NewHub(realtime.HubConfig{
		OriginPatterns: originPatterns(cfg.HTTP.AllowedOrigins),
		Gauge:          m,
	}, log)

	if err := eventhandler.Register(bus, m,
		eventhandler.NewOnProgressChangedHandler(hub, log),
		eventhandler.NewOnSocialChangedHandler(hub, log),
		eventhandler.NewOnSessionChangedHandler(hub, log),
		eventhandler.NewOnProgressMetricsHandler(m),
	); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. EVENT API CLIENT (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var events *eventapi.Client
	if cfg.EventAPIEnabled() {
		events, err = eventapi.NewClient(eventAPIConfig(cfg), log, eventapi.WithObserver(m))
		if err != nil {
			return fmt.Errorf("failed to create event API client: %w", err)
		}
		log.Info("event API client ready", "base_url", cfg.EventAPI.BaseURL)
	} else {
		log.Info("event API not configured, booking routes disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	// Global flags only: the accelerators are shared by every request.
	if !cfg.Features.IsEnabled(config.FeatureLeaderboardCache, "") {
		pageCache = nil
	}
	statsIndex := index
	if !cfg.Features.IsEnabled(config.FeatureLeaderboardPosition, "") {
		statsIndex = nil
	}

	evaluator := achievement.NewEvaluator()
	issuer := account.NewIssuer(tokenCost)
	refresher := command.LeaderboardRefresher{Cache: pageCache, Index: index}

	settle := command.NewSettleSessionHandler(stores.Users, evaluator, bus, command.SettleSessionHandlerConfig{
		Guard:     guard,
		Refresher: refresher,
		Observer:  m,
	}, log)

	deps := httpserver.Dependencies{
		Registration:  saga.NewRegistrationSaga(stores.Users, stores.Credentials, issuer, bus, log),
		Authenticator: account.NewAuthenticator(stores.Credentials, issuer),
		UserStats:     query.NewGetUserStatsHandler(stores.Users, statsIndex, log),
		Leaderboard: query.NewGetLeaderboardHandler(stores.Users, pageCache, index, query.GetLeaderboardConfig{
			DefaultLimit: cfg.Leaderboard.GlobalLimit,
			MaxLimit:     cfg.Leaderboard.MaxLimit,
		}, log),
		Friends: command.NewManageFriendsHandler(stores.Users, evaluator, bus, log),
		Sessions: command.NewStudySessionHandler(stores.Sessions, stores.Users, settle, bus, command.StudySessionConfig{
			PointsPerMinute: cfg.Settlement.PointsPerMinute,
			MaxParticipants: cfg.Settlement.MaxParticipants,
		}, log),
		SessionQueries: query.NewGetStudySessionsHandler(stores.Sessions),
		Attendance:     command.NewRecordAttendanceHandler(stores.Users, evaluator, bus, log),
		Live:           hub,
		Features:       cfg.Features,
		Metrics:        m,
		MetricsHandler: m.Handler(),
		RateLimiter:    limiter,
		Logger:         httpLog,
	}
	if events != nil {
		deps.Events = query.NewListEventsHandler(events, stores.Users, cfg.Settlement.PointsPerCurrencyUnit)
		deps.Booking = command.NewBookEventHandler(stores.Users, events, bus, command.BookEventHandlerConfig{
			PointsPerCurrencyUnit: cfg.Settlement.PointsPerCurrencyUnit,
			Refresher:             refresher,
		}, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewHealthChecker(cfg.App.Version)
	health.AddCritical("store", stores.Ping)
	if redisClient != nil {
		health.AddOptional("redis", func(ctx context.Context) error {
			return redis.Health(ctx, redisClient)
		})
	}
	if events != nil {
		health.AddOptional("event_api", handlers.EventAPICheck(events))
	}
	deps.Health = health

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpserver.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMin
	serverCfg.EnableMetrics = cfg.Observability.MetricsEnabled

	server := httpserver.NewServer(serverCfg, deps)
	errCh := server.StartAsync()

	log.Info("UniVerse API is running", "address", server.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 12. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-errCh:
		if ok && err != nil {
			hub.Close()
			return err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not drained by http.Server.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("HTTP server shutdown failed", "error", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger builds the slog logger used by the application layer.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}

	var handler slog.Handler
	if logger.ParseFormat(cfg.Observability.LogFormat) == logger.FormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)
	return log
}

func slogLevel(level string) slog.Level {
	switch logger.ParseLevel(level) {
	case logger.LevelDebug:
		return slog.LevelDebug
	case logger.LevelWarn:
		return slog.LevelWarn
	case logger.LevelError, logger.LevelFatal:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func eventAPIConfig(cfg *config.Config) eventapi.ClientConfig {
	c := eventapi.DefaultClientConfig(cfg.EventAPI.BaseURL, cfg.EventAPI.APIKey)
	if cfg.EventAPI.RequestTimeout > 0 {
		c.Timeout = cfg.EventAPI.RequestTimeout
	}
	if cfg.EventAPI.RateLimit > 0 {
		c.RateLimiter.RequestsPerMinute = cfg.EventAPI.RateLimit
	}
	if cfg.EventAPI.RateLimitBurst > 0 {
		c.RateLimiter.Burst = cfg.EventAPI.RateLimitBurst
	}
	if cfg.EventAPI.MaxRetries > 0 {
		c.MaxAttempts = cfg.EventAPI.MaxRetries
	}
	if cfg.EventAPI.RetryBaseDelay > 0 {
		c.RetryBaseDelay = cfg.EventAPI.RetryBaseDelay
	}
	if cfg.EventAPI.RetryMaxDelay > 0 {
		c.RetryMaxDelay = cfg.EventAPI.RetryMaxDelay
	}
	if cfg.EventAPI.CircuitBreakerThreshold > 0 {
		c.BreakerThreshold = cfg.EventAPI.CircuitBreakerThreshold
	}
	if cfg.EventAPI.CircuitBreakerTimeout > 0 {
		c.BreakerTimeout = cfg.EventAPI.CircuitBreakerTimeout
	}
	if cfg.EventAPI.CircuitBreakerHalfOpenMax > 0 {
		c.BreakerHalfOpenMax = cfg.EventAPI.CircuitBreakerHalfOpenMax
	}
	return c
}

// originPatterns adapts CORS origins to websocket.Accept host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

// Package http exposes the progression engine as a JSON API under /api/v1,
// plus health, metrics and WebSocket live feeds.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/negrahodzic/UniVerse-sub000/internal/application/command"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/query"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/saga"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/realtime"
	"github.com/negrahodzic/UniVerse-sub000/internal/interface/http/handlers"
	"github.com/negrahodzic/UniVerse-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxHeaderBytes int

	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64

	// AllowedOrigins for CORS. "*" allows any origin.
	AllowedOrigins []string

	// EnableMetrics mounts /metrics when a metrics handler is given.
	EnableMetrics bool

	// RateLimitPerMinute per user (or per IP before login). 0 disables.
	RateLimitPerMinute int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       64 << 10,
		AllowedOrigins:     []string{"*"},
		EnableMetrics:      true,
		RateLimitPerMinute: 120,
	}
}

// Address returns the listen address.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Authenticator resolves a bearer token into a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Limiter counts requests per key. The Redis limiter and the in-process
// fallback both satisfy it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RequestObserver records request metrics.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// FeatureGate reports whether a feature is on for a user.
type FeatureGate interface {
	IsEnabled(feature, userID string) bool
}

// LiveFeed upgrades a request to a WebSocket subscription.
type LiveFeed interface {
	Serve(w http.ResponseWriter, r *http.Request, topic realtime.Topic) error
}

// Dependencies contains everything the handlers call into. Event handlers
// may be nil when the event API is not configured.
type Dependencies struct {
	Registration  *saga.RegistrationSaga
	Authenticator Authenticator

	UserStats   *query.GetUserStatsHandler
	Leaderboard *query.GetLeaderboardHandler
	Friends     *command.ManageFriendsHandler

	Sessions       *command.StudySessionHandler
	SessionQueries *query.GetStudySessionsHandler

	Events     *query.ListEventsHandler
	Booking    *command.BookEventHandler
	Attendance *command.RecordAttendanceHandler

	Live     LiveFeed
	Features FeatureGate

	Health         *handlers.HealthChecker
	Metrics        RequestObserver
	MetricsHandler http.Handler

	// RateLimiter defaults to an in-process limiter when nil.
	RateLimiter Limiter

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP API server.
type Server struct {
	config     Config
	deps       Dependencies
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	limiter    Limiter
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer wires routes and middleware.
func NewServer(config Config, deps Dependencies) *Server {
	defaults := DefaultConfig()
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.MaxHeaderBytes <= 0 {
		config.MaxHeaderBytes = defaults.MaxHeaderBytes
	}

	s := &Server{
		config:  config,
		deps:    deps,
		router:  mux.NewRouter(),
		limiter: deps.RateLimiter,
		logger:  deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	s.logger = s.logger.With(logger.Component("http"))
	if s.limiter == nil {
		s.limiter = newMemoryLimiter(config.RateLimitPerMinute, time.Minute)
	}
	if s.deps.Health == nil {
		s.deps.Health = handlers.NewHealthChecker("")
	}

	s.setupRoutes()
	s.handler = handlers.Chain(
		s.requestIDMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
	)(s.router)

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the full middleware-wrapped handler, for tests and
// embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, req, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, req, http.StatusMethodNotAllowed, CodeInvalidArgument, "method not allowed")
	})
	r.Use(s.loggingMiddleware)

	// ─────────────────────────────────────────────────────────────────────────
	// Health & metrics
	// ─────────────────────────────────────────────────────────────────────────
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)
	if s.config.EnableMetrics && s.deps.MetricsHandler != nil {
		r.Handle("/metrics", s.deps.MetricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(handlers.SecurityHeaders, handlers.NoStore, mux.MiddlewareFunc(handlers.BodyLimit(s.config.MaxBodyBytes)))

	// ─────────────────────────────────────────────────────────────────────────
	// Public
	// ─────────────────────────────────────────────────────────────────────────
	public := api.NewRoute().Subrouter()
	public.Use(s.rateLimitMiddleware)
	public.HandleFunc("/users", s.handleRegister).Methods(http.MethodPost)

	// ─────────────────────────────────────────────────────────────────────────
	// Authenticated
	// ─────────────────────────────────────────────────────────────────────────
	authed := api.NewRoute().Subrouter()
	authed.Use(s.authMiddleware, s.rateLimitMiddleware)

	authed.HandleFunc("/users/{id}/stats", s.handleUserStats).Methods(http.MethodGet)
	authed.HandleFunc("/achievements", s.handleAchievements).Methods(http.MethodGet)
	authed.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	authed.HandleFunc("/friends/{id}", s.handleAddFriend).Methods(http.MethodPost)
	authed.HandleFunc("/friends/{id}", s.handleRemoveFriend).Methods(http.MethodDelete)

	authed.HandleFunc("/sessions", s.handleSessionHistory).Methods(http.MethodGet)
	authed.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}/join", s.handleJoinSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/leave", s.handleLeaveSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/start", s.handleStartSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/complete", s.handleCompleteSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/live", s.handleSessionLive).Methods(http.MethodGet)
	authed.HandleFunc("/notifications/live", s.handleNotificationsLive).Methods(http.MethodGet)

	authed.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	authed.HandleFunc("/events/{id}", s.handleGetEvent).Methods(http.MethodGet)
	authed.HandleFunc("/events/{id}/book", s.handleBookEvent).Methods(http.MethodPost)
	authed.HandleFunc("/events/{id}/attend", s.handleAttendEvent).Methods(http.MethodPost)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel receives a listen
// error, if any, and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Hijacked WebSocket connections are not tracked here; close the hub first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.config.Address()
}

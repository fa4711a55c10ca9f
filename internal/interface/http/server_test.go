package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negrahodzic/UniVerse-sub000/internal/application/command"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/eventhandler"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/query"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/saga"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/account"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/booking"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/memory"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/realtime"
	"github.com/negrahodzic/UniVerse-sub000/internal/interface/http/handlers"
	"github.com/negrahodzic/UniVerse-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type fakeCatalog struct {
	mu     sync.Mutex
	events map[string]booking.Event
	booked int
}

func newFakeCatalog(events ...booking.Event) *fakeCatalog {
	c := &fakeCatalog{events: make(map[string]booking.Event)}
	for _, ev := range events {
		c.events[ev.ID] = ev
	}
	return c
}

func (c *fakeCatalog) ListEvents(context.Context) ([]booking.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]booking.Event, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev)
	}
	return out, nil
}

func (c *fakeCatalog) GetEvent(_ context.Context, id string) (*booking.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[id]
	if !ok {
		return nil, shared.ErrEventNotFound
	}
	return &ev, nil
}

func (c *fakeCatalog) Book(_ context.Context, id string, tickets int) (*booking.Booking, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev := c.events[id]
	ev.AvailableTickets -= tickets
	c.events[id] = ev
	c.booked++
	return &booking.Booking{BookingID: "bk-1", EventID: id, NumberOfTickets: tickets}, nil
}

type switchGate map[string]bool

func (g switchGate) IsEnabled(feature, _ string) bool {
	on, ok := g[feature]
	return !ok || on
}

type harness struct {
	server  *Server
	store   *memory.Store
	catalog *fakeCatalog
	hub     *realtime.Hub
	health  *handlers.HealthChecker
}

func newHarness(t *testing.T, mutate func(*Config, *Dependencies)) *harness {
	t.Helper()
	store := memory.NewStore()
	issuer := account.NewIssuer(4)
	catalog := newFakeCatalog(booking.Event{
		ID:               "ev-1",
		Name:             "Hackathon",
		DateTime:         time.Now().Add(48 * time.Hour),
		TicketPrice:      decimal.NewFromInt(1),
		AvailableTickets: 10,
	})
	hub := realtime.NewHub(realtime.HubConfig{}, nil)
	t.Cleanup(hub.Close)
	health := handlers.NewHealthChecker("test")

	settle := command.NewSettleSessionHandler(store, nil, nil, command.SettleSessionHandlerConfig{Guard: store}, nil)
	deps := Dependencies{
		Registration:   saga.NewRegistrationSaga(store, store, issuer, nil, nil),
		Authenticator:  account.NewAuthenticator(store, issuer),
		UserStats:      query.NewGetUserStatsHandler(store, nil, nil),
		Leaderboard:    query.NewGetLeaderboardHandler(store, nil, nil, query.GetLeaderboardConfig{}, nil),
		Friends:        command.NewManageFriendsHandler(store, nil, nil, nil),
		Sessions:       command.NewStudySessionHandler(store, store, settle, nil, command.StudySessionConfig{PointsPerMinute: 10}, nil),
		SessionQueries: query.NewGetStudySessionsHandler(store),
		Events:         query.NewListEventsHandler(catalog, store, 0),
		Booking:        command.NewBookEventHandler(store, catalog, nil, command.BookEventHandlerConfig{}, nil),
		Attendance:     command.NewRecordAttendanceHandler(store, nil, nil, nil),
		Live:           hub,
		Health:         health,
		Logger:         logger.Nop(),
	}
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	return &harness{server: NewServer(cfg, deps), store: store, catalog: catalog, hub: hub, health: health}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"requestId"`
}

func (h *harness) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (h *harness) register(t *testing.T, username string) (userID, token string) {
	t.Helper()
	rec, env := h.do(t, http.MethodPost, "/api/v1/users", "", map[string]string{"username": username})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out registerResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(t, out.Token)
	return out.UserID, out.Token
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRegisterAndReadOwnStats(t *testing.T) {
	h := newHarness(t, nil)
	userID, token := h.register(t, "ana")

	rec, env := h.do(t, http.MethodGet, "/api/v1/users/me/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view query.UserStatsView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, userID, view.Stats.UserID)
	assert.Equal(t, "ana", view.Stats.Username)
	assert.Equal(t, 1, view.Level.Level)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec, env = h.do(t, http.MethodGet, "/api/v1/achievements", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ach achievementsResponse
	require.NoError(t, json.Unmarshal(env.Data, &ach))
	assert.Equal(t, 0, ach.Earned)
	assert.Equal(t, 10, ach.Total)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	h := newHarness(t, nil)

	rec, env := h.do(t, http.MethodPost, "/api/v1/users", "", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidArgument, env.Error.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/users", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/users", "", map[string]string{"username": "ana", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, nil)
	userID, _ := h.register(t, "ana")

	rec, env := h.do(t, http.MethodGet, "/api/v1/leaderboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeNotLoggedIn, env.Error.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/v1/leaderboard", account.FormatBearer(userID, "wrong"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/v1/leaderboard", "no-dot-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFriendsAndLeaderboard(t *testing.T) {
	h := newHarness(t, nil)
	ana, anaToken := h.register(t, "ana")
	ben, benToken := h.register(t, "ben")
	h.register(t, "cid")
	require.NoError(t, h.store.UpdateUserFields(context.Background(), ben, progress.Increment(progress.FieldPoints, 50)))

	rec, env := h.do(t, http.MethodPost, "/api/v1/friends/"+ben, anaToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fr friendResponse
	require.NoError(t, json.Unmarshal(env.Data, &fr))
	assert.Equal(t, []string{ben}, fr.Friends)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/friends/"+ana, benToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "already friends from the other side")

	rec, _ = h.do(t, http.MethodPost, "/api/v1/friends/"+ana, anaToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = h.do(t, http.MethodGet, "/api/v1/leaderboard?scope=friends&metric=points", anaToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var board query.GetLeaderboardResult
	require.NoError(t, json.Unmarshal(env.Data, &board))
	require.Len(t, board.Entries, 2)
	assert.Equal(t, ben, board.Entries[0].UserID)
	assert.Equal(t, ana, board.Entries[1].UserID)
	require.NotNil(t, board.CurrentUser)
	assert.Equal(t, ana, board.CurrentUser.UserID)

	rec, env = h.do(t, http.MethodGet, "/api/v1/leaderboard", anaToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &board))
	assert.Len(t, board.Entries, 3)

	rec, _ = h.do(t, http.MethodGet, "/api/v1/leaderboard?metric=karma", anaToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = h.do(t, http.MethodGet, "/api/v1/leaderboard?limit=ten", anaToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = h.do(t, http.MethodGet, "/api/v1/leaderboard?limit=100000", anaToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodDelete, "/api/v1/friends/"+ben, anaToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	stats, err := h.store.GetUser(context.Background(), ben)
	require.NoError(t, err)
	assert.Empty(t, stats.Friends)

	rec, env = h.do(t, http.MethodPost, "/api/v1/friends/ghost", anaToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, env.Error.Code)
}

func TestStudySessionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	host, hostToken := h.register(t, "host")
	guest, guestToken := h.register(t, "guest")
	_, outsiderToken := h.register(t, "outsider")

	rec, env := h.do(t, http.MethodPost, "/api/v1/sessions", hostToken, map[string]string{"nfcId": "tag-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	base := "/api/v1/sessions/" + created.ID

	rec, _ = h.do(t, http.MethodPost, base+"/join", guestToken, map[string]string{"nfcId": "tag-2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = h.do(t, http.MethodGet, base, outsiderToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "non-participants cannot read a session")

	rec, _ = h.do(t, http.MethodPost, base+"/start", guestToken, startRequest{PlannedSeconds: 1800})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "only the host starts")

	rec, _ = h.do(t, http.MethodPost, base+"/start", hostToken, startRequest{PlannedSeconds: 1800})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = h.do(t, http.MethodPost, base+"/complete", hostToken, completeRequest{ActualSeconds: 1830})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var done struct {
		Settled map[string]settlementView `json:"settled"`
		Resumed bool                      `json:"resumed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &done))
	require.Len(t, done.Settled, 2)
	assert.Equal(t, 300, done.Settled[host].PointsEarned)
	assert.Equal(t, 300, done.Settled[guest].PointsEarned)
	assert.Equal(t, 1, done.Settled[guest].StreakDays)
	assert.False(t, done.Resumed)

	rec, env = h.do(t, http.MethodPost, base+"/complete", hostToken, completeRequest{ActualSeconds: 1830})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidArgument, env.Error.Code)

	stats, err := h.store.GetUser(context.Background(), guest)
	require.NoError(t, err)
	assert.Equal(t, 300, stats.Points)
	assert.Equal(t, 30, stats.TotalStudyTimeMinutes)

	rec, env = h.do(t, http.MethodGet, "/api/v1/sessions", guestToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 1)
}

func TestEventBookingAndAttendance(t *testing.T) {
	h := newHarness(t, nil)
	userID, token := h.register(t, "ana")

	rec, env := h.do(t, http.MethodPost, "/api/v1/events/ev-1/book", token, bookRequest{Tickets: 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no points yet")
	assert.Equal(t, CodeInvalidArgument, env.Error.Code)
	assert.Zero(t, h.catalog.booked)

	require.NoError(t, h.store.UpdateUserFields(context.Background(), userID, progress.Increment(progress.FieldPoints, 500)))

	rec, env = h.do(t, http.MethodGet, "/api/v1/events", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []query.EventView
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, 100, events[0].PointsPerTicket)
	assert.True(t, events[0].Affordable)

	rec, env = h.do(t, http.MethodPost, "/api/v1/events/ev-1/book", token, bookRequest{Tickets: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booked bookResponse
	require.NoError(t, json.Unmarshal(env.Data, &booked))
	assert.Equal(t, 200, booked.Cost)
	assert.Equal(t, 300, booked.RemainingPoints)
	assert.Equal(t, "ev-1/bk-1", booked.TicketRef)

	rec, env = h.do(t, http.MethodGet, "/api/v1/events/ev-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view query.EventView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.True(t, view.Booked)

	rec, env = h.do(t, http.MethodPost, "/api/v1/events/ev-1/attend", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var attended attendResponse
	require.NoError(t, json.Unmarshal(env.Data, &attended))
	assert.Equal(t, 1, attended.EventsAttended)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/events/ev-1/attend", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "ticket already used")

	rec, _ = h.do(t, http.MethodGet, "/api/v1/events/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/events/ev-1/book", token, bookRequest{Tickets: 11})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventRoutesWithoutCatalog(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Dependencies) {
		d.Events, d.Booking = nil, nil
	})
	_, token := h.register(t, "ana")

	rec, env := h.do(t, http.MethodGet, "/api/v1/events", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, CodeExternalService, env.Error.Code)
}

func TestFeatureGate(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Dependencies) {
		d.Features = switchGate{"events.booking": false}
	})
	_, token := h.register(t, "ana")

	rec, env := h.do(t, http.MethodGet, "/api/v1/events", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeDisabled, env.Error.Code)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	rec, _ := h.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.health.AddOptional("event_api", func(context.Context) error { return errors.New("down") })
	rec, env := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "optional failures keep the service ready")
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready)

	h.health.AddCritical("store", func(context.Context) error { return errors.New("unreachable") })
	rec, _ = h.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Dependencies) {
		c.RateLimitPerMinute = 2
	})
	h.register(t, "ana")
	h.register(t, "ben")

	rec, env := h.do(t, http.MethodPost, "/api/v1/users", "", map[string]string{"username": "cid"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, env.Error.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestUnknownRouteAndRequestID(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nothing", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "req-42", env.RequestID)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Dependencies) {
		c.AllowedOrigins = []string{"https://app.universe.example"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/leaderboard", nil)
	req.Header.Set("Origin", "https://app.universe.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.universe.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotificationsLiveFeed(t *testing.T) {
	h := newHarness(t, nil)
	userID, token := h.register(t, "ana")

	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/notifications/live?access_token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return h.hub.Connections() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, h.hub.Notify(ctx, userID, eventhandler.Notification{
		Type:  shared.EventAchievementUnlocked,
		Title: "First Steps",
	}))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg realtime.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, string(shared.EventAchievementUnlocked), msg.Type)
	assert.Equal(t, "First Steps", msg.Title)
}

func TestLiveFeedRequiresToken(t *testing.T) {
	h := newHarness(t, nil)
	rec, _ := h.do(t, http.MethodGet, "/api/v1/notifications/live", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.ErrMissingIdentity, http.StatusUnauthorized},
		{shared.ErrUserNotFound, http.StatusNotFound},
		{shared.ErrAlreadyFriends, http.StatusBadRequest},
		{shared.Persistence("user", "Get", errors.New("conn reset")), http.StatusServiceUnavailable},
		{shared.ErrEventAPIUnavailable, http.StatusBadGateway},
		{shared.ErrEventAPIRateLimited, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
	assert.Equal(t, "store operation failed", publicMessage(shared.Persistence("user", "Get", errors.New("secret dsn"))))
	assert.Equal(t, "internal server error", publicMessage(errors.New("boom")))
}

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	l := newMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "k")
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "other")
	assert.True(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}

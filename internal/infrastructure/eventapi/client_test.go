package eventapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/circuitbreaker"
	"github.com/negrahodzic/UniVerse-sub000/pkg/retry"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

const testKey = "secret-key"

type recordingObserver struct {
	calls []string
}

func (r *recordingObserver) ObserveExternalCall(op, outcome string) {
	r.calls = append(r.calls, op+":"+outcome)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL, testKey)
	cfg.RateLimiter.RequestsPerMinute = 0
	cfg.BreakerThreshold = 3

	fast := retry.New(
		retry.WithMaxAttempts(3),
		retry.WithRetryIf(retry.IsRetryable),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	c, err := NewClient(cfg, nil, append([]Option{WithRetrier(fast)}, opts...)...)
	require.NoError(t, err)
	return c
}

func eventJSON(id string) map[string]any {
	return map[string]any{
		"eventId":       id,
		"eventName":     "Hackathon",
		"eventDateTime": "2024-05-10T18:30:00",
		"venue": map[string]any{
			"name": "Main Hall", "address": "Campus 1", "latitude": 43.85, "longitude": 18.41,
		},
		"ticketPrice":      12.5,
		"availableTickets": 40,
	}
}

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "events.local"}, nil)
	assert.Error(t, err)
}

func TestGetEvent_SendsKeyAndDecodes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testKey, r.Header.Get(APIKeyHeader))
		assert.Equal(t, "/events/ev-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(eventJSON("ev-1"))
	})

	ev, err := c.GetEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Hackathon", ev.Name)
	assert.Equal(t, "Main Hall", ev.Venue.Name)
	assert.True(t, decimal.RequireFromString("12.5").Equal(ev.TicketPrice))
	assert.Equal(t, time.Date(2024, 5, 10, 18, 30, 0, 0, timeutil.Location()), ev.DateTime)
}

func TestGetEvent_NotFound(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"no such event"}`, http.StatusNotFound)
	})

	_, err := c.GetEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, shared.ErrEventNotFound)
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, c.BreakerState())
}

func TestListEvents_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	obs := &recordingObserver{}
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode([]any{eventJSON("a"), map[string]any{"eventName": "no id"}, eventJSON("b")})
	}, WithObserver(obs))

	events, err := c.ListEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "b", events[1].ID)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"list_events:ok"}, obs.calls)
}

func TestListEvents_AcceptsEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"events": []any{eventJSON("a")}})
	})
	events, err := c.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestListEvents_UnavailableOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	obs := &recordingObserver{}
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithObserver(obs))

	_, err := c.ListEvents(context.Background())
	assert.ErrorIs(t, err, shared.ErrEventAPIUnavailable)
	assert.True(t, shared.IsExternalService(err))
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())

	before := calls.Load()
	_, err = c.ListEvents(context.Background())
	assert.ErrorIs(t, err, shared.ErrEventAPIUnavailable)
	assert.Equal(t, before, calls.Load())
	assert.Equal(t, []string{"list_events:error", "list_events:circuit_open"}, obs.calls)
}

func TestBook_PostsTicketsOnce(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/events/ev-1/book", r.URL.Path)
		var body BookRequestDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 2, body.NumberOfTickets)
		_ = json.NewEncoder(w).Encode(map[string]any{"bookingId": "b-7", "totalPrice": "25.00"})
	})

	b, err := c.Book(context.Background(), "ev-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "b-7", b.BookingID)
	assert.Equal(t, "ev-1", b.EventID)
	assert.Equal(t, 2, b.NumberOfTickets)
	assert.True(t, decimal.NewFromInt(25).Equal(b.TotalPrice))
	assert.Equal(t, int32(1), calls.Load())
}

func TestBook_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.Book(context.Background(), "ev-1", 1)
	assert.ErrorIs(t, err, shared.ErrEventAPIUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBook_MapsClientErrors(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusConflict, func(err error) bool { return errors.Is(err, shared.ErrNotEnoughTickets) }},
		{http.StatusBadRequest, shared.IsInvalidArgument},
		{http.StatusUnauthorized, shared.IsExternalService},
		{http.StatusTooManyRequests, func(err error) bool { return errors.Is(err, shared.ErrEventAPIRateLimited) }},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.Book(context.Background(), "ev-1", 1)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
}

func TestBook_RejectsTicketCountLocally(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("request must not be sent")
	})
	_, err := c.Book(context.Background(), "ev-1", 0)
	assert.ErrorIs(t, err, shared.ErrInvalidTicketCount)
}

func TestTooManyRequests_BlocksLimiter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c.limiter = NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 600, Burst: 5, WaitTimeout: time.Millisecond})

	_, err := c.GetEvent(context.Background(), "ev-1")
	assert.ErrorIs(t, err, shared.ErrEventAPIRateLimited)

	_, err = c.GetEvent(context.Background(), "ev-1")
	assert.ErrorIs(t, err, shared.ErrEventAPIRateLimited)
	assert.False(t, c.limiter.TryAllow())
}

func TestHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("[]"))
	})
	assert.NoError(t, c.Health(context.Background()))
	healthy.Store(false)
	assert.ErrorIs(t, c.Health(context.Background()), shared.ErrEventAPIUnavailable)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Minute, parseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, Burst: 2, WaitTimeout: time.Second})
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	assert.True(t, rl.TryAllow())
	assert.True(t, rl.TryAllow())
	assert.False(t, rl.TryAllow())

	now = now.Add(time.Second)
	assert.True(t, rl.TryAllow())

	rl.RecordRateLimitHit(10 * time.Second)
	now = now.Add(5 * time.Second)
	assert.False(t, rl.TryAllow())
	now = now.Add(5 * time.Second)
	assert.True(t, rl.TryAllow())
}

func TestRateLimiter_WaitSleepsForToken(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, Burst: 1, WaitTimeout: 5 * time.Second})
	rl.now = func() time.Time { return now }
	rl.lastRefill = now
	var slept time.Duration
	rl.sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		now = now.Add(d)
		return nil
	}

	require.NoError(t, rl.Wait(context.Background()))
	require.NoError(t, rl.Wait(context.Background()))
	assert.Equal(t, time.Second, slept)
}

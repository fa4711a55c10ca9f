// Package eventapi is the client for the external event-booking API. It
// implements booking.Catalog behind a token bucket, a circuit breaker and
// retries for transport failures.
package eventapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/booking"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/circuitbreaker"
	"github.com/negrahodzic/UniVerse-sub000/pkg/retry"
)

// APIKeyHeader carries the API key on every request.
const APIKeyHeader = "X-API-Key"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4 << 10

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the event API client.
type ClientConfig struct {
	BaseURL string
	APIKey  string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	RateLimiter RateLimiterConfig

	// MaxAttempts counts the first try.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerThreshold   int
	BreakerTimeout     time.Duration
	BreakerHalfOpenMax int
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL, apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL:            baseURL,
		APIKey:             apiKey,
		Timeout:            10 * time.Second,
		RateLimiter:        DefaultRateLimiterConfig(),
		MaxAttempts:        3,
		RetryBaseDelay:     200 * time.Millisecond,
		RetryMaxDelay:      2 * time.Second,
		BreakerThreshold:   5,
		BreakerTimeout:     30 * time.Second,
		BreakerHalfOpenMax: 1,
	}
}

// CallObserver receives one outcome per logical call.
type CallObserver interface {
	ObserveExternalCall(operation, outcome string)
}

// Call outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeCircuitOpen = "circuit_open"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the event-booking API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *RateLimiter
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	observer   CallObserver
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithObserver records call outcomes.
func WithObserver(o CallObserver) Option {
	return func(c *Client) { c.observer = o }
}

// WithRetrier replaces the retry policy.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) {
		if r != nil {
			c.retrier = r
		}
	}
}

// NewClient creates a client. The base URL must be absolute.
func NewClient(config ClientConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("eventapi: invalid base url %q", config.BaseURL)
	}
	defaults := DefaultClientConfig(config.BaseURL, config.APIKey)
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	logger = logger.With("component", "eventapi")

	c := &Client{
		baseURL:    base,
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    NewRateLimiter(config.RateLimiter),
		logger:     logger,
	}
	c.breaker = circuitbreaker.EventAPIBreaker(
		config.BreakerThreshold,
		config.BreakerTimeout,
		config.BreakerHalfOpenMax,
		func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		circuitbreaker.WithIsFailure(retry.IsRetryable),
	)
	c.retrier = retry.EventAPIRetrier(config.MaxAttempts, config.RetryBaseDelay, config.RetryMaxDelay,
		func(attempt int, err error, delay time.Duration) {
			logger.Debug("retrying event api call", "attempt", attempt, "delay", delay, "error", err)
		},
	)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ booking.Catalog = (*Client)(nil)

// ListEvents returns every event. Entries that cannot be decoded are skipped.
func (c *Client) ListEvents(ctx context.Context) ([]booking.Event, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "list_events", http.MethodGet, "/events", nil, &raw); err != nil {
		return nil, err
	}

	var dtos []EventDTO
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Events []EventDTO `json:"events"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, c.decodeError("list_events", err)
		}
		dtos = envelope.Events
	} else if err := json.Unmarshal(trimmed, &dtos); err != nil {
		return nil, c.decodeError("list_events", err)
	}

	events := make([]booking.Event, 0, len(dtos))
	for _, dto := range dtos {
		ev, err := dto.ToEvent()
		if err != nil {
			c.logger.Warn("skipping malformed event", "event_id", dto.EventID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// GetEvent fetches one event.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*booking.Event, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, shared.ErrEventNotFound
	}
	var dto EventDTO
	if err := c.call(ctx, "get_event", http.MethodGet, "/events/"+url.PathEscape(eventID), nil, &dto); err != nil {
		return nil, err
	}
	ev, err := dto.ToEvent()
	if err != nil {
		return nil, c.decodeError("get_event", err)
	}
	return &ev, nil
}

// Book reserves tickets. Bookings are not retried after the request was
// sent, so a timeout never books twice.
func (c *Client) Book(ctx context.Context, eventID string, tickets int) (*booking.Booking, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, shared.ErrEventNotFound
	}
	if err := booking.ValidateTicketCount(tickets); err != nil {
		return nil, err
	}
	var dto BookingDTO
	path := "/events/" + url.PathEscape(eventID) + "/book"
	if err := c.call(ctx, "book", http.MethodPost, path, BookRequestDTO{NumberOfTickets: tickets}, &dto); err != nil {
		return nil, err
	}
	return dto.ToBooking(eventID, tickets), nil
}

// Health probes the API through GET /events without retries.
func (c *Client) Health(ctx context.Context) error {
	if c.breaker.IsOpen() {
		return shared.ErrEventAPIUnavailable
	}
	var raw json.RawMessage
	return c.mapError(c.send(ctx, http.MethodGet, "/events", nil, &raw))
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// statusError is a non-2xx answer.
type statusError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("event api returned %d", e.Status)
	}
	return fmt.Sprintf("event api returned %d: %s", e.Status, e.Message)
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		var rle *RateLimitError
		if errors.As(err, &rle) {
			c.observe(op, OutcomeRateLimited)
			return fmt.Errorf("%w: %v", shared.ErrEventAPIRateLimited, err)
		}
		return err
	}

	attempt := func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.send(ctx, method, path, body, out)
		})
	}
	var err error
	if method == http.MethodGet {
		err = c.retrier.Do(ctx, attempt)
	} else {
		err = attempt(ctx)
	}

	mapped := c.mapError(err)
	c.observe(op, outcomeOf(err))
	if mapped != nil && !shared.IsNotFound(mapped) && !shared.IsInvalidArgument(mapped) {
		c.logger.Warn("event api call failed", "op", op, "path", path, "error", err)
	}
	return mapped
}

// send performs one HTTP exchange. Transport failures and 5xx answers are
// marked retryable; they are also the only errors the breaker counts.
func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.Retryable(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	serr := &statusError{Status: resp.StatusCode}
	var apiErr errorDTO
	if data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); len(data) > 0 {
		if json.Unmarshal(data, &apiErr) == nil && apiErr.text() != "" {
			serr.Message = apiErr.text()
		} else {
			serr.Message = strings.TrimSpace(string(data))
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		serr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		c.limiter.RecordRateLimitHit(serr.RetryAfter)
		return serr
	case resp.StatusCode >= 500:
		return retry.Retryable(serr)
	default:
		return serr
	}
}

// mapError converts transport errors into domain errors.
func (c *Client) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", shared.ErrEventAPIUnavailable, err)
	}

	var serr *statusError
	if !errors.As(err, &serr) {
		if retry.IsRetryable(err) {
			return fmt.Errorf("%w: %v", shared.ErrEventAPIUnavailable, err)
		}
		return shared.WrapError("events", "Request", shared.ErrExternalService, "unexpected event API response", err)
	}

	switch serr.Status {
	case http.StatusNotFound:
		return shared.ErrEventNotFound
	case http.StatusConflict:
		return shared.ErrNotEnoughTickets
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		msg := serr.Message
		if msg == "" {
			msg = "event API rejected the request"
		}
		return shared.NewDomainError("events", "Book", shared.ErrInvalidArgument, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %s", shared.ErrEventAPIRateLimited, serr.RetryAfter)
	case http.StatusUnauthorized, http.StatusForbidden:
		return shared.WrapError("events", "Request", shared.ErrExternalService, "event API rejected the API key", serr)
	}
	return fmt.Errorf("%w: %v", shared.ErrEventAPIUnavailable, serr)
}

func (c *Client) decodeError(op string, err error) error {
	c.observe(op, OutcomeError)
	return shared.WrapError("events", "Decode", shared.ErrExternalService, "malformed event API response", err)
}

func (c *Client) observe(op, outcome string) {
	if c.observer != nil {
		c.observer.ObserveExternalCall(op, outcome)
	}
}

func outcomeOf(err error) string {
	var serr *statusError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return OutcomeCircuitOpen
	case errors.As(err, &serr) && serr.Status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	default:
		return OutcomeError
	}
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

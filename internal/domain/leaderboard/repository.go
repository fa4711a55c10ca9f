package leaderboard

import (
	"context"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// READ-SIDE ACCELERATORS
// Implementations live in infrastructure/persistence/redis.
// ══════════════════════════════════════════════════════════════════════════════

// Page is a cached global ranking. IsCurrentUser is always false in a
// stored page; readers mark their own row with Ranking.MarkCurrentUser.
type Page struct {
	Ranking     *Ranking  `json:"ranking"`
	Limit       int       `json:"limit"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Cache stores global ranking pages keyed by metric and limit.
type Cache interface {
	// GetPage returns a cached page, or nil on a miss.
	GetPage(ctx context.Context, metric Metric, limit int) (*Page, error)

	// SetPage stores a page until its TTL expires.
	SetPage(ctx context.Context, metric Metric, page *Page) error

	// Invalidate drops every cached page. Called after any write that
	// changes a ranked value.
	Invalidate(ctx context.Context) error
}

// PositionIndex answers "where does this user stand globally" without
// loading the whole user set.
type PositionIndex interface {
	// Update records a user's current value for every metric.
	Update(ctx context.Context, stats *progress.UserStats) error

	// Position returns the 1-based global position of userID for metric.
	// ok is false when the user is not indexed.
	Position(ctx context.Context, userID string, metric Metric) (pos Position, ok bool, err error)

	// Rebuild replaces the index for metric with users.
	Rebuild(ctx context.Context, metric Metric, users []*progress.UserStats) error
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Default limits for the global scope.
const (
	DefaultGlobalLimit = 100
	MaxGlobalLimit     = 500
)

// QueryOptions describes one leaderboard request.
type QueryOptions struct {
	Scope  Scope
	Metric Metric
	// Limit bounds global rankings; 0 means the configured default.
	// Friends rankings are never truncated.
	Limit int
}

// DefaultQueryOptions returns the global points leaderboard.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Scope: ScopeGlobal, Metric: MetricPoints}
}

// WithScope returns a copy with scope set.
func (o QueryOptions) WithScope(scope Scope) QueryOptions {
	o.Scope = scope
	return o
}

// WithMetric returns a copy with metric set.
func (o QueryOptions) WithMetric(metric Metric) QueryOptions {
	o.Metric = metric
	return o
}

// WithLimit returns a copy with limit set.
func (o QueryOptions) WithLimit(limit int) QueryOptions {
	o.Limit = limit
	return o
}

// Normalize validates the options and resolves the effective global limit.
func (o QueryOptions) Normalize(defaultLimit, maxLimit int) (QueryOptions, error) {
	if defaultLimit <= 0 {
		defaultLimit = DefaultGlobalLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxGlobalLimit
	}
	if o.Scope == "" {
		o.Scope = ScopeGlobal
	}
	if o.Metric == "" {
		o.Metric = MetricPoints
	}
	if _, err := ParseScope(string(o.Scope)); err != nil {
		return o, err
	}
	if _, err := ParseMetric(string(o.Metric)); err != nil {
		return o, err
	}
	switch {
	case o.Limit < 0 || o.Limit > maxLimit:
		return o, shared.ErrInvalidLimit
	case o.Limit == 0:
		o.Limit = defaultLimit
	}
	return o, nil
}

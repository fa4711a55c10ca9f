// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/leaderboard"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// Rebuilds the position index from the store and pre-computes the default
// global page for every metric.
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// WarmLimit is the size of the pre-computed global page.
	WarmLimit int

	// Timeout bounds one run.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		WarmLimit: leaderboard.DefaultGlobalLimit,
		Timeout:   2 * time.Minute,
	}
}

// RebuildStats describes one run.
type RebuildStats struct {
	StartedAt     time.Time
	Duration      time.Duration
	UsersIndexed  int
	MetricsBuilt  int
	PagesWarmed   int
	MetricsFailed int
}

// RebuildLeaderboardJob keeps the leaderboard accelerators consistent with
// the store. Either accelerator may be nil.
type RebuildLeaderboardJob struct {
	store  progress.Store
	index  leaderboard.PositionIndex
	cache  leaderboard.Cache
	config RebuildLeaderboardConfig
	now    func() time.Time
	logger *slog.Logger

	last atomic.Pointer[RebuildStats]
}

// NewRebuildLeaderboardJob creates a new rebuild job.
func NewRebuildLeaderboardJob(
	store progress.Store,
	index leaderboard.PositionIndex,
	cache leaderboard.Cache,
	config RebuildLeaderboardConfig,
	logger *slog.Logger,
) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultRebuildLeaderboardConfig()
	if config.WarmLimit <= 0 {
		config.WarmLimit = defaults.WarmLimit
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &RebuildLeaderboardJob{
		store:  store,
		index:  index,
		cache:  cache,
		config: config,
		now:    time.Now,
		logger: logger.With("job", "rebuild_leaderboard"),
	}
}

// Name implements scheduler.Job.
func (j *RebuildLeaderboardJob) Name() string { return "rebuild_leaderboard" }

// Description implements scheduler.Job.
func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuild leaderboard position index and warm global pages"
}

// Run implements scheduler.Job. A failing metric does not stop the others;
// the joined error is returned at the end.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stats := &RebuildStats{StartedAt: j.now()}
	var errs []error

	if j.cache != nil {
		if err := j.cache.Invalidate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("invalidate cache: %w", err))
		}
	}

	for _, metric := range leaderboard.AllMetrics {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, warmed, err := j.rebuildMetric(ctx, metric)
		if err != nil {
			stats.MetricsFailed++
			errs = append(errs, fmt.Errorf("metric %s: %w", metric, err))
			continue
		}
		stats.MetricsBuilt++
		if n > stats.UsersIndexed {
			stats.UsersIndexed = n
		}
		if warmed {
			stats.PagesWarmed++
		}
	}

	stats.Duration = j.now().Sub(stats.StartedAt)
	j.last.Store(stats)

	j.logger.Info("leaderboard rebuilt",
		"users", stats.UsersIndexed,
		"metrics", stats.MetricsBuilt,
		"pages_warmed", stats.PagesWarmed,
		"failed", stats.MetricsFailed,
		"duration", stats.Duration.String(),
	)
	return errors.Join(errs...)
}

// rebuildMetric loads every user ordered by metric once and feeds both the
// index and the cached page from that list.
func (j *RebuildLeaderboardJob) rebuildMetric(ctx context.Context, metric leaderboard.Metric) (int, bool, error) {
	users, err := j.store.QueryUsersOrderedBy(ctx, metric.Field(), progress.Descending, 0)
	if err != nil {
		return 0, false, fmt.Errorf("load users: %w", err)
	}

	if j.index != nil {
		if err := j.index.Rebuild(ctx, metric, users); err != nil {
			return 0, false, fmt.Errorf("rebuild index: %w", err)
		}
	}

	if j.cache == nil {
		return len(users), false, nil
	}
	top := users
	if len(top) > j.config.WarmLimit {
		top = top[:j.config.WarmLimit]
	}
	page := &leaderboard.Page{
		Ranking:     leaderboard.NewRanking(top, metric, leaderboard.ScopeGlobal, ""),
		Limit:       j.config.WarmLimit,
		GeneratedAt: j.now(),
	}
	if err := j.cache.SetPage(ctx, metric, page); err != nil {
		return len(users), false, fmt.Errorf("warm cache: %w", err)
	}
	return len(users), true, nil
}

// LastStats returns the statistics of the latest run, or nil before the first.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.last.Load()
}

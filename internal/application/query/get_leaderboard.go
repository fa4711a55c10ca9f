// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/leaderboard"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Global rankings read the top of the store (through the page cache when one
// is configured). Friends rankings read the requester plus their friends.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery contains the leaderboard request.
type GetLeaderboardQuery struct {
	// RequesterID is the authenticated caller.
	RequesterID string

	Scope  leaderboard.Scope
	Metric leaderboard.Metric

	// Limit bounds global rankings (0 = default).
	Limit int
}

// GetLeaderboardResult contains one ranked list.
type GetLeaderboardResult struct {
	Scope   leaderboard.Scope   `json:"scope"`
	Metric  leaderboard.Metric  `json:"metric"`
	Entries []leaderboard.Entry `json:"entries"`

	// CurrentUser is the requester's entry when they appear in Entries.
	CurrentUser *leaderboard.Entry `json:"currentUser,omitempty"`

	// GlobalPosition is the requester's position in the full global
	// ranking, filled from the position index when they fall outside Entries.
	GlobalPosition leaderboard.Position `json:"globalPosition,omitempty"`

	FromCache   bool      `json:"fromCache"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// GetLeaderboardConfig contains leaderboard limits.
type GetLeaderboardConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// GetLeaderboardHandler handles leaderboard queries.
type GetLeaderboardHandler struct {
	store  progress.Store
	cache  leaderboard.Cache
	index  leaderboard.PositionIndex
	config GetLeaderboardConfig
	logger *slog.Logger
}

// NewGetLeaderboardHandler creates a new leaderboard handler. cache and
// index may be nil.
func NewGetLeaderboardHandler(
	store progress.Store,
	cache leaderboard.Cache,
	index leaderboard.PositionIndex,
	config GetLeaderboardConfig,
	logger *slog.Logger,
) *GetLeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = leaderboard.DefaultGlobalLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = leaderboard.MaxGlobalLimit
	}
	return &GetLeaderboardHandler{
		store:  store,
		cache:  cache,
		index:  index,
		config: config,
		logger: logger.With("query", "get_leaderboard"),
	}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	actor, err := shared.RequireActor(q.RequesterID)
	if err != nil {
		return nil, err
	}
	opts, err := leaderboard.QueryOptions{Scope: q.Scope, Metric: q.Metric, Limit: q.Limit}.
		Normalize(h.config.DefaultLimit, h.config.MaxLimit)
	if err != nil {
		return nil, err
	}

	var result *GetLeaderboardResult
	if opts.Scope == leaderboard.ScopeFriends {
		result, err = h.friends(ctx, actor.String(), opts.Metric)
	} else {
		result, err = h.global(ctx, actor.String(), opts.Metric, opts.Limit)
	}
	if err != nil {
		return nil, err
	}

	for i := range result.Entries {
		if result.Entries[i].IsCurrentUser {
			e := result.Entries[i]
			result.CurrentUser = &e
			break
		}
	}
	if result.CurrentUser == nil && opts.Scope == leaderboard.ScopeGlobal && h.index != nil {
		pos, ok, err := h.index.Position(ctx, actor.String(), opts.Metric)
		if err != nil {
			h.logger.Warn("position lookup failed", "user_id", actor.String(), "error", err)
		} else if ok {
			result.GlobalPosition = pos
		}
	}
	return result, nil
}

func (h *GetLeaderboardHandler) global(ctx context.Context, userID string, metric leaderboard.Metric, limit int) (*GetLeaderboardResult, error) {
	if h.cache != nil {
		page, err := h.cache.GetPage(ctx, metric, limit)
		if err != nil {
			h.logger.Warn("leaderboard cache read failed", "metric", metric, "error", err)
		} else if page != nil && page.Ranking != nil {
			ranking := page.Ranking.MarkCurrentUser(userID)
			return &GetLeaderboardResult{
				Scope:       leaderboard.ScopeGlobal,
				Metric:      metric,
				Entries:     ranking.Entries,
				FromCache:   true,
				GeneratedAt: page.GeneratedAt,
			}, nil
		}
	}

	users, err := h.store.QueryUsersOrderedBy(ctx, metric.Field(), progress.Descending, limit)
	if err != nil {
		return nil, shared.Persistence("leaderboard", "Global", err)
	}
	now := timeutil.Now()
	ranking := leaderboard.NewRanking(users, metric, leaderboard.ScopeGlobal, "")

	if h.cache != nil {
		if err := h.cache.SetPage(ctx, metric, &leaderboard.Page{Ranking: ranking, Limit: limit, GeneratedAt: now}); err != nil {
			h.logger.Warn("leaderboard cache write failed", "metric", metric, "error", err)
		}
	}

	marked := ranking.MarkCurrentUser(userID)
	return &GetLeaderboardResult{
		Scope:       leaderboard.ScopeGlobal,
		Metric:      metric,
		Entries:     marked.Entries,
		GeneratedAt: now,
	}, nil
}

func (h *GetLeaderboardHandler) friends(ctx context.Context, userID string, metric leaderboard.Metric) (*GetLeaderboardResult, error) {
	me, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return nil, shared.Persistence("leaderboard", "Friends", err)
	}
	ids := make([]string, 0, len(me.Friends))
	for _, id := range me.Friends {
		if id = strings.TrimSpace(id); id != "" && id != userID {
			ids = append(ids, id)
		}
	}

	users := []*progress.UserStats{me}
	if len(ids) > 0 {
		friends, err := h.store.QueryUsersByID(ctx, ids)
		if err != nil {
			return nil, shared.Persistence("leaderboard", "Friends", err)
		}
		users = append(users, friends...)
	}

	ranking := leaderboard.NewRanking(users, metric, leaderboard.ScopeFriends, userID)
	return &GetLeaderboardResult{
		Scope:       leaderboard.ScopeFriends,
		Metric:      metric,
		Entries:     ranking.Entries,
		GeneratedAt: timeutil.Now(),
	}, nil
}

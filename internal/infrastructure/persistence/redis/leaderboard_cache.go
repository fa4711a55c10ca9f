package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/leaderboard"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAGE CACHE
// Pages are keyed by a generation number. Invalidate bumps the generation,
// so every page written before it becomes unreachable and expires on its own.
// ══════════════════════════════════════════════════════════════════════════════

const (
	keyLeaderboardGeneration = PrefixLeaderboard + "generation"
	keyLeaderboardPage       = PrefixLeaderboard + "page:"
	keyLeaderboardIndex      = PrefixLeaderboard + "index:"
)

// PageCache implements leaderboard.Cache.
type PageCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPageCache creates a PageCache. ttl <= 0 uses TTLLeaderboardPage.
func NewPageCache(client *redis.Client, ttl time.Duration) *PageCache {
	if ttl <= 0 {
		ttl = TTLLeaderboardPage
	}
	return &PageCache{client: client, ttl: ttl}
}

var _ leaderboard.Cache = (*PageCache)(nil)

// GetPage returns the page for metric and limit, or nil on a miss.
func (c *PageCache) GetPage(ctx context.Context, metric leaderboard.Metric, limit int) (*leaderboard.Page, error) {
	key, err := c.pageKey(ctx, metric, limit)
	if err != nil {
		return nil, err
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("leaderboard cache get: %w", err)
	}

	var page leaderboard.Page
	if err := json.Unmarshal(data, &page); err != nil {
		// A page we cannot read is a miss; the caller rebuilds it.
		_ = c.client.Del(ctx, key).Err()
		return nil, nil
	}
	return &page, nil
}

// SetPage stores page under the current generation.
func (c *PageCache) SetPage(ctx context.Context, metric leaderboard.Metric, page *leaderboard.Page) error {
	if page == nil {
		return nil
	}
	key, err := c.pageKey(ctx, metric, page.Limit)
	if err != nil {
		return err
	}
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate drops every cached page.
func (c *PageCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, keyLeaderboardGeneration).Err()
}

func (c *PageCache) pageKey(ctx context.Context, metric leaderboard.Metric, limit int) (string, error) {
	gen, err := c.client.Get(ctx, keyLeaderboardGeneration).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("leaderboard cache generation: %w", err)
	}
	return fmt.Sprintf("%s%d:%s:%d", keyLeaderboardPage, gen, metric, limit), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// POSITION INDEX
// One sorted set per metric. Scores are stored negated so ascending rank
// order is value descending, and Redis orders equal scores by member, which
// gives user id ascending on ties.
// ══════════════════════════════════════════════════════════════════════════════

// PositionIndex implements leaderboard.PositionIndex.
type PositionIndex struct {
	client *redis.Client
}

// NewPositionIndex creates a PositionIndex.
func NewPositionIndex(client *redis.Client) *PositionIndex {
	return &PositionIndex{client: client}
}

var _ leaderboard.PositionIndex = (*PositionIndex)(nil)

func indexKey(metric leaderboard.Metric) string {
	return keyLeaderboardIndex + metric.String()
}

// Update records the user's value for every metric in one round trip.
func (p *PositionIndex) Update(ctx context.Context, stats *progress.UserStats) error {
	if stats == nil || stats.UserID == "" {
		return nil
	}
	pipe := p.client.Pipeline()
	for _, m := range leaderboard.AllMetrics {
		pipe.ZAdd(ctx, indexKey(m), redis.Z{
			Score:  -float64(m.Value(stats)),
			Member: stats.UserID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("position index update: %w", err)
	}
	return nil
}

// Position returns the 1-based position of userID for metric.
func (p *PositionIndex) Position(ctx context.Context, userID string, metric leaderboard.Metric) (leaderboard.Position, bool, error) {
	rank, err := p.client.ZRank(ctx, indexKey(metric), userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("position index rank: %w", err)
	}
	return leaderboard.Position(rank + 1), true, nil
}

// Rebuild writes users into a scratch key and swaps it in, so readers never
// see a half-built index.
func (p *PositionIndex) Rebuild(ctx context.Context, metric leaderboard.Metric, users []*progress.UserStats) error {
	key := indexKey(metric)

	members := make([]redis.Z, 0, len(users))
	for _, u := range users {
		if u == nil || u.UserID == "" {
			continue
		}
		members = append(members, redis.Z{Score: -float64(metric.Value(u)), Member: u.UserID})
	}
	if len(members) == 0 {
		return p.client.Del(ctx, key).Err()
	}

	scratch := key + ":rebuild:" + uuid.NewString()
	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, scratch, members...)
	pipe.Rename(ctx, scratch, key)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = p.client.Del(ctx, scratch).Err()
		return fmt.Errorf("position index rebuild %s: %w", metric, err)
	}
	return nil
}

// Size returns the number of indexed users for metric.
func (p *PositionIndex) Size(ctx context.Context, metric leaderboard.Metric) (int64, error) {
	return p.client.ZCard(ctx, indexKey(metric)).Result()
}

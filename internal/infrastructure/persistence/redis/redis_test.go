package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/leaderboard"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func stats(id string, points, minutes, streak int) *progress.UserStats {
	return &progress.UserStats{
		UserID:                id,
		Username:              "user-" + id,
		Points:                points,
		TotalStudyTimeMinutes: minutes,
		StreakDays:            streak,
	}
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Port = port

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, Health(context.Background(), client))

	mr.Close()
	cfg.DialTimeout = 200 * time.Millisecond
	_, err = NewClient(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestPageCache_RoundTripAndInvalidate(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	cache := NewPageCache(client, time.Minute)

	page, err := cache.GetPage(ctx, leaderboard.MetricPoints, 10)
	require.NoError(t, err)
	assert.Nil(t, page)

	ranking := leaderboard.NewRanking([]*progress.UserStats{stats("a", 10, 0, 0), stats("b", 20, 0, 0)},
		leaderboard.MetricPoints, leaderboard.ScopeGlobal, "")
	generated := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SetPage(ctx, leaderboard.MetricPoints, &leaderboard.Page{
		Ranking: ranking, Limit: 10, GeneratedAt: generated,
	}))

	page, err = cache.GetPage(ctx, leaderboard.MetricPoints, 10)
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, 2, page.Ranking.Count())
	assert.Equal(t, "b", page.Ranking.Entries[0].UserID)
	assert.True(t, page.GeneratedAt.Equal(generated))

	// Different limit and metric are separate pages.
	other, err := cache.GetPage(ctx, leaderboard.MetricPoints, 20)
	require.NoError(t, err)
	assert.Nil(t, other)
	other, err = cache.GetPage(ctx, leaderboard.MetricStreak, 10)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, cache.Invalidate(ctx))
	page, err = cache.GetPage(ctx, leaderboard.MetricPoints, 10)
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestPageCache_Expires(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	cache := NewPageCache(client, time.Minute)

	ranking := leaderboard.NewRanking(nil, leaderboard.MetricHours, leaderboard.ScopeGlobal, "")
	require.NoError(t, cache.SetPage(ctx, leaderboard.MetricHours, &leaderboard.Page{Ranking: ranking, Limit: 5}))

	mr.FastForward(2 * time.Minute)
	page, err := cache.GetPage(ctx, leaderboard.MetricHours, 5)
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestPageCache_CorruptPageIsMiss(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	cache := NewPageCache(client, 0)

	require.NoError(t, mr.Set(keyLeaderboardPage+"0:points:10", "{not json"))
	page, err := cache.GetPage(ctx, leaderboard.MetricPoints, 10)
	require.NoError(t, err)
	assert.Nil(t, page)
	assert.False(t, mr.Exists(keyLeaderboardPage+"0:points:10"))
}

func TestPositionIndex_UpdateAndPosition(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	index := NewPositionIndex(client)

	for _, s := range []*progress.UserStats{
		stats("c", 300, 60, 1),
		stats("a", 1500, 30, 4),
		stats("d", 300, 600, 2),
		stats("b", 900, 120, 9),
	} {
		require.NoError(t, index.Update(ctx, s))
	}

	want := map[leaderboard.Metric][]string{
		leaderboard.MetricPoints: {"a", "b", "c", "d"},
		leaderboard.MetricHours:  {"d", "b", "c", "a"},
		leaderboard.MetricStreak: {"b", "a", "d", "c"},
	}
	for metric, order := range want {
		for i, id := range order {
			pos, ok, err := index.Position(ctx, id, metric)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, leaderboard.Position(i+1), pos, "%s %s", metric, id)
		}
	}

	_, ok, err := index.Position(ctx, "nobody", leaderboard.MetricPoints)
	require.NoError(t, err)
	assert.False(t, ok)

	// Moving up replaces the old score.
	require.NoError(t, index.Update(ctx, stats("d", 2000, 600, 2)))
	pos, _, err := index.Position(ctx, "d", leaderboard.MetricPoints)
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Position(1), pos)
}

func TestPositionIndex_MatchesRank(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	index := NewPositionIndex(client)

	users := []*progress.UserStats{
		stats("u3", 50, 0, 0), stats("u1", 50, 0, 0), stats("u2", 70, 0, 0), stats("u0", 0, 0, 0),
	}
	require.NoError(t, index.Rebuild(ctx, leaderboard.MetricPoints, users))

	for _, e := range leaderboard.Rank(users, leaderboard.MetricPoints, "") {
		pos, ok, err := index.Position(ctx, e.UserID, leaderboard.MetricPoints)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, e.Rank, pos, e.UserID)
	}
}

func TestPositionIndex_RebuildReplaces(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	index := NewPositionIndex(client)

	require.NoError(t, index.Update(ctx, stats("gone", 10, 0, 0)))
	require.NoError(t, index.Rebuild(ctx, leaderboard.MetricPoints, []*progress.UserStats{stats("kept", 5, 0, 0), nil}))

	n, err := index.Size(ctx, leaderboard.MetricPoints)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok, err := index.Position(ctx, "gone", leaderboard.MetricPoints)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, index.Rebuild(ctx, leaderboard.MetricPoints, nil))
	n, err = index.Size(ctx, leaderboard.MetricPoints)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSettlementGuard(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	guard := NewSettlementGuard(client, time.Hour)

	ok, err := guard.Acquire(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Acquire(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = guard.Acquire(ctx, "s1", "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, guard.Release(ctx, "s1", "u1"))
	ok, err = guard.Acquire(ctx, "s1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, time.Hour, mr.TTL(settlementKey("s1", "u1")))
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client, 2, time.Hour)

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewRateLimiter(client, 0, 0).Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfig_WithURL(t *testing.T) {
	base := DefaultConfig()
	base.PoolSize = 42

	cfg, err := base.WithURL("redis://:secret@cache.local:6380/3")
	require.NoError(t, err)
	assert.Equal(t, "cache.local", cfg.Host)
	assert.Equal(t, 6380, cfg.Port)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, 42, cfg.PoolSize)

	same, err := base.WithURL("")
	require.NoError(t, err)
	assert.Equal(t, base, same)

	_, err = base.WithURL("http://nope")
	assert.Error(t, err)
}

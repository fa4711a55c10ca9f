package query

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/booking"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/leaderboard"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/session"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/memory"
)

func seedUsers(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	users := []struct {
		id, name        string
		points, minutes int
		streak          int
		friends         []string
	}{
		{"a", "Ann", 300, 90, 2, []string{"b"}},
		{"b", "Ben", 500, 30, 5, []string{"a"}},
		{"c", "Cid", 300, 600, 1, nil},
		{"d", "Dee", 100, 10, 9, nil},
	}
	for _, u := range users {
		s, err := progress.NewUserStats(u.id, u.name, time.Now())
		require.NoError(t, err)
		s.Points = u.points
		s.TotalStudyTimeMinutes = u.minutes
		s.StreakDays = u.streak
		s.Friends = u.friends
		require.NoError(t, store.CreateUser(context.Background(), s))
	}
	return store
}

func ids(entries []leaderboard.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.UserID
	}
	return out
}

type mapCache struct {
	pages map[leaderboard.Metric]*leaderboard.Page
	gets  int
}

func (c *mapCache) GetPage(_ context.Context, m leaderboard.Metric, limit int) (*leaderboard.Page, error) {
	c.gets++
	p, ok := c.pages[m]
	if !ok || p.Limit != limit {
		return nil, nil
	}
	return p, nil
}

func (c *mapCache) SetPage(_ context.Context, m leaderboard.Metric, p *leaderboard.Page) error {
	c.pages[m] = p
	return nil
}

func (c *mapCache) Invalidate(context.Context) error {
	c.pages = map[leaderboard.Metric]*leaderboard.Page{}
	return nil
}

type fixedIndex map[string]leaderboard.Position

func (f fixedIndex) Update(context.Context, *progress.UserStats) error { return nil }

func (f fixedIndex) Position(_ context.Context, userID string, _ leaderboard.Metric) (leaderboard.Position, bool, error) {
	p, ok := f[userID]
	return p, ok, nil
}

func (f fixedIndex) Rebuild(context.Context, leaderboard.Metric, []*progress.UserStats) error {
	return nil
}

func TestGetLeaderboard_Global(t *testing.T) {
	store := seedUsers(t)
	h := NewGetLeaderboardHandler(store, nil, nil, GetLeaderboardConfig{}, nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{RequesterID: "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c", "d"}, ids(res.Entries))
	require.NotNil(t, res.CurrentUser)
	assert.Equal(t, leaderboard.Position(3), res.CurrentUser.Rank)

	res, err = h.Handle(context.Background(), GetLeaderboardQuery{RequesterID: "c", Metric: leaderboard.MetricHours, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(res.Entries))
}

func TestGetLeaderboard_Friends(t *testing.T) {
	store := seedUsers(t)
	h := NewGetLeaderboardHandler(store, nil, nil, GetLeaderboardConfig{}, nil)

	res, err := h.Handle(context.Background(), GetLeaderboardQuery{
		RequesterID: "a", Scope: leaderboard.ScopeFriends, Metric: leaderboard.MetricStreak,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(res.Entries))
	assert.True(t, res.Entries[1].IsCurrentUser)

	// A user with no friends still sees themselves.
	res, err = h.Handle(context.Background(), GetLeaderboardQuery{RequesterID: "d", Scope: leaderboard.ScopeFriends})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(res.Entries))
}

func TestGetLeaderboard_CacheAndPosition(t *testing.T) {
	store := seedUsers(t)
	cache := &mapCache{pages: map[leaderboard.Metric]*leaderboard.Page{}}
	h := NewGetLeaderboardHandler(store, cache, fixedIndex{"d": 4}, GetLeaderboardConfig{}, nil)

	first, err := h.Handle(context.Background(), GetLeaderboardQuery{RequesterID: "a", Limit: 2})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := h.Handle(context.Background(), GetLeaderboardQuery{RequesterID: "d", Limit: 2})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Nil(t, second.CurrentUser)
	assert.Equal(t, leaderboard.Position(4), second.GlobalPosition)
	for _, e := range second.Entries {
		assert.False(t, e.IsCurrentUser)
	}
}

func TestGetLeaderboard_Rejections(t *testing.T) {
	h := NewGetLeaderboardHandler(seedUsers(t), nil, nil, GetLeaderboardConfig{}, nil)

	_, err := h.Handle(context.Background(), GetLeaderboardQuery{})
	assert.True(t, shared.IsNotLoggedIn(err))

	_, err = h.Handle(context.Background(), GetLeaderboardQuery{RequesterID: "a", Limit: 501})
	assert.ErrorIs(t, err, shared.ErrInvalidLimit)

	_, err = h.Handle(context.Background(), GetLeaderboardQuery{RequesterID: "a", Metric: "xp"})
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestGetUserStats(t *testing.T) {
	store := seedUsers(t)
	h := NewGetUserStatsHandler(store, fixedIndex{"b": 1}, nil)

	view, err := h.Handle(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "Ben", view.Stats.Username)
	assert.Equal(t, 1, view.Level.Level)
	assert.Equal(t, "30m", view.StudyTime)
	assert.Equal(t, 10, view.AchievementsTotal)
	assert.Equal(t, leaderboard.Position(1), view.Positions[leaderboard.MetricPoints])

	view, err = h.Handle(context.Background(), "a", "")
	require.NoError(t, err)
	assert.Equal(t, "a", view.Stats.UserID)

	_, err = h.Handle(context.Background(), "a", "ghost")
	assert.True(t, shared.IsNotFound(err))
}

func TestGetStudySessions_OnlyParticipants(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	rec, err := session.NewStudySession("s1", session.Participant{UserID: "h", Username: "Host"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, rec))
	h := NewGetStudySessionsHandler(store)

	got, err := h.Get(ctx, "h", "s1")
	require.NoError(t, err)
	assert.Equal(t, "h", got.HostID)

	_, err = h.Get(ctx, "stranger", "s1")
	assert.True(t, shared.IsNotFound(err))

	history, err := h.History(ctx, "h", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

type listCatalog []booking.Event

func (c listCatalog) ListEvents(context.Context) ([]booking.Event, error) { return c, nil }

func (c listCatalog) GetEvent(_ context.Context, id string) (*booking.Event, error) {
	for i := range c {
		if c[i].ID == id {
			ev := c[i]
			return &ev, nil
		}
	}
	return nil, shared.ErrEventNotFound
}

func (c listCatalog) Book(context.Context, string, int) (*booking.Booking, error) {
	return nil, shared.ErrEventAPIUnavailable
}

func TestListEvents(t *testing.T) {
	store := seedUsers(t)
	now := time.Now()
	cat := listCatalog{
		{ID: "late", DateTime: now.Add(72 * time.Hour), TicketPrice: decimal.NewFromInt(1), AvailableTickets: 3},
		{ID: "past", DateTime: now.Add(-time.Hour), TicketPrice: decimal.NewFromInt(1), AvailableTickets: 3},
		{ID: "soon", DateTime: now.Add(time.Hour), TicketPrice: decimal.NewFromInt(5), AvailableTickets: 3},
	}
	views, err := NewListEventsHandler(cat, store, 0).Handle(context.Background(), "d")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "soon", views[0].ID)
	assert.Equal(t, 500, views[0].PointsPerTicket)
	assert.False(t, views[0].Affordable)
	assert.True(t, views[1].Affordable)
}

func TestListEvents_Get(t *testing.T) {
	store := seedUsers(t)
	require.NoError(t, store.UpdateUserFields(context.Background(), "d",
		progress.ArrayUnion(progress.FieldBookedTickets, "past/bk-1")))
	now := time.Now()
	cat := listCatalog{
		{ID: "past", DateTime: now.Add(-time.Hour), TicketPrice: decimal.NewFromInt(1), AvailableTickets: 3},
	}
	h := NewListEventsHandler(cat, store, 0)

	view, err := h.Get(context.Background(), "d", "past")
	require.NoError(t, err)
	assert.True(t, view.Booked)
	assert.False(t, view.Affordable)
	assert.Equal(t, 100, view.PointsPerTicket)

	_, err = h.Get(context.Background(), "d", "missing")
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Get(context.Background(), "", "past")
	assert.True(t, shared.IsNotLoggedIn(err))
}

package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/account"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/session"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

var compileNow = time.Date(2024, 3, 6, 18, 30, 0, 0, time.UTC)

func TestCompileUpdate_SingleColumnOps(t *testing.T) {
	stmt, err := compileUpdate("u1", []progress.FieldUpdate{
		progress.Increment(progress.FieldPoints, 50),
		progress.SetInt(progress.FieldStreakDays, 3),
		progress.SetString(progress.FieldUsername, "ana"),
	}, compileNow)
	require.NoError(t, err)

	assert.Equal(t,
		"UPDATE users SET points = (points + $2::bigint), streak_days = $3, username = $4, updated_at = $5 WHERE user_id = $1",
		stmt.SQL)
	assert.Equal(t, []any{"u1", int64(50), int64(3), "ana", compileNow}, stmt.Args)
}

func TestCompileUpdate_SameColumnNests(t *testing.T) {
	stmt, err := compileUpdate("u1", []progress.FieldUpdate{
		progress.MapIncrement(progress.FieldStudyDaysByWeek, "2024-10", 1),
		progress.MapIncrement(progress.FieldPointsByWeek, "2024-10", 150),
		progress.Increment(progress.FieldPoints, 10),
		progress.Increment(progress.FieldPoints, 5),
	}, compileNow)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(stmt.SQL, "points = "), stmt.SQL)
	assert.Contains(t, stmt.SQL, "points = ((points + $6::bigint) + $7::bigint)")
	assert.Contains(t, stmt.SQL, "study_days_by_week = jsonb_set(study_days_by_week, ARRAY[$2::text]")
	assert.Contains(t, stmt.SQL, "points_by_week = jsonb_set(points_by_week, ARRAY[$4::text]")
	assert.Equal(t, "2024-10", stmt.Args[1])
	assert.Equal(t, int64(150), stmt.Args[4])
}

func TestCompileUpdate_Sets(t *testing.T) {
	stmt, err := compileUpdate("u1", []progress.FieldUpdate{
		progress.ArrayUnion(progress.FieldAchievements, "first_session", "first_session", "marathon"),
		progress.ArrayRemove(progress.FieldBookedTickets, "e1/b1"),
	}, compileNow)
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, "achievements = array_cat(achievements, ARRAY(SELECT v FROM unnest($2::text[])")
	assert.Contains(t, stmt.SQL, "booked_tickets = ARRAY(SELECT v FROM unnest(booked_tickets)")
	assert.Equal(t, []string{"first_session", "marathon"}, stmt.Args[1], "duplicates are dropped before the union")
	assert.Equal(t, []string{"e1/b1"}, stmt.Args[2])
}

func TestCompileUpdate_SpendAddsBalanceGuard(t *testing.T) {
	stmt, err := compileUpdate("u1", []progress.FieldUpdate{
		progress.Spend(progress.FieldPoints, 250),
		progress.ArrayUnion(progress.FieldBookedTickets, "e1/b1"),
	}, compileNow)
	require.NoError(t, err)

	assert.True(t, stmt.Guarded)
	assert.Contains(t, stmt.SQL, "points = (points - $2::bigint)")
	assert.True(t, strings.HasSuffix(stmt.SQL, "WHERE user_id = $1 AND points >= $5::bigint"), stmt.SQL)
	assert.Equal(t, int64(250), stmt.Args[4])

	plain, err := compileUpdate("u1", []progress.FieldUpdate{progress.Increment(progress.FieldPoints, -5)}, compileNow)
	require.NoError(t, err)
	assert.False(t, plain.Guarded)
	assert.True(t, strings.HasSuffix(plain.SQL, "WHERE user_id = $1"), plain.SQL)
}

func TestCompileUpdate_Rejects(t *testing.T) {
	_, err := compileUpdate("u1", nil, compileNow)
	assert.ErrorIs(t, err, shared.ErrEmptyUpdate)

	_, err = compileUpdate("u1", []progress.FieldUpdate{progress.Increment(progress.FieldFriends, 1)}, compileNow)
	assert.True(t, shared.IsInvalidArgument(err))

	_, err = compileUpdate("u1", []progress.FieldUpdate{progress.Increment("bogus", 1)}, compileNow)
	assert.True(t, shared.IsInvalidArgument(err))

	_, err = compileUpdate("u1", []progress.FieldUpdate{progress.Spend(progress.FieldPoints, 0)}, compileNow)
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestColumns_CoverEveryUpdatableField(t *testing.T) {
	for _, f := range []progress.Field{
		progress.FieldUsername, progress.FieldPoints, progress.FieldTotalStudyTimeMinutes,
		progress.FieldSessionsCompleted, progress.FieldCompletedSessions, progress.FieldStreakDays,
		progress.FieldMaxStreakDays, progress.FieldLastStudyDate, progress.FieldConsistencyScore,
		progress.FieldEventsAttended, progress.FieldStudyDaysByWeek, progress.FieldPointsByWeek,
		progress.FieldAchievements, progress.FieldFriends, progress.FieldBookedTickets,
	} {
		col, ok := columns[f]
		assert.True(t, ok, f)
		assert.Contains(t, userColumns, col)
	}
}

func TestMigrations_Ordered(t *testing.T) {
	migs := Migrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
	}
}

func TestConfig_PoolConfig(t *testing.T) {
	cfg := Config{URL: "postgres://u:p@localhost:5432/universe?sslmode=disable", MaxConns: 4}
	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(4), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)

	_, err = Config{URL: "::not a url"}.PoolConfig()
	assert.Error(t, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Integration: runs only when UNIVERSE_TEST_DATABASE_URL points at a database.
// ─────────────────────────────────────────────────────────────────────────────

func openTestDB(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("UNIVERSE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("UNIVERSE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := NewConnection(ctx, Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	require.NoError(t, NewMigrator(conn).Migrate(ctx))
	return conn
}

func TestUserStore_Integration(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	store := NewUserStore(conn)

	a, b := "pg-"+uuid.NewString(), "pg-"+uuid.NewString()
	for _, id := range []string{a, b} {
		u, err := progress.NewUserStats(id, "user", compileNow)
		require.NoError(t, err)
		require.NoError(t, store.CreateUser(ctx, u))
	}
	u, _ := progress.NewUserStats(a, "dup", compileNow)
	assert.ErrorIs(t, store.CreateUser(ctx, u), shared.ErrUserAlreadyExists)

	require.NoError(t, store.UpdateUserFields(ctx, a,
		progress.Increment(progress.FieldPoints, 150),
		progress.MapIncrement(progress.FieldStudyDaysByWeek, "2024-10", 1),
		progress.MapIncrement(progress.FieldStudyDaysByWeek, "2024-10", 1),
		progress.ArrayUnion(progress.FieldAchievements, "first_session"),
		progress.ArrayUnion(progress.FieldAchievements, "first_session", "marathon"),
	))
	got, err := store.GetUser(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 150, got.Points)
	assert.Equal(t, 2, got.StudyDaysByWeek["2024-10"])
	assert.Equal(t, []string{"first_session", "marathon"}, got.Achievements)

	err = store.RunAtomic(ctx,
		progress.DocumentUpdate{UserID: a, Updates: []progress.FieldUpdate{progress.ArrayUnion(progress.FieldFriends, b)}},
		progress.DocumentUpdate{UserID: "missing-" + uuid.NewString(), Updates: []progress.FieldUpdate{progress.ArrayUnion(progress.FieldFriends, a)}},
	)
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
	got, err = store.GetUser(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, got.Friends)

	require.NoError(t, store.RunAtomic(ctx,
		progress.DocumentUpdate{UserID: a, Updates: []progress.FieldUpdate{progress.ArrayUnion(progress.FieldFriends, b)}},
		progress.DocumentUpdate{UserID: b, Updates: []progress.FieldUpdate{progress.ArrayUnion(progress.FieldFriends, a)}},
	))
	both, err := store.QueryUsersByID(ctx, []string{a, b, "nobody"})
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = store.GetUser(ctx, "nobody-"+uuid.NewString())
	assert.ErrorIs(t, err, shared.ErrUserNotFound)

	assert.ErrorIs(t, store.UpdateUserFields(ctx, a, progress.Spend(progress.FieldPoints, 151)), shared.ErrInsufficientPoints)
	require.NoError(t, store.UpdateUserFields(ctx, a, progress.Spend(progress.FieldPoints, 150)))
	got, err = store.GetUser(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Points)
	assert.ErrorIs(t, store.UpdateUserFields(ctx, "nobody-"+uuid.NewString(), progress.Spend(progress.FieldPoints, 1)), shared.ErrUserNotFound)
}

func TestSessionAndCredentialStores_Integration(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	sessions := NewSessionStore(conn)
	creds := NewCredentialStore(conn)

	host := "pg-" + uuid.NewString()
	rec, err := session.NewStudySession(uuid.NewString(), session.Participant{UserID: host, Username: "host"}, compileNow)
	require.NoError(t, err)
	require.NoError(t, sessions.Create(ctx, rec))

	rec.PointsAwarded = 40
	require.NoError(t, sessions.Save(ctx, rec))
	got, err := sessions.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.PointsAwarded)

	list, err := sessions.ListByParticipant(ctx, host, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = sessions.Get(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	require.NoError(t, creds.SaveCredential(ctx, &account.Credential{UserID: host, TokenHash: "h", CreatedAt: compileNow}))
	c, err := creds.GetCredential(ctx, host)
	require.NoError(t, err)
	assert.Equal(t, "h", c.TokenHash)
	require.NoError(t, creds.DeleteCredential(ctx, host))
	_, err = creds.GetCredential(ctx, host)
	assert.ErrorIs(t, err, shared.ErrInvalidCredential)
}

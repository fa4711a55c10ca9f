package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

func at(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func studiedAt(t time.Time, streak int) *UserStats {
	return &UserStats{UserID: "u1", StreakDays: streak, MaxStreakDays: streak, LastStudyDateEpochMillis: t.UnixMilli()}
}

func TestWeekOf(t *testing.T) {
	assert.Equal(t, WeekID("2024-01"), WeekOf(at(2024, time.January, 1, 10)))
	assert.Equal(t, WeekID("2024-10"), WeekOf(at(2024, time.March, 6, 10)))
	// ISO year differs from calendar year at the boundaries.
	assert.Equal(t, WeekID("2025-01"), WeekOf(at(2024, time.December, 30, 10)))
	assert.Equal(t, WeekID("2020-53"), WeekOf(at(2021, time.January, 3, 10)))
}

func TestWeekID_Previous(t *testing.T) {
	assert.Equal(t, WeekID("2024-09"), WeekID("2024-10").Previous())
	assert.Equal(t, WeekID("2020-53"), WeekID("2021-01").Previous())
	assert.Equal(t, WeekID("2024-52"), WeekID("2025-01").Previous())
	assert.Equal(t, WeekID(""), WeekID("garbage").Previous())
}

func TestParseWeekID(t *testing.T) {
	_, err := ParseWeekID("2024-07")
	assert.NoError(t, err)

	for _, bad := range []string{"2024-7", "2024-54", "2021-53", "abcd-01", "2024"} {
		_, err := ParseWeekID(bad)
		assert.Error(t, err, bad)
	}
}

func TestCurrentAndPrevious(t *testing.T) {
	cur, prev := CurrentAndPrevious(at(2024, time.March, 6, 10))
	assert.Equal(t, WeekID("2024-10"), cur)
	assert.Equal(t, WeekID("2024-09"), prev)
}

func TestUpdateStreak_FreshUser(t *testing.T) {
	u := UpdateStreak(&UserStats{}, at(2024, time.March, 6, 10))
	assert.Equal(t, 1, u.StreakDays)
	assert.True(t, u.Increased)
}

func TestUpdateStreak_SameDay(t *testing.T) {
	stats := studiedAt(at(2024, time.March, 6, 1), 4)
	u := UpdateStreak(stats, at(2024, time.March, 6, 23))
	assert.Equal(t, 4, u.StreakDays)
	assert.False(t, u.Increased)
	assert.Equal(t, 0, u.DayDifference)

	// The stored value is kept as is, even when it is zero.
	zero := UpdateStreak(studiedAt(at(2024, time.March, 6, 1), 0), at(2024, time.March, 6, 9))
	assert.Equal(t, 0, zero.StreakDays)
	assert.False(t, zero.Increased)
}

func TestUpdateStreak_ConsecutiveDays(t *testing.T) {
	stats := &UserStats{}
	now := at(2024, time.March, 1, 20)
	for day := 1; day <= 5; day++ {
		u := UpdateStreak(stats, now)
		require.True(t, u.Increased)
		require.Equal(t, day, u.StreakDays)
		stats.StreakDays = u.StreakDays
		stats.LastStudyDateEpochMillis = now.UnixMilli()
		now = now.AddDate(0, 0, 1)
	}
}

func TestUpdateStreak_MidnightBoundary(t *testing.T) {
	// 23:59 and 00:01 are one calendar day apart even though only minutes passed.
	last := time.Date(2024, time.March, 6, 23, 59, 0, 0, time.UTC)
	now := time.Date(2024, time.March, 7, 0, 1, 0, 0, time.UTC)
	u := UpdateStreak(studiedAt(last, 2), now)
	assert.Equal(t, 3, u.StreakDays)
	assert.True(t, u.Increased)

	// 00:01 to 23:59 the same day is not.
	u = UpdateStreak(studiedAt(now, 3), now.Add(23*time.Hour))
	assert.Equal(t, 3, u.StreakDays)
	assert.False(t, u.Increased)
}

func TestUpdateStreak_GapResets(t *testing.T) {
	u := UpdateStreak(studiedAt(at(2024, time.March, 1, 10), 9), at(2024, time.March, 3, 10))
	assert.Equal(t, 1, u.StreakDays)
	assert.False(t, u.Increased)
	assert.True(t, u.Broken)
	assert.Equal(t, 2, u.DayDifference)
}

func TestUpdateStreak_BackdatedResets(t *testing.T) {
	u := UpdateStreak(studiedAt(at(2024, time.March, 5, 10), 3), at(2024, time.March, 3, 10))
	assert.Equal(t, 1, u.StreakDays)
	assert.False(t, u.Increased)
	assert.Equal(t, -2, u.DayDifference)
}

func TestUpdateStreak_UsesLocalCalendar(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	// 20:00 UTC on March 6 is already March 7 01:00 local.
	last := time.Date(2024, time.March, 6, 10, 0, 0, 0, time.UTC)
	now := time.Date(2024, time.March, 6, 20, 0, 0, 0, time.UTC).In(loc)
	u := UpdateStreak(studiedAt(last, 1), now)
	assert.Equal(t, 2, u.StreakDays)
	assert.True(t, u.Increased)
}

func TestRaiseMaxStreak(t *testing.T) {
	assert.Equal(t, 5, RaiseMaxStreak(4, 5))
	assert.Equal(t, 9, RaiseMaxStreak(9, 1))
}

func TestIsStreakAlive(t *testing.T) {
	now := at(2024, time.March, 6, 10)
	assert.True(t, IsStreakAlive(studiedAt(at(2024, time.March, 5, 22), 2), now))
	assert.False(t, IsStreakAlive(studiedAt(at(2024, time.March, 4, 22), 2), now))
	assert.False(t, IsStreakAlive(&UserStats{}, now))
}

func TestConsistencyScore(t *testing.T) {
	cur, prev := WeekID("2024-10"), WeekID("2024-09")

	assert.Equal(t, 100, ConsistencyScore(map[string]int{"2024-10": 7, "2024-09": 7}, cur, prev))
	assert.Equal(t, 0, ConsistencyScore(map[string]int{}, cur, prev))
	assert.Equal(t, 0, ConsistencyScore(nil, cur, prev))
	assert.Equal(t, 21, ConsistencyScore(map[string]int{"2024-10": 3}, cur, prev))
	// Buckets above seven are capped when read.
	assert.Equal(t, 100, ConsistencyScore(map[string]int{"2024-10": 12, "2024-09": 9}, cur, prev))
	assert.Equal(t, 50, ConsistencyScore(map[string]int{"2024-10": 40}, cur, prev))
	// Older weeks do not count.
	assert.Equal(t, 0, ConsistencyScore(map[string]int{"2024-08": 7}, cur, prev))
}

func TestCalculateLevel(t *testing.T) {
	assert.Equal(t, 1, CalculateLevel(0))
	assert.Equal(t, 1, CalculateLevel(999))
	assert.Equal(t, 2, CalculateLevel(1000))
	assert.Equal(t, 6, CalculateLevel(5000))
	assert.Equal(t, 1, CalculateLevel(-300))

	prev := CalculateLevel(0)
	for p := 0; p <= 20000; p += 37 {
		l := CalculateLevel(p)
		require.GreaterOrEqual(t, l, prev)
		prev = l
	}
}

func TestProgressForPoints(t *testing.T) {
	p := ProgressForPoints(2250)
	assert.Equal(t, LevelProgress{Level: 3, PointsInLevel: 250, PointsToNext: 750, Percent: 25}, p)
}

func TestFormatStudyTime(t *testing.T) {
	assert.Equal(t, "2h 5m", FormatStudyTime(125))
	assert.Equal(t, "45m", FormatStudyTime(45))
	assert.Equal(t, "0m", FormatStudyTime(0))
	assert.Equal(t, "2h 0m", FormatStudyTime(120))
}

func TestFormatStudyHours(t *testing.T) {
	assert.Equal(t, "2.5h", FormatStudyHours(150))
	assert.Equal(t, "0.0h", FormatStudyHours(0))
}

func TestFormatSessionDuration(t *testing.T) {
	assert.Equal(t, "30 seconds", FormatSessionDuration(30))
	assert.Equal(t, "1 minutes", FormatSessionDuration(60))
	assert.Equal(t, "59 minutes", FormatSessionDuration(3599))
	assert.Equal(t, "1h", FormatSessionDuration(3600))
	assert.Equal(t, "2h 15m", FormatSessionDuration(8100))
}

func TestAverageSessionLength(t *testing.T) {
	assert.Equal(t, 0, AverageSessionLength(120, 0))
	assert.Equal(t, 33, AverageSessionLength(100, 3))
}

func TestNewUserStats(t *testing.T) {
	now := at(2024, time.March, 6, 10)
	s, err := NewUserStats("u1", "  Ada  ", now)
	require.NoError(t, err)
	assert.Equal(t, "Ada", s.Username)
	assert.Equal(t, SchemaVersion, s.SchemaVersion)
	assert.NotNil(t, s.StudyDaysByWeek)
	assert.Empty(t, s.Friends)
	assert.Equal(t, 1, s.Level())

	_, err = NewUserStats("", "Ada", now)
	assert.True(t, shared.IsInvalidArgument(err))
	_, err = NewUserStats("u1", "A", now)
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestUserStats_StudyDaysInCaps(t *testing.T) {
	s := &UserStats{StudyDaysByWeek: map[string]int{"2024-10": 11}}
	assert.Equal(t, 7, s.StudyDaysIn("2024-10"))
	assert.Equal(t, 0, s.StudyDaysIn("2024-11"))
}

func TestUserStats_Apply(t *testing.T) {
	s := &UserStats{UserID: "u1", Points: 100, Friends: []string{"a"}}
	err := s.Apply(
		Increment(FieldPoints, 50),
		SetInt(FieldStreakDays, 3),
		SetInt(FieldLastStudyDate, 1700000000000),
		ArrayUnion(FieldFriends, "a", "b"),
		ArrayUnion(FieldAchievements, "first_session"),
		MapIncrement(FieldStudyDaysByWeek, "2024-10", 1),
		MapIncrement(FieldStudyDaysByWeek, "2024-10", 1),
		SetString(FieldUsername, "Ada"),
	)
	require.NoError(t, err)
	assert.Equal(t, 150, s.Points)
	assert.Equal(t, 3, s.StreakDays)
	assert.Equal(t, int64(1700000000000), s.LastStudyDateEpochMillis)
	assert.Equal(t, []string{"a", "b"}, s.Friends)
	assert.Equal(t, []string{"first_session"}, s.Achievements)
	assert.Equal(t, 2, s.StudyDaysByWeek["2024-10"])
	assert.Equal(t, "Ada", s.Username)

	require.NoError(t, s.Apply(ArrayRemove(FieldFriends, "a")))
	assert.Equal(t, []string{"b"}, s.Friends)
}

func TestUserStats_ApplyRejectsInvalidWithoutWriting(t *testing.T) {
	s := &UserStats{UserID: "u1", Points: 100}
	err := s.Apply(Increment(FieldPoints, 50), Increment(FieldFriends, 1))
	assert.True(t, shared.IsInvalidArgument(err))
	assert.Equal(t, 100, s.Points)

	assert.ErrorIs(t, s.Apply(), shared.ErrEmptyUpdate)
	assert.True(t, shared.IsInvalidArgument(s.Apply(Increment(Field("nope"), 1))))
	assert.True(t, shared.IsInvalidArgument(s.Apply(MapIncrement(FieldPointsByWeek, "", 1))))
}

func TestUserStats_ApplySpend(t *testing.T) {
	s := &UserStats{UserID: "u1", Points: 300}

	err := s.Apply(Spend(FieldPoints, 200), Spend(FieldPoints, 150), ArrayUnion(FieldBookedTickets, "e1/b1"))
	assert.ErrorIs(t, err, shared.ErrInsufficientPoints)
	assert.Equal(t, 300, s.Points)
	assert.Empty(t, s.BookedTickets)

	require.NoError(t, s.Apply(Spend(FieldPoints, 300), ArrayUnion(FieldBookedTickets, "e1/b1")))
	assert.Equal(t, 0, s.Points)
	assert.Equal(t, []string{"e1/b1"}, s.BookedTickets)

	assert.True(t, shared.IsInvalidArgument(s.Apply(Spend(FieldPoints, 0))))
	assert.True(t, shared.IsInvalidArgument(s.Apply(Spend(FieldFriends, 1))))
}

func TestUserStats_CloneIsDeep(t *testing.T) {
	s := &UserStats{Friends: []string{"a"}, StudyDaysByWeek: map[string]int{"2024-10": 1}}
	c := s.Clone()
	c.Friends[0] = "z"
	c.StudyDaysByWeek["2024-10"] = 5
	assert.Equal(t, "a", s.Friends[0])
	assert.Equal(t, 1, s.StudyDaysByWeek["2024-10"])
}

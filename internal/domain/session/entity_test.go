package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

var t0 = time.Date(2024, time.March, 6, 14, 0, 0, 0, time.UTC)

func newSession(t *testing.T) *StudySessionRecord {
	t.Helper()
	s, err := NewStudySession("s1", Participant{UserID: "host", Username: "Host", NfcID: "04:A2"}, t0)
	require.NoError(t, err)
	return s
}

func TestNewStudySession(t *testing.T) {
	s := newSession(t)
	assert.Equal(t, "host", s.HostID)
	assert.Equal(t, []string{"host"}, s.ParticipantIDs())
	assert.Equal(t, StatusWaiting, s.Status())
	assert.Equal(t, SchemaVersion, s.SchemaVersion)

	_, err := NewStudySession("s1", Participant{}, t0)
	assert.True(t, shared.IsNotLoggedIn(err))
	_, err = NewStudySession(" ", Participant{UserID: "host"}, t0)
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestJoinAndLeave(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Join(Participant{UserID: "a", Username: "A"}, 3, t0))
	require.NoError(t, s.Join(Participant{UserID: "b", Username: "B"}, 3, t0))

	assert.ErrorIs(t, s.Join(Participant{UserID: "a"}, 3, t0), shared.ErrAlreadyParticipant)
	assert.ErrorIs(t, s.Join(Participant{UserID: "c"}, 3, t0), shared.ErrSessionParticipantCap)

	require.NoError(t, s.Leave("a", t0))
	assert.Equal(t, []string{"host", "b"}, s.ParticipantIDs())
	assert.ErrorIs(t, s.Leave("a", t0), shared.ErrNotParticipant)
	assert.ErrorIs(t, s.Leave("host", t0), shared.ErrHostCannotLeave)
}

func TestStart(t *testing.T) {
	s := newSession(t)
	assert.ErrorIs(t, s.Start("someone", 3600, t0), shared.ErrNotSessionHost)
	assert.ErrorIs(t, s.Start("host", 0, t0), shared.ErrInvalidSessionLength)

	require.NoError(t, s.Start("host", 3600, t0))
	assert.Equal(t, StatusRunning, s.Status())
	assert.Equal(t, t0.Add(time.Hour), s.EndsAt())

	assert.ErrorIs(t, s.Start("host", 3600, t0), shared.ErrSessionStarted)
	assert.ErrorIs(t, s.Join(Participant{UserID: "late"}, 10, t0), shared.ErrSessionStarted)
	assert.ErrorIs(t, s.Leave("host", t0), shared.ErrSessionStarted)
}

func TestComplete(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Join(Participant{UserID: "a"}, 0, t0))
	assert.ErrorIs(t, s.Complete("host", 60, 10, t0), shared.ErrSessionNotStarted)

	require.NoError(t, s.Start("host", 3600, t0))
	assert.ErrorIs(t, s.Complete("a", 60, 10, t0), shared.ErrNotSessionHost)
	assert.ErrorIs(t, s.Complete("host", -1, 10, t0), shared.ErrNegativeDuration)

	require.NoError(t, s.Complete("host", 2719, 10, t0))
	assert.Equal(t, StatusCompleted, s.Status())
	assert.Equal(t, 2719, s.DurationSeconds)
	assert.Equal(t, 45, s.DurationMinutes())
	assert.Equal(t, 450, s.PointsAwarded)

	assert.ErrorIs(t, s.Complete("host", 60, 10, t0), shared.ErrSessionCompleted)
}

func TestComplete_SubMinuteAwardsNothing(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Start("host", 30, t0))
	require.NoError(t, s.Complete("host", 30, 10, t0))
	assert.Equal(t, 0, s.PointsAwarded)
}

func TestSettlementTime(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Start("host", 600, t0))
	done := t0.Add(10 * time.Minute)
	require.NoError(t, s.Complete("host", 600, 10, done))

	s.MarkSettled("host", done.Add(24*time.Hour))
	assert.Equal(t, done, s.CompletedAt)
	assert.Equal(t, done, s.SettlementTime(), "later writes do not move the credited instant")

	legacy := &StudySessionRecord{Completed: true, UpdatedAt: t0}
	assert.Equal(t, t0, legacy.SettlementTime())
}

func TestSettlementTracking(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Join(Participant{UserID: "a"}, 0, t0))
	assert.Nil(t, s.PendingSettlement())

	require.NoError(t, s.Start("host", 600, t0))
	require.NoError(t, s.Complete("host", 600, 10, t0))
	assert.Len(t, s.PendingSettlement(), 2)

	s.MarkSettled("host", t0)
	s.MarkSettled("host", t0)
	assert.Equal(t, []string{"host"}, s.SettledUserIDs)
	pending := s.PendingSettlement()
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].UserID)
	assert.False(t, s.FullySettled())

	s.MarkSettled("a", t0)
	assert.True(t, s.FullySettled())
}

func TestClone(t *testing.T) {
	s := newSession(t)
	c := s.Clone()
	c.Participants[0].Username = "changed"
	assert.Equal(t, "Host", s.Participants[0].Username)
}

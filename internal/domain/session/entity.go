// Package session models a group study session from setup to settlement.
// The host owns the record; participants follow it through a live feed.
package session

import (
	"strings"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// SchemaVersion is the current layout of a stored session document.
const SchemaVersion = 1

// DefaultMaxParticipants bounds a session when no limit is configured.
const DefaultMaxParticipants = 20

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Participant is one member of a session. NfcID is the opaque tag the client
// scanned to join and is not interpreted here.
type Participant struct {
	UserID   string `json:"userId" bson:"userId"`
	Username string `json:"username" bson:"username"`
	NfcID    string `json:"nfcId,omitempty" bson:"nfcId,omitempty"`
}

// Status summarizes the started/completed flags.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDY SESSION RECORD
// ══════════════════════════════════════════════════════════════════════════════

// StudySessionRecord is the stored session document.
type StudySessionRecord struct {
	SchemaVersion int `json:"schemaVersion" bson:"schemaVersion"`

	ID     string `json:"id" bson:"_id"`
	HostID string `json:"hostId" bson:"hostId"`

	// Participants keeps join order; the host is always first.
	Participants []Participant `json:"participants" bson:"participants"`

	// StartTime is zero until the host starts the session.
	StartTime time.Time `json:"startTime" bson:"startTime"`

	// DurationSeconds is the planned length after Start and the actual
	// length after Complete.
	DurationSeconds int `json:"durationSeconds" bson:"durationSeconds"`

	// CompletedAt is when the host completed the session. Settlement credits
	// this day and week, including settlements resumed later.
	CompletedAt time.Time `json:"completedAt" bson:"completedAt"`

	PointsAwarded int  `json:"pointsAwarded" bson:"pointsAwarded"`
	Started       bool `json:"started" bson:"started"`
	Completed     bool `json:"completed" bson:"completed"`

	// SettledUserIDs lists participants whose progress was already credited.
	SettledUserIDs []string `json:"settledUserIds" bson:"settledUserIds"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// NewStudySession creates a waiting session with the host as first participant.
func NewStudySession(id string, host Participant, now time.Time) (*StudySessionRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, shared.NewDomainError("session", "Create", shared.ErrInvalidArgument, "session id is required")
	}
	if _, err := shared.RequireActor(host.UserID); err != nil {
		return nil, err
	}
	host.UserID = strings.TrimSpace(host.UserID)
	s := &StudySessionRecord{
		SchemaVersion: SchemaVersion,
		ID:            id,
		HostID:        host.UserID,
		Participants:  []Participant{host},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.Normalize()
	return s, nil
}

// Normalize fills defaults for documents written by older versions.
func (s *StudySessionRecord) Normalize() {
	if s.Participants == nil {
		s.Participants = []Participant{}
	}
	if s.SettledUserIDs == nil {
		s.SettledUserIDs = []string{}
	}
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SchemaVersion
	}
}

// Clone returns a deep copy.
func (s *StudySessionRecord) Clone() *StudySessionRecord {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = append([]Participant{}, s.Participants...)
	c.SettledUserIDs = append([]string{}, s.SettledUserIDs...)
	return &c
}

// Status returns the lifecycle state.
func (s *StudySessionRecord) Status() Status {
	switch {
	case s.Completed:
		return StatusCompleted
	case s.Started:
		return StatusRunning
	default:
		return StatusWaiting
	}
}

// IsHost reports whether userID hosts the session.
func (s *StudySessionRecord) IsHost(userID string) bool {
	return userID != "" && s.HostID == userID
}

// HasParticipant reports whether userID is a member.
func (s *StudySessionRecord) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns member ids in join order.
func (s *StudySessionRecord) ParticipantIDs() []string {
	ids := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.UserID
	}
	return ids
}

// DurationMinutes returns the whole minutes of DurationSeconds.
func (s *StudySessionRecord) DurationMinutes() int {
	return s.DurationSeconds / 60
}

// EndsAt returns the planned end of a running session.
func (s *StudySessionRecord) EndsAt() time.Time {
	if s.StartTime.IsZero() {
		return time.Time{}
	}
	return s.StartTime.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Join adds a participant before the session starts.
func (s *StudySessionRecord) Join(p Participant, maxParticipants int, now time.Time) error {
	if _, err := shared.RequireActor(p.UserID); err != nil {
		return err
	}
	if err := s.requireWaiting(); err != nil {
		return err
	}
	if s.HasParticipant(p.UserID) {
		return shared.ErrAlreadyParticipant
	}
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	if len(s.Participants) >= maxParticipants {
		return shared.ErrSessionParticipantCap
	}
	s.Participants = append(s.Participants, p)
	s.UpdatedAt = now
	return nil
}

// Leave removes a participant before the session starts. The host cannot leave.
func (s *StudySessionRecord) Leave(userID string, now time.Time) error {
	if _, err := shared.RequireActor(userID); err != nil {
		return err
	}
	if err := s.requireWaiting(); err != nil {
		return err
	}
	if s.IsHost(userID) {
		return shared.ErrHostCannotLeave
	}
	for i, p := range s.Participants {
		if p.UserID == userID {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			s.UpdatedAt = now
			return nil
		}
	}
	return shared.ErrNotParticipant
}

// Start begins the timer. Only the host may start.
func (s *StudySessionRecord) Start(hostID string, plannedSeconds int, now time.Time) error {
	if !s.IsHost(hostID) {
		return shared.ErrNotSessionHost
	}
	if err := s.requireWaiting(); err != nil {
		return err
	}
	if plannedSeconds <= 0 {
		return shared.ErrInvalidSessionLength
	}
	s.Started = true
	s.StartTime = now
	s.DurationSeconds = plannedSeconds
	s.UpdatedAt = now
	return nil
}

// Complete ends the session with its actual length and fixes the award:
// whole minutes times pointsPerMinute.
func (s *StudySessionRecord) Complete(hostID string, actualSeconds, pointsPerMinute int, now time.Time) error {
	if !s.IsHost(hostID) {
		return shared.ErrNotSessionHost
	}
	if s.Completed {
		return shared.ErrSessionCompleted
	}
	if !s.Started {
		return shared.ErrSessionNotStarted
	}
	if actualSeconds < 0 {
		return shared.ErrNegativeDuration
	}
	if pointsPerMinute < 0 {
		pointsPerMinute = 0
	}
	s.Completed = true
	s.CompletedAt = now
	s.DurationSeconds = actualSeconds
	s.PointsAwarded = (actualSeconds / 60) * pointsPerMinute
	s.UpdatedAt = now
	return nil
}

// SettlementTime is the instant participants are credited for. Records
// completed before CompletedAt was stored fall back to their last update.
func (s *StudySessionRecord) SettlementTime() time.Time {
	if !s.CompletedAt.IsZero() {
		return s.CompletedAt
	}
	return s.UpdatedAt
}

// MarkSettled records that userID was credited.
func (s *StudySessionRecord) MarkSettled(userID string, now time.Time) {
	s.SettledUserIDs = shared.UnionStrings(s.SettledUserIDs, userID)
	s.UpdatedAt = now
}

// IsSettled reports whether userID was credited.
func (s *StudySessionRecord) IsSettled(userID string) bool {
	return shared.ContainsString(s.SettledUserIDs, userID)
}

// PendingSettlement returns the participants of a completed session that
// were not credited yet, in join order.
func (s *StudySessionRecord) PendingSettlement() []Participant {
	if !s.Completed {
		return nil
	}
	var out []Participant
	for _, p := range s.Participants {
		if !s.IsSettled(p.UserID) {
			out = append(out, p)
		}
	}
	return out
}

// FullySettled reports whether every participant was credited.
func (s *StudySessionRecord) FullySettled() bool {
	return s.Completed && len(s.PendingSettlement()) == 0
}

func (s *StudySessionRecord) requireWaiting() error {
	if s.Completed {
		return shared.ErrSessionCompleted
	}
	if s.Started {
		return shared.ErrSessionStarted
	}
	return nil
}

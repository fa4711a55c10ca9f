package progress

import (
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// SchemaVersion is the current layout of a stored user document.
// Version 1 documents kept a single weekly map; Normalize upgrades them.
const SchemaVersion = 2

// MaxConsistencyScore bounds ConsistencyScore.
const MaxConsistencyScore = 100

// UserStats is the mutable progression record, one per user.
type UserStats struct {
	SchemaVersion int `json:"schemaVersion" bson:"schemaVersion"`

	UserID   string `json:"userId" bson:"_id"`
	Username string `json:"username" bson:"username"`

	// Points is the spendable currency. Only settlement adds to it; bookings spend it.
	Points int `json:"points" bson:"points"`

	TotalStudyTimeMinutes int `json:"totalStudyTimeMinutes" bson:"totalStudyTimeMinutes"`

	// SessionsCompleted counts every settled session.
	SessionsCompleted int `json:"sessionsCompleted" bson:"sessionsCompleted"`

	// CompletedSessions counts settled sessions that also earned points.
	CompletedSessions int `json:"completedSessions" bson:"completedSessions"`

	StreakDays    int `json:"streakDays" bson:"streakDays"`
	MaxStreakDays int `json:"maxStreakDays" bson:"maxStreakDays"`

	// LastStudyDateEpochMillis is 0 when the user never studied.
	LastStudyDateEpochMillis int64 `json:"lastStudyDateEpochMillis" bson:"lastStudyDateEpochMillis"`

	ConsistencyScore int `json:"consistencyScore" bson:"consistencyScore"`

	// StudyDaysByWeek is the sparse histogram of active days per week id.
	// Writers only increment; readers cap each bucket at DaysPerWeek.
	StudyDaysByWeek map[string]int `json:"studyDaysByWeek" bson:"studyDaysByWeek"`

	// PointsByWeek accumulates points earned per week id.
	PointsByWeek map[string]int `json:"pointsByWeek" bson:"pointsByWeek"`

	Achievements []string `json:"achievements" bson:"achievements"`
	Friends      []string `json:"friends" bson:"friends"`

	EventsAttended int      `json:"eventsAttended" bson:"eventsAttended"`
	BookedTickets  []string `json:"bookedTickets" bson:"bookedTickets"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// NewUserStats creates the zeroed record written at account setup.
func NewUserStats(userID, username string, now time.Time) (*UserStats, error) {
	uid, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}
	name, err := shared.NewUsername(username)
	if err != nil {
		return nil, err
	}
	s := &UserStats{
		SchemaVersion: SchemaVersion,
		UserID:        uid.String(),
		Username:      name.String(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.Normalize()
	return s, nil
}

// Normalize fills defaults for fields missing in older or partial documents
// and clamps values that must stay in range. It is applied by every store
// after decoding.
func (s *UserStats) Normalize() {
	if s.StudyDaysByWeek == nil {
		s.StudyDaysByWeek = make(map[string]int)
	}
	if s.PointsByWeek == nil {
		s.PointsByWeek = make(map[string]int)
	}
	if s.Achievements == nil {
		s.Achievements = []string{}
	}
	if s.Friends == nil {
		s.Friends = []string{}
	}
	if s.BookedTickets == nil {
		s.BookedTickets = []string{}
	}
	if s.ConsistencyScore < 0 {
		s.ConsistencyScore = 0
	}
	if s.ConsistencyScore > MaxConsistencyScore {
		s.ConsistencyScore = MaxConsistencyScore
	}
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SchemaVersion
	}
}

// Clone returns a deep copy.
func (s *UserStats) Clone() *UserStats {
	if s == nil {
		return nil
	}
	c := *s
	c.StudyDaysByWeek = make(map[string]int, len(s.StudyDaysByWeek))
	for k, v := range s.StudyDaysByWeek {
		c.StudyDaysByWeek[k] = v
	}
	c.PointsByWeek = make(map[string]int, len(s.PointsByWeek))
	for k, v := range s.PointsByWeek {
		c.PointsByWeek[k] = v
	}
	c.Achievements = append([]string{}, s.Achievements...)
	c.Friends = append([]string{}, s.Friends...)
	c.BookedTickets = append([]string{}, s.BookedTickets...)
	return &c
}

// HasAchievement reports whether id is in the achievement set.
func (s *UserStats) HasAchievement(id string) bool {
	return shared.ContainsString(s.Achievements, id)
}

// IsFriend reports whether userID is in the friend set.
func (s *UserStats) IsFriend(userID string) bool {
	return shared.ContainsString(s.Friends, userID)
}

// HasStudied reports whether any session was ever settled.
func (s *UserStats) HasStudied() bool {
	return s.LastStudyDateEpochMillis != 0
}

// LastStudyDate returns the last study time in loc; zero when never studied.
func (s *UserStats) LastStudyDate(loc *time.Location) time.Time {
	return timeutil.FromEpochMillis(s.LastStudyDateEpochMillis, loc)
}

// StudyDaysIn returns the active days recorded for week, capped at DaysPerWeek.
func (s *UserStats) StudyDaysIn(week WeekID) int {
	days := s.StudyDaysByWeek[string(week)]
	if days > DaysPerWeek {
		return DaysPerWeek
	}
	if days < 0 {
		return 0
	}
	return days
}

// PointsIn returns the points earned in week.
func (s *UserStats) PointsIn(week WeekID) int {
	return s.PointsByWeek[string(week)]
}

// Level returns the level derived from points.
func (s *UserStats) Level() int {
	return CalculateLevel(s.Points)
}

// AverageSessionMinutes returns the mean session length in whole minutes.
func (s *UserStats) AverageSessionMinutes() int {
	return AverageSessionLength(s.TotalStudyTimeMinutes, s.SessionsCompleted)
}

// Validate checks invariants of a record about to be created.
func (s *UserStats) Validate() error {
	if _, err := shared.NewUserID(s.UserID); err != nil {
		return err
	}
	if _, err := shared.NewUsername(s.Username); err != nil {
		return err
	}
	if s.Points < 0 || s.TotalStudyTimeMinutes < 0 || s.SessionsCompleted < 0 ||
		s.CompletedSessions < 0 || s.StreakDays < 0 || s.MaxStreakDays < 0 || s.EventsAttended < 0 {
		return shared.NewDomainError("user", "Validate", shared.ErrInvalidArgument, "counters cannot be negative")
	}
	return nil
}

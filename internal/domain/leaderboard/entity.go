// Package leaderboard ranks user snapshots by a chosen metric.
// Entries are derived on every request and never persisted; the optional
// cache and position index only speed up reads.
package leaderboard

import (
	"fmt"
	"strings"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Metric selects the ranking key.
type Metric string

const (
	// MetricPoints ranks by cumulative points.
	MetricPoints Metric = "points"
	// MetricHours ranks by study time. The stored unit is minutes.
	MetricHours Metric = "hours"
	// MetricStreak ranks by the current streak.
	MetricStreak Metric = "streak"
)

// AllMetrics lists the metrics in display order.
var AllMetrics = []Metric{MetricPoints, MetricHours, MetricStreak}

// ParseMetric parses a metric name; empty means points.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MetricPoints, nil
	case MetricPoints, MetricHours, MetricStreak:
		return m, nil
	default:
		return "", shared.ErrInvalidMetric
	}
}

// Field returns the stored field the metric sorts on.
func (m Metric) Field() progress.Field {
	switch m {
	case MetricHours:
		return progress.FieldTotalStudyTimeMinutes
	case MetricStreak:
		return progress.FieldStreakDays
	default:
		return progress.FieldPoints
	}
}

// Value extracts the metric from stats.
func (m Metric) Value(s *progress.UserStats) int {
	switch m {
	case MetricHours:
		return s.TotalStudyTimeMinutes
	case MetricStreak:
		return s.StreakDays
	default:
		return s.Points
	}
}

// String returns the string representation.
func (m Metric) String() string {
	return string(m)
}

// Scope selects which users take part in a ranking.
type Scope string

const (
	// ScopeGlobal is the top N across all users.
	ScopeGlobal Scope = "global"
	// ScopeFriends is the requester plus their friends.
	ScopeFriends Scope = "friends"
)

// ParseScope parses a scope name; empty means global.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case "":
		return ScopeGlobal, nil
	case ScopeGlobal, ScopeFriends:
		return sc, nil
	default:
		return "", shared.ErrInvalidScope
	}
}

// Position is a 1-based rank.
type Position int

// IsValid reports whether the position is positive.
func (r Position) IsValid() bool {
	return r > 0
}

// IsTop10 reports whether the position is in the first ten.
func (r Position) IsTop10() bool {
	return r >= 1 && r <= 10
}

// String returns "#N".
func (r Position) String() string {
	return fmt.Sprintf("#%d", r)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one ranked row.
type Entry struct {
	UserID           string   `json:"userId"`
	Username         string   `json:"username"`
	Rank             Position `json:"rank"`
	Points           int      `json:"points"`
	Level            int      `json:"level"`
	StudyTimeMinutes int      `json:"studyTimeMinutes"`
	StreakDays       int      `json:"streakDays"`
	AchievementCount int      `json:"achievementCount"`
	IsCurrentUser    bool     `json:"isCurrentUser"`
}

// NewEntry projects stats into an unranked entry.
func NewEntry(s *progress.UserStats) Entry {
	return Entry{
		UserID:           s.UserID,
		Username:         s.Username,
		Points:           s.Points,
		Level:            s.Level(),
		StudyTimeMinutes: s.TotalStudyTimeMinutes,
		StreakDays:       s.StreakDays,
		AchievementCount: len(s.Achievements),
	}
}

// Value returns the entry's value for m.
func (e Entry) Value(m Metric) int {
	switch m {
	case MetricHours:
		return e.StudyTimeMinutes
	case MetricStreak:
		return e.StreakDays
	default:
		return e.Points
	}
}

// DisplayValue formats the metric for display: hours are shown as hours.
func (e Entry) DisplayValue(m Metric) string {
	switch m {
	case MetricHours:
		return progress.FormatStudyHours(e.StudyTimeMinutes)
	case MetricStreak:
		return fmt.Sprintf("%d days", e.StreakDays)
	default:
		return fmt.Sprintf("%d pts", e.Points)
	}
}

// String returns a representation for logging.
func (e Entry) String() string {
	return fmt.Sprintf("Entry{Rank: %d, User: %s, Points: %d}", e.Rank, e.UserID, e.Points)
}

// Package achievement holds the static badge catalog and the rules that
// unlock badges from a user's progression record.
package achievement

import (
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ID is the stable key of a catalog entry, stored in UserStats.Achievements.
type ID string

const (
	FirstSession    ID = "first_session"
	StudyStreak3    ID = "study_streak_3"
	StudyStreak7    ID = "study_streak_7"
	StudyStreak14   ID = "study_streak_14"
	StudyMarathon   ID = "study_marathon"
	SocialButterfly ID = "social_butterfly"
	CommunityLeader ID = "community_leader"
	EventEnthusiast ID = "event_enthusiast"
	PointCollector  ID = "point_collector"
	ConsistencyKing ID = "consistency_king"
)

// Thresholds used by the rules.
const (
	MarathonMinutes        = 180
	SocialButterflyFriends = 5
	CommunityLeaderSession = 10
	EventEnthusiastEvents  = 5
	PointCollectorPoints   = 5000
	ConsistencyKingScore   = 90
)

// String returns the string representation.
func (id ID) String() string {
	return string(id)
}

// Definition is an immutable catalog entry.
type Definition struct {
	ID          ID     `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// catalog is ordered; evaluation and notification follow this order.
var catalog = []Definition{
	{FirstSession, "First Steps", "Complete your first study session", "ic_first_session"},
	{StudyStreak3, "Getting Started", "Study 3 days in a row", "ic_streak_3"},
	{StudyStreak7, "Week Warrior", "Study 7 days in a row", "ic_streak_7"},
	{StudyStreak14, "Unstoppable", "Study 14 days in a row", "ic_streak_14"},
	{StudyMarathon, "Study Marathon", "Complete a single session of 3 hours or more", "ic_marathon"},
	{SocialButterfly, "Social Butterfly", "Add 5 friends", "ic_social"},
	{CommunityLeader, "Community Leader", "Complete 10 study sessions", "ic_leader"},
	{EventEnthusiast, "Event Enthusiast", "Attend 5 events", "ic_events"},
	{PointCollector, "Point Collector", "Collect 5000 points", "ic_points"},
	{ConsistencyKing, "Consistency King", "Reach a consistency score of 90", "ic_consistency"},
}

// Catalog returns a copy of all definitions in evaluation order.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the definition for id.
func Lookup(id ID) (Definition, error) {
	for _, def := range catalog {
		if def.ID == id {
			return def, nil
		}
	}
	return Definition{}, shared.ErrAchievementNotFound
}

// IDs converts definitions to their keys, as stored in UserStats.Achievements.
func IDs(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = string(d.ID)
	}
	return out
}

package achievement

import (
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
)

// Context carries facts about the triggering action that are not part of
// the stored record.
type Context struct {
	// SessionDurationMinutes is the length of the session just settled, 0 otherwise.
	SessionDurationMinutes int
}

// rule decides whether one achievement is due. Rules are pure and must not
// look at the achievement set; the evaluator filters earned ids.
type rule struct {
	id    ID
	check func(before, after *progress.UserStats, ctx Context) bool
}

var rules = []rule{
	{FirstSession, func(before, after *progress.UserStats, _ Context) bool {
		return before.SessionsCompleted == 0 && after.SessionsCompleted >= 1
	}},
	{StudyStreak3, streakAtLeast(3)},
	{StudyStreak7, streakAtLeast(7)},
	{StudyStreak14, streakAtLeast(14)},
	{StudyMarathon, func(_, _ *progress.UserStats, ctx Context) bool {
		return ctx.SessionDurationMinutes >= MarathonMinutes
	}},
	{SocialButterfly, func(_, after *progress.UserStats, _ Context) bool {
		return len(after.Friends) >= SocialButterflyFriends
	}},
	{CommunityLeader, func(_, after *progress.UserStats, _ Context) bool {
		return after.SessionsCompleted >= CommunityLeaderSession
	}},
	{EventEnthusiast, func(_, after *progress.UserStats, _ Context) bool {
		return after.EventsAttended >= EventEnthusiastEvents
	}},
	{PointCollector, func(_, after *progress.UserStats, _ Context) bool {
		return after.Points >= PointCollectorPoints
	}},
	{ConsistencyKing, func(_, after *progress.UserStats, _ Context) bool {
		return after.ConsistencyScore >= ConsistencyKingScore
	}},
}

func streakAtLeast(days int) func(_, _ *progress.UserStats, _ Context) bool {
	return func(_, after *progress.UserStats, _ Context) bool {
		return after.StreakDays >= days
	}
}

// Evaluator maps a before/after pair of records to newly unlocked achievements.
// It is stateless and safe for concurrent use.
type Evaluator struct{}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns the achievements that became due between before and after,
// in catalog order. Ids already held in either record are never returned, so
// repeated calls on unchanged stats are no-ops.
func (e *Evaluator) Evaluate(before, after *progress.UserStats, ctx Context) []Definition {
	if before == nil || after == nil {
		return nil
	}
	var unlocked []Definition
	for i, r := range rules {
		if before.HasAchievement(string(r.id)) || after.HasAchievement(string(r.id)) {
			continue
		}
		if r.check(before, after, ctx) {
			unlocked = append(unlocked, catalog[i])
		}
	}
	return unlocked
}

package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/achievement"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/leaderboard"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER STATS QUERY
// The profile card: raw stats plus everything derived from them.
// ══════════════════════════════════════════════════════════════════════════════

// UserStatsView is the profile card of one user.
type UserStatsView struct {
	Stats *progress.UserStats `json:"stats"`

	Level          progress.LevelProgress `json:"level"`
	StudyTime      string                 `json:"studyTime"`
	AverageSession int                    `json:"averageSessionMinutes"`

	// StreakAlive is false once a full calendar day passed without study;
	// the stored streak only resets at the next settlement.
	StreakAlive bool `json:"streakAlive"`

	CurrentWeek        progress.WeekID      `json:"currentWeek"`
	StudyDaysThisWeek  int                  `json:"studyDaysThisWeek"`
	PointsThisWeek     int                  `json:"pointsThisWeek"`
	AchievementsEarned int                  `json:"achievementsEarned"`
	AchievementsTotal  int                  `json:"achievementsTotal"`
	Achievements       []achievement.Status `json:"achievements"`

	// Positions holds the global position per metric when an index is configured.
	Positions map[leaderboard.Metric]leaderboard.Position `json:"positions,omitempty"`
}

// GetUserStatsHandler handles profile queries.
type GetUserStatsHandler struct {
	store  progress.Store
	index  leaderboard.PositionIndex
	now    func() time.Time
	logger *slog.Logger
}

// NewGetUserStatsHandler creates a new handler. index may be nil.
func NewGetUserStatsHandler(store progress.Store, index leaderboard.PositionIndex, logger *slog.Logger) *GetUserStatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetUserStatsHandler{
		store:  store,
		index:  index,
		now:    timeutil.Now,
		logger: logger.With("query", "get_user_stats"),
	}
}

// Handle returns the profile of userID as seen by requesterID. Any
// authenticated user may view any profile.
func (h *GetUserStatsHandler) Handle(ctx context.Context, requesterID, userID string) (*UserStatsView, error) {
	actor, err := shared.RequireActor(requesterID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = actor.String()
	}
	uid, err := shared.NewUserID(userID)
	if err != nil {
		return nil, err
	}

	stats, err := h.store.GetUser(ctx, uid.String())
	if err != nil {
		return nil, shared.Persistence("user", "Stats", err)
	}

	now := h.now()
	week := progress.WeekOf(now)
	statuses := achievement.View(stats)
	view := &UserStatsView{
		Stats:              stats,
		Level:              progress.ProgressForPoints(stats.Points),
		StudyTime:          progress.FormatStudyTime(stats.TotalStudyTimeMinutes),
		AverageSession:     stats.AverageSessionMinutes(),
		StreakAlive:        progress.IsStreakAlive(stats, now),
		CurrentWeek:        week,
		StudyDaysThisWeek:  stats.StudyDaysIn(week),
		PointsThisWeek:     stats.PointsIn(week),
		AchievementsEarned: achievement.EarnedCount(stats),
		AchievementsTotal:  len(statuses),
		Achievements:       statuses,
	}

	if h.index != nil {
		view.Positions = make(map[leaderboard.Metric]leaderboard.Position, len(leaderboard.AllMetrics))
		for _, m := range leaderboard.AllMetrics {
			pos, ok, err := h.index.Position(ctx, stats.UserID, m)
			if err != nil {
				h.logger.Warn("position lookup failed", "user_id", stats.UserID, "metric", m, "error", err)
				break
			}
			if ok {
				view.Positions[m] = pos
			}
		}
	}
	return view, nil
}

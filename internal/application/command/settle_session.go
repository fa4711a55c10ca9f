package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/achievement"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTLE SESSION COMMAND
// Post-session bookkeeping for one participant: points, study time, streak,
// consistency, weekly buckets and achievements.
// ══════════════════════════════════════════════════════════════════════════════

// SettleSessionCommand contains the data to settle one participant.
type SettleSessionCommand struct {
	// UserID is the participant being credited.
	UserID string

	// SessionID identifies the completed session. Together with UserID it is
	// the at-most-once key.
	SessionID string

	// PointsEarned is added to the user's points; must not be negative.
	PointsEarned int

	// SessionDurationMinutes is added to total study time; must not be negative.
	SessionDurationMinutes int

	// CompletedAt is when the session ended (defaults to now if zero).
	// Its location decides calendar-day and week boundaries.
	CompletedAt time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c SettleSessionCommand) Validate() error {
	if _, err := shared.RequireActor(c.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(c.SessionID) == "" {
		return shared.NewDomainError("progress", "Settle", shared.ErrInvalidArgument, "session id is required")
	}
	if c.PointsEarned < 0 {
		return shared.ErrNegativePoints
	}
	if c.SessionDurationMinutes < 0 {
		return shared.ErrNegativeDuration
	}
	return nil
}

// SettleSessionResult contains the outcome of a settlement.
type SettleSessionResult struct {
	// Before is the snapshot read at the start.
	Before *progress.UserStats

	// After is Before with every written update applied.
	After *progress.UserStats

	// Streak is the streak engine's decision.
	Streak progress.StreakUpdate

	// Week is the bucket that was incremented.
	Week progress.WeekID

	// Unlocked lists new achievements in evaluation order.
	Unlocked []achievement.Definition

	// Events contains domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SettleSessionHandler handles the SettleSessionCommand.
type SettleSessionHandler struct {
	store          progress.Store
	guard          SettlementGuard
	evaluator      *achievement.Evaluator
	eventPublisher shared.EventPublisher
	refresher      LeaderboardRefresher
	observer       SettlementObserver
	now            func() time.Time
	logger         *slog.Logger
}

// SettleSessionHandlerConfig contains optional collaborators.
type SettleSessionHandlerConfig struct {
	// Guard enforces at-most-once settlement. Nil disables the check.
	Guard SettlementGuard

	// Refresher updates leaderboard caches after a write.
	Refresher LeaderboardRefresher

	// Observer records outcomes and latency. Optional.
	Observer SettlementObserver

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewSettleSessionHandler creates a new SettleSessionHandler.
func NewSettleSessionHandler(
	store progress.Store,
	evaluator *achievement.Evaluator,
	eventPublisher shared.EventPublisher,
	config SettleSessionHandlerConfig,
	logger *slog.Logger,
) *SettleSessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = achievement.NewEvaluator()
	}
	return &SettleSessionHandler{
		store:          store,
		guard:          config.Guard,
		evaluator:      evaluator,
		eventPublisher: eventPublisher,
		refresher:      config.Refresher,
		observer:       config.Observer,
		now:            clock(config.Now),
		logger:         logger.With("handler", "settle_session"),
	}
}

// Handle executes the settlement. The steps run in a fixed order and the
// first failure aborts the rest. All field updates, including unlocked
// achievements, are written in one atomic field-level update, so a failed
// settlement has written nothing and the guard is released for a retry.
func (h *SettleSessionHandler) Handle(ctx context.Context, cmd SettleSessionCommand) (result *SettleSessionResult, err error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	cmd.UserID = strings.TrimSpace(cmd.UserID)

	if h.observer != nil {
		started := time.Now()
		defer func() {
			outcome := "ok"
			switch {
			case errors.Is(err, shared.ErrAlreadySettled):
				outcome = "duplicate"
			case err != nil:
				outcome = "error"
			}
			h.observer.ObserveSettlement(outcome, time.Since(started))
		}()
	}

	now := cmd.CompletedAt
	if now.IsZero() {
		now = h.now()
	}

	if h.guard != nil {
		acquired, gerr := h.guard.Acquire(ctx, cmd.SessionID, cmd.UserID)
		if gerr != nil {
			return nil, shared.Persistence("progress", "Settle", fmt.Errorf("acquire settlement guard: %w", gerr))
		}
		if !acquired {
			return nil, shared.ErrAlreadySettled
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := h.guard.Release(context.WithoutCancel(ctx), cmd.SessionID, cmd.UserID); rerr != nil {
				h.logger.Error("failed to release settlement guard",
					"session_id", cmd.SessionID, "user_id", cmd.UserID, "error", rerr)
			}
		}()
	}

	before, err := h.store.GetUser(ctx, cmd.UserID)
	if err != nil {
		return nil, shared.Persistence("progress", "Settle", err)
	}

	result = &SettleSessionResult{Before: before.Clone()}

	// Step 1: counters.
	updates := []progress.FieldUpdate{
		progress.Increment(progress.FieldPoints, int64(cmd.PointsEarned)),
		progress.Increment(progress.FieldTotalStudyTimeMinutes, int64(cmd.SessionDurationMinutes)),
		progress.Increment(progress.FieldSessionsCompleted, 1),
	}

	// Step 2: streak, raising the best streak when it is passed.
	result.Streak = progress.UpdateStreak(before, now)
	updates = append(updates,
		progress.SetInt(progress.FieldStreakDays, int64(result.Streak.StreakDays)),
		progress.SetInt(progress.FieldLastStudyDate, now.UnixMilli()),
	)
	if maxStreak := progress.RaiseMaxStreak(before.MaxStreakDays, result.Streak.StreakDays); maxStreak != before.MaxStreakDays {
		updates = append(updates, progress.SetInt(progress.FieldMaxStreakDays, int64(maxStreak)))
	}

	// Step 3: consistency from the stored histogram.
	current, previous := progress.CurrentAndPrevious(now)
	result.Week = current
	consistency := progress.ConsistencyScore(before.StudyDaysByWeek, current, previous)
	updates = append(updates, progress.SetInt(progress.FieldConsistencyScore, int64(consistency)))

	// Step 4: weekly bucket, capped only when read.
	updates = append(updates, progress.MapIncrement(progress.FieldStudyDaysByWeek, string(current), 1))

	// Step 5: point-earning sessions.
	if cmd.PointsEarned > 0 {
		updates = append(updates,
			progress.Increment(progress.FieldCompletedSessions, 1),
			progress.MapIncrement(progress.FieldPointsByWeek, string(current), int64(cmd.PointsEarned)),
		)
	}

	after := before.Clone()
	if err := after.Apply(updates...); err != nil {
		return nil, err
	}

	// Step 7 is evaluated before the write so that step 6 and the
	// achievement union land together.
	result.Unlocked = h.evaluator.Evaluate(before, after, achievement.Context{
		SessionDurationMinutes: cmd.SessionDurationMinutes,
	})
	if len(result.Unlocked) > 0 {
		union := progress.ArrayUnion(progress.FieldAchievements, achievement.IDs(result.Unlocked)...)
		updates = append(updates, union)
		if err := after.Apply(union); err != nil {
			return nil, err
		}
	}

	// Step 6: persist.
	if err := h.store.UpdateUserFields(ctx, cmd.UserID, updates...); err != nil {
		return nil, shared.Persistence("progress", "Settle", err)
	}
	after.UpdatedAt = now
	result.After = after

	h.logger.Info("session settled",
		"session_id", cmd.SessionID,
		"user_id", cmd.UserID,
		"points_earned", cmd.PointsEarned,
		"duration_minutes", cmd.SessionDurationMinutes,
		"streak_days", result.Streak.StreakDays,
		"consistency", consistency,
		"unlocked", len(result.Unlocked),
	)

	result.Events = h.buildEvents(cmd, result)
	publishAll(h.eventPublisher, h.logger, result.Events)

	if rerr := h.refresher.Refresh(ctx, after); rerr != nil {
		h.logger.Warn("leaderboard refresh failed", "user_id", cmd.UserID, "error", rerr)
	}

	return result, nil
}

func (h *SettleSessionHandler) buildEvents(cmd SettleSessionCommand, r *SettleSessionResult) []shared.Event {
	events := make([]shared.Event, 0, 2+len(r.Unlocked))

	settled := shared.NewSessionSettledEvent(
		cmd.UserID, cmd.SessionID,
		cmd.PointsEarned, cmd.SessionDurationMinutes,
		r.After.Points, r.After.TotalStudyTimeMinutes,
		r.After.StreakDays, r.After.ConsistencyScore,
	)
	if cmd.CorrelationID != "" {
		settled.BaseEvent = settled.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	events = append(events, settled)

	if r.Streak.Increased {
		events = append(events, shared.NewStreakIncreasedEvent(cmd.UserID, r.After.StreakDays, r.After.MaxStreakDays))
	}

	return append(events, unlockedEvents(cmd.UserID, r.Unlocked)...)
}

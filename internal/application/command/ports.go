// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/achievement"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/leaderboard"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// SettlementGuard gives at-most-once settlement per (session, user).
type SettlementGuard interface {
	// Acquire marks the pair as being settled. It returns false when the pair
	// was already acquired and not released.
	Acquire(ctx context.Context, sessionID, userID string) (bool, error)

	// Release frees the pair after a failed settlement so it can be retried.
	Release(ctx context.Context, sessionID, userID string) error
}

// SettlementObserver records settlement outcomes ("ok", "duplicate", "error").
type SettlementObserver interface {
	ObserveSettlement(outcome string, d time.Duration)
}

// LeaderboardRefresher keeps the leaderboard accelerators in step with writes.
// Both parts are optional.
type LeaderboardRefresher struct {
	Cache leaderboard.Cache
	Index leaderboard.PositionIndex
}

// Refresh invalidates cached pages and re-indexes stats. Errors are returned
// joined so callers can log them; the write that triggered the refresh has
// already succeeded.
func (r LeaderboardRefresher) Refresh(ctx context.Context, stats ...*progress.UserStats) error {
	var errs []error
	if r.Cache != nil {
		if err := r.Cache.Invalidate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Index != nil {
		for _, s := range stats {
			if err := r.Index.Update(ctx, s); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// clock returns the time source, defaulting to the configured location.
func clock(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return timeutil.Now
}

// publishAll publishes events in order. Publishing never fails a command.
func publishAll(publisher shared.EventPublisher, logger *slog.Logger, events []shared.Event) {
	if publisher == nil {
		return
	}
	for _, event := range events {
		if err := publisher.Publish(event); err != nil {
			logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
		}
	}
}

// project returns a copy of s with updates applied, mirroring a write the
// store already accepted. If the copy rejects them the stored record is read
// back instead; s itself is returned only when that read fails too.
func project(
	ctx context.Context,
	store progress.Store,
	logger *slog.Logger,
	s *progress.UserStats,
	updates ...progress.FieldUpdate,
) *progress.UserStats {
	out := s.Clone()
	err := out.Apply(updates...)
	if err == nil {
		return out
	}
	logger.Warn("failed to apply stored updates to snapshot, reloading", "user_id", s.UserID, "error", err)
	fresh, gerr := store.GetUser(ctx, s.UserID)
	if gerr != nil {
		logger.Error("failed to reload user", "user_id", s.UserID, "error", gerr)
		return s.Clone()
	}
	return fresh
}

// unlockAchievements evaluates before/after and persists new ids with a set
// union. after gains the ids on success.
func unlockAchievements(
	ctx context.Context,
	store progress.Store,
	logger *slog.Logger,
	evaluator *achievement.Evaluator,
	before, after *progress.UserStats,
	actx achievement.Context,
) ([]achievement.Definition, error) {
	unlocked := evaluator.Evaluate(before, after, actx)
	if len(unlocked) == 0 {
		return nil, nil
	}
	union := progress.ArrayUnion(progress.FieldAchievements, achievement.IDs(unlocked)...)
	if err := store.UpdateUserFields(ctx, after.UserID, union); err != nil {
		return nil, shared.Persistence("achievement", "Unlock", err)
	}
	if err := after.Apply(union); err != nil {
		logger.Warn("failed to add unlocked achievements to snapshot",
			"user_id", after.UserID, "achievements", achievement.IDs(unlocked), "error", err)
	}
	return unlocked, nil
}

// unlockedEvents builds one notification per achievement, numbered in order.
func unlockedEvents(userID string, unlocked []achievement.Definition) []shared.Event {
	events := make([]shared.Event, 0, len(unlocked))
	for i, def := range unlocked {
		events = append(events, shared.NewAchievementUnlockedEvent(
			userID, string(def.ID), def.Title, def.Description, def.Icon, i+1,
		))
	}
	return events
}

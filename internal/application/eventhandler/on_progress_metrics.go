package eventhandler

import (
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ProgressRecorder receives credited totals and achievement unlocks.
type ProgressRecorder interface {
	ObserveCredit(points, minutes int)
	ObserveAchievement(achievementID string)
}

// OnProgressMetricsHandler turns settlement and achievement events into
// counters. Events replayed from other instances are ignored, so a cluster
// counts each settlement once.
type OnProgressMetricsHandler struct {
	recorder ProgressRecorder
}

// NewOnProgressMetricsHandler creates a new handler.
func NewOnProgressMetricsHandler(recorder ProgressRecorder) *OnProgressMetricsHandler {
	return &OnProgressMetricsHandler{recorder: recorder}
}

// EventTypes implements Handler.
func (h *OnProgressMetricsHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventSessionSettled, shared.EventAchievementUnlocked}
}

// Handle implements Handler.
func (h *OnProgressMetricsHandler) Handle(event shared.Event) error {
	if shared.IsReplayed(event) {
		return nil
	}
	switch e := event.(type) {
	case shared.SessionSettledEvent:
		h.recorder.ObserveCredit(e.PointsEarned, e.DurationMinutes)
	case shared.AchievementUnlockedEvent:
		h.recorder.ObserveAchievement(e.AchievementID)
	}
	return nil
}

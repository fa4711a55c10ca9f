package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Pushes settlement results, streaks and unlocked achievements to the
// user's realtime connections.
// ═══════════════════════════════════════════════════════════════════════════

// OnProgressChangedHandler forwards progress events to a Notifier.
type OnProgressChangedHandler struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOnProgressChangedHandler creates a new handler.
func NewOnProgressChangedHandler(notifier Notifier, logger *slog.Logger) *OnProgressChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnProgressChangedHandler{
		notifier: notifier,
		timeout:  5 * time.Second,
		logger:   logger.With("handler", "on_progress_changed"),
	}
}

// EventTypes implements Handler.
func (h *OnProgressChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventSessionSettled,
		shared.EventStreakIncreased,
		shared.EventAchievementUnlocked,
		shared.EventPointsSpent,
		shared.EventAttendanceRecorded,
	}
}

// Handle implements Handler.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	n := Notification{Type: event.EventType(), Data: event.Payload()}

	switch e := event.(type) {
	case shared.AchievementUnlockedEvent:
		n.Title = "Achievement unlocked"
		n.Body = fmt.Sprintf("%s %s: %s", e.Icon, e.Title, e.Description)
	case shared.StreakIncreasedEvent:
		n.Title = "Streak"
		n.Body = fmt.Sprintf("%d day streak", e.StreakDays)
	case shared.SessionSettledEvent:
		n.Title = "Session complete"
		n.Body = fmt.Sprintf("+%d points", e.PointsEarned)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.notifier.Notify(ctx, event.AggregateID(), n); err != nil {
		h.logger.Warn("failed to push notification",
			"event_type", event.EventType(),
			"user_id", event.AggregateID(),
			"error", err,
		)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// ON SOCIAL CHANGED HANDLER
// Friendship changes and study session updates concern more than the
// aggregate, so they fan out to every affected user.
// ═══════════════════════════════════════════════════════════════════════════

// OnSocialChangedHandler fans friend and session events out to every
// affected user.
type OnSocialChangedHandler struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOnSocialChangedHandler creates a new handler.
func NewOnSocialChangedHandler(notifier Notifier, logger *slog.Logger) *OnSocialChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnSocialChangedHandler{
		notifier: notifier,
		timeout:  5 * time.Second,
		logger:   logger.With("handler", "on_social_changed"),
	}
}

// EventTypes implements Handler.
func (h *OnSocialChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventFriendAdded,
		shared.EventFriendRemoved,
		shared.EventStudySessionUpdated,
		shared.EventStudySessionCompleted,
	}
}

// Handle implements Handler.
func (h *OnSocialChangedHandler) Handle(event shared.Event) error {
	var recipients []string
	data := event.Payload()

	switch e := event.(type) {
	case shared.FriendshipChangedEvent:
		recipients = []string{e.AggregateID(), e.FriendID}
		data["user_id"] = e.AggregateID()
	case shared.StudySessionEvent:
		recipients = shared.UnionStrings([]string{e.HostID}, e.Participants...)
		data["session_id"] = e.AggregateID()
	default:
		// Events relayed from another instance only carry their payload.
		recipients = payloadRecipients(event.EventType(), event.AggregateID(), data)
	}
	if len(recipients) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	n := Notification{Type: event.EventType(), Data: data}
	for _, userID := range recipients {
		if err := h.notifier.Notify(ctx, userID, n); err != nil {
			h.logger.Warn("failed to push notification",
				"event_type", event.EventType(),
				"user_id", userID,
				"error", err,
			)
		}
	}
	return nil
}

func payloadRecipients(t shared.EventType, aggregateID string, data map[string]interface{}) []string {
	switch t {
	case shared.EventFriendAdded, shared.EventFriendRemoved:
		data["user_id"] = aggregateID
		if friend, ok := data["friend_id"].(string); ok && friend != "" {
			return []string{aggregateID, friend}
		}
		return []string{aggregateID}
	case shared.EventStudySessionUpdated, shared.EventStudySessionCompleted:
		var out []string
		if host, ok := data["host_id"].(string); ok {
			out = append(out, host)
		}
		switch ps := data["participants"].(type) {
		case []string:
			out = shared.UnionStrings(out, ps...)
		case []interface{}:
			for _, p := range ps {
				if id, ok := p.(string); ok {
					out = shared.UnionStrings(out, id)
				}
			}
		}
		data["session_id"] = aggregateID
		return out
	}
	return nil
}

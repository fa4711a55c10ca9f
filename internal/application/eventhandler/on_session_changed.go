package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// SessionBroadcaster delivers updates to everyone watching a study session.
type SessionBroadcaster interface {
	BroadcastSession(ctx context.Context, sessionID string, n Notification) error
}

// OnSessionChangedHandler relays study session updates to the session room.
type OnSessionChangedHandler struct {
	broadcaster SessionBroadcaster
	timeout     time.Duration
	logger      *slog.Logger
}

// NewOnSessionChangedHandler creates a new handler.
func NewOnSessionChangedHandler(broadcaster SessionBroadcaster, logger *slog.Logger) *OnSessionChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnSessionChangedHandler{
		broadcaster: broadcaster,
		timeout:     5 * time.Second,
		logger:      logger.With("handler", "on_session_changed"),
	}
}

// EventTypes implements Handler.
func (h *OnSessionChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventStudySessionUpdated, shared.EventStudySessionCompleted}
}

// Handle implements Handler.
func (h *OnSessionChangedHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	n := Notification{Type: event.EventType(), Data: event.Payload()}
	if event.EventType() == shared.EventStudySessionCompleted {
		n.Title = "Session complete"
	}
	if err := h.broadcaster.BroadcastSession(ctx, event.AggregateID(), n); err != nil {
		h.logger.Warn("failed to broadcast session update", "session_id", event.AggregateID(), "error", err)
	}
	return nil
}

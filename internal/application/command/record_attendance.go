package command

import (
	"context"
	"log/slog"
	"strings"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/achievement"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/booking"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ATTENDANCE COMMAND
// Check-in at an event consumes one booked ticket and counts toward
// event achievements.
// ══════════════════════════════════════════════════════════════════════════════

// RecordAttendanceResult contains the updated record.
type RecordAttendanceResult struct {
	Stats    *progress.UserStats
	Unlocked []achievement.Definition
}

// RecordAttendanceHandler records event check-ins.
type RecordAttendanceHandler struct {
	store          progress.Store
	evaluator      *achievement.Evaluator
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
}

// NewRecordAttendanceHandler creates a new RecordAttendanceHandler.
func NewRecordAttendanceHandler(
	store progress.Store,
	evaluator *achievement.Evaluator,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *RecordAttendanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = achievement.NewEvaluator()
	}
	return &RecordAttendanceHandler{
		store:          store,
		evaluator:      evaluator,
		eventPublisher: eventPublisher,
		logger:         logger.With("handler", "record_attendance"),
	}
}

// Handle consumes the user's ticket for eventID and increments eventsAttended.
func (h *RecordAttendanceHandler) Handle(ctx context.Context, actorID, eventID string) (*RecordAttendanceResult, error) {
	actor, err := shared.RequireActor(actorID)
	if err != nil {
		return nil, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, shared.ErrEventNotFound
	}

	before, err := h.store.GetUser(ctx, actor.String())
	if err != nil {
		return nil, shared.Persistence("events", "Attend", err)
	}
	ref, ok := booking.FindTicket(before.BookedTickets, eventID)
	if !ok {
		return nil, shared.ErrNoTicket
	}

	updates := []progress.FieldUpdate{
		progress.Increment(progress.FieldEventsAttended, 1),
		progress.ArrayRemove(progress.FieldBookedTickets, ref),
	}
	if err := h.store.UpdateUserFields(ctx, actor.String(), updates...); err != nil {
		return nil, shared.Persistence("events", "Attend", err)
	}
	after := project(ctx, h.store, h.logger, before, updates...)

	unlocked, err := unlockAchievements(ctx, h.store, h.logger, h.evaluator, before, after, achievement.Context{})
	if err != nil {
		return nil, err
	}

	events := []shared.Event{shared.NewAttendanceRecordedEvent(actor.String(), eventID, after.EventsAttended)}
	events = append(events, unlockedEvents(actor.String(), unlocked)...)
	publishAll(h.eventPublisher, h.logger, events)

	h.logger.Info("attendance recorded", "user_id", actor.String(), "event_id", eventID, "events_attended", after.EventsAttended)
	return &RecordAttendanceResult{Stats: after, Unlocked: unlocked}, nil
}

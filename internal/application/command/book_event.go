package command

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/booking"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOOK EVENT COMMAND
// Spends points on event tickets through the external event API.
// ══════════════════════════════════════════════════════════════════════════════

// BookEventCommand contains the data to book tickets.
type BookEventCommand struct {
	ActorID string
	EventID string
	Tickets int
}

// Validate validates the command.
func (c BookEventCommand) Validate() error {
	if _, err := shared.RequireActor(c.ActorID); err != nil {
		return err
	}
	if strings.TrimSpace(c.EventID) == "" {
		return shared.ErrEventNotFound
	}
	return booking.ValidateTicketCount(c.Tickets)
}

// BookEventResult contains the confirmed booking and the new balance.
type BookEventResult struct {
	Booking         *booking.Booking
	Event           *booking.Event
	Cost            int
	RemainingPoints int
	TicketRef       string
}

// BookEventHandler handles the BookEventCommand.
type BookEventHandler struct {
	store                 progress.Store
	catalog               booking.Catalog
	eventPublisher        shared.EventPublisher
	refresher             LeaderboardRefresher
	pointsPerCurrencyUnit int
	now                   func() time.Time
	logger                *slog.Logger
}

// BookEventHandlerConfig contains configuration for the handler.
type BookEventHandlerConfig struct {
	PointsPerCurrencyUnit int
	Refresher             LeaderboardRefresher
	Now                   func() time.Time
}

// NewBookEventHandler creates a new BookEventHandler.
func NewBookEventHandler(
	store progress.Store,
	catalog booking.Catalog,
	eventPublisher shared.EventPublisher,
	config BookEventHandlerConfig,
	logger *slog.Logger,
) *BookEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PointsPerCurrencyUnit <= 0 {
		config.PointsPerCurrencyUnit = booking.DefaultPointsPerCurrencyUnit
	}
	return &BookEventHandler{
		store:                 store,
		catalog:               catalog,
		eventPublisher:        eventPublisher,
		refresher:             config.Refresher,
		pointsPerCurrencyUnit: config.PointsPerCurrencyUnit,
		now:                   clock(config.Now),
		logger:                logger.With("handler", "book_event"),
	}
}

// Handle reserves the cost with a guarded spend, books through the API and
// then records the ticket. A failed booking refunds the reservation, so
// concurrent bookings can never drive the balance below zero.
func (h *BookEventHandler) Handle(ctx context.Context, cmd BookEventCommand) (*BookEventResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	actorID := strings.TrimSpace(cmd.ActorID)

	user, err := h.store.GetUser(ctx, actorID)
	if err != nil {
		return nil, shared.Persistence("events", "Book", err)
	}

	ev, err := h.catalog.GetEvent(ctx, cmd.EventID)
	if err != nil {
		return nil, err
	}
	if ev.IsPast(h.now()) {
		return nil, shared.ErrEventStarted
	}
	if ev.AvailableTickets < cmd.Tickets {
		return nil, shared.ErrNotEnoughTickets
	}

	cost := booking.Cost(ev.TicketPrice, cmd.Tickets, h.pointsPerCurrencyUnit)
	if user.Points < cost {
		return nil, shared.ErrInsufficientPoints
	}

	if err := h.store.UpdateUserFields(ctx, actorID, progress.Spend(progress.FieldPoints, int64(cost))); err != nil {
		if errors.Is(err, shared.ErrInsufficientPoints) {
			return nil, shared.ErrInsufficientPoints
		}
		return nil, shared.Persistence("events", "Book", err)
	}

	confirmed, err := h.catalog.Book(ctx, ev.ID, cmd.Tickets)
	if err != nil {
		h.refund(ctx, actorID, ev.ID, cost)
		return nil, err
	}
	if confirmed.BookingID == "" {
		confirmed.BookingID = uuid.New().String()
	}
	ref := booking.TicketRef(ev.ID, confirmed.BookingID)

	if err := h.store.UpdateUserFields(ctx, actorID, progress.ArrayUnion(progress.FieldBookedTickets, ref)); err != nil {
		// Paid and booked, but the ticket is not on the user record.
		h.logger.Error("booking confirmed but ticket not recorded",
			"user_id", actorID, "event_id", ev.ID, "booking_id", confirmed.BookingID, "cost", cost, "error", err)
		return nil, shared.Persistence("events", "Book", err)
	}

	after, err := h.store.GetUser(ctx, actorID)
	if err != nil {
		h.logger.Warn("failed to reload user after booking", "user_id", actorID, "error", err)
		after = user.Clone()
		after.Points -= cost
		after.BookedTickets = shared.UnionStrings(after.BookedTickets, ref)
	}
	remaining := after.Points

	h.logger.Info("tickets booked",
		"user_id", actorID, "event_id", ev.ID, "booking_id", confirmed.BookingID,
		"tickets", cmd.Tickets, "cost", cost)

	publishAll(h.eventPublisher, h.logger, []shared.Event{
		shared.NewTicketBookedEvent(actorID, ev.ID, confirmed.BookingID, cmd.Tickets, cost),
		shared.NewPointsSpentEvent(actorID, cost, remaining, "event_booking"),
	})

	if rerr := h.refresher.Refresh(ctx, after); rerr != nil {
		h.logger.Warn("leaderboard refresh failed", "user_id", actorID, "error", rerr)
	}

	return &BookEventResult{
		Booking:         confirmed,
		Event:           ev,
		Cost:            cost,
		RemainingPoints: remaining,
		TicketRef:       ref,
	}, nil
}

// refund returns a reservation after the external booking failed.
func (h *BookEventHandler) refund(ctx context.Context, userID, eventID string, cost int) {
	if err := h.store.UpdateUserFields(ctx, userID, progress.Increment(progress.FieldPoints, int64(cost))); err != nil {
		h.logger.Error("failed to refund points after booking failure",
			"user_id", userID, "event_id", eventID, "cost", cost, "error", err)
	}
}

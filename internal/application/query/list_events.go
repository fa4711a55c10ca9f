package query

import (
	"context"
	"sort"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/booking"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// EventView is an upcoming event priced in points for the requester.
type EventView struct {
	booking.Event
	PointsPerTicket int  `json:"pointsPerTicket"`
	Affordable      bool `json:"affordable"`
	Booked          bool `json:"booked"`
}

// ListEventsHandler lists upcoming bookable events.
type ListEventsHandler struct {
	catalog               booking.Catalog
	users                 progress.Store
	pointsPerCurrencyUnit int
	now                   func() time.Time
}

// NewListEventsHandler creates a new handler.
func NewListEventsHandler(catalog booking.Catalog, users progress.Store, pointsPerCurrencyUnit int) *ListEventsHandler {
	if pointsPerCurrencyUnit <= 0 {
		pointsPerCurrencyUnit = booking.DefaultPointsPerCurrencyUnit
	}
	return &ListEventsHandler{
		catalog:               catalog,
		users:                 users,
		pointsPerCurrencyUnit: pointsPerCurrencyUnit,
		now:                   timeutil.Now,
	}
}

// Handle returns events that have not started, soonest first.
func (h *ListEventsHandler) Handle(ctx context.Context, requesterID string) ([]EventView, error) {
	actor, err := shared.RequireActor(requesterID)
	if err != nil {
		return nil, err
	}
	user, err := h.users.GetUser(ctx, actor.String())
	if err != nil {
		return nil, shared.Persistence("events", "List", err)
	}
	events, err := h.catalog.ListEvents(ctx)
	if err != nil {
		return nil, err
	}

	now := h.now()
	out := make([]EventView, 0, len(events))
	for i := range events {
		if events[i].IsPast(now) {
			continue
		}
		out = append(out, h.view(events[i], user))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DateTime.Before(out[j].DateTime)
	})
	return out, nil
}

// Get returns one event priced for the requester. Past events are still
// returned so a ticket holder can look up what they booked.
func (h *ListEventsHandler) Get(ctx context.Context, requesterID, eventID string) (*EventView, error) {
	actor, err := shared.RequireActor(requesterID)
	if err != nil {
		return nil, err
	}
	user, err := h.users.GetUser(ctx, actor.String())
	if err != nil {
		return nil, shared.Persistence("events", "Get", err)
	}
	ev, err := h.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	view := h.view(*ev, user)
	if ev.IsPast(h.now()) {
		view.Affordable = false
	}
	return &view, nil
}

func (h *ListEventsHandler) view(ev booking.Event, user *progress.UserStats) EventView {
	price := booking.Cost(ev.TicketPrice, 1, h.pointsPerCurrencyUnit)
	_, booked := booking.FindTicket(user.BookedTickets, ev.ID)
	return EventView{
		Event:           ev,
		PointsPerTicket: price,
		Affordable:      user.Points >= price && ev.AvailableTickets > 0,
		Booked:          booked,
	}
}

// Package booking models campus events from the external event API and the
// points-spend rules for booking tickets.
package booking

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// Ticket limits per booking.
const (
	MinTicketsPerBooking = 1
	MaxTicketsPerBooking = 10
)

// DefaultPointsPerCurrencyUnit converts one unit of ticket price into points.
const DefaultPointsPerCurrencyUnit = 100

// Venue is where an event takes place.
type Venue struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Event is a bookable campus event.
type Event struct {
	ID   string `json:"eventId"`
	Name string `json:"eventName"`

	// DateTime is a wall-clock time without zone, interpreted in the
	// campus location.
	DateTime time.Time `json:"eventDateTime"`

	Venue            Venue           `json:"venue"`
	TicketPrice      decimal.Decimal `json:"ticketPrice"`
	AvailableTickets int             `json:"availableTickets"`
	Organizer        string          `json:"organizer,omitempty"`
}

// IsPast reports whether the event already started at now.
func (e *Event) IsPast(now time.Time) bool {
	return !e.DateTime.IsZero() && e.DateTime.Before(now)
}

// Booking is the external API's confirmation.
type Booking struct {
	BookingID       string          `json:"bookingId"`
	EventID         string          `json:"eventId"`
	NumberOfTickets int             `json:"numberOfTickets"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
}

// Catalog is the external event-booking API.
type Catalog interface {
	ListEvents(ctx context.Context) ([]Event, error)

	// GetEvent returns shared.ErrEventNotFound for unknown ids.
	GetEvent(ctx context.Context, eventID string) (*Event, error)

	Book(ctx context.Context, eventID string, tickets int) (*Booking, error)
}

// ValidateTicketCount checks the per-booking limits.
func ValidateTicketCount(tickets int) error {
	if tickets < MinTicketsPerBooking || tickets > MaxTicketsPerBooking {
		return shared.ErrInvalidTicketCount
	}
	return nil
}

// Cost converts a ticket purchase into points, rounding up so a booking
// never costs less than its price.
func Cost(ticketPrice decimal.Decimal, tickets, pointsPerCurrencyUnit int) int {
	if pointsPerCurrencyUnit <= 0 {
		pointsPerCurrencyUnit = DefaultPointsPerCurrencyUnit
	}
	if ticketPrice.IsNegative() || tickets <= 0 {
		return 0
	}
	total := ticketPrice.
		Mul(decimal.NewFromInt(int64(tickets))).
		Mul(decimal.NewFromInt(int64(pointsPerCurrencyUnit))).
		Ceil()
	return int(total.IntPart())
}

// TicketRef is the value stored in UserStats.BookedTickets for one booking.
func TicketRef(eventID, bookingID string) string {
	return eventID + "/" + bookingID
}

// FindTicket returns the first stored ticket reference for eventID.
func FindTicket(refs []string, eventID string) (string, bool) {
	prefix := eventID + "/"
	for _, r := range refs {
		if strings.HasPrefix(r, prefix) {
			return r, true
		}
	}
	return "", false
}

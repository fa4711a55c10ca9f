package eventapi

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/booking"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

// VenueDTO is the venue object of an event.
type VenueDTO struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// EventDTO is an event as returned by the API. eventDateTime is ISO-8601
// without a zone.
type EventDTO struct {
	EventID          string          `json:"eventId"`
	EventName        string          `json:"eventName"`
	EventDateTime    string          `json:"eventDateTime"`
	Venue            VenueDTO        `json:"venue"`
	TicketPrice      decimal.Decimal `json:"ticketPrice"`
	AvailableTickets int             `json:"availableTickets"`
	Organizer        string          `json:"organizer,omitempty"`
}

// BookRequestDTO is the body of POST /events/{id}/book.
type BookRequestDTO struct {
	NumberOfTickets int `json:"numberOfTickets"`
}

// BookingDTO is the booking confirmation.
type BookingDTO struct {
	BookingID       string          `json:"bookingId"`
	EventID         string          `json:"eventId"`
	NumberOfTickets int             `json:"numberOfTickets"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
}

// errorDTO is the optional error body.
type errorDTO struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e errorDTO) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// ══════════════════════════════════════════════════════════════════════════════
// MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// ToEvent converts the wire event. An empty date is kept as the zero time.
func (d EventDTO) ToEvent() (booking.Event, error) {
	ev := booking.Event{
		ID:   strings.TrimSpace(d.EventID),
		Name: d.EventName,
		Venue: booking.Venue{
			Name:      d.Venue.Name,
			Address:   d.Venue.Address,
			Latitude:  d.Venue.Latitude,
			Longitude: d.Venue.Longitude,
		},
		TicketPrice:      d.TicketPrice,
		AvailableTickets: d.AvailableTickets,
		Organizer:        d.Organizer,
	}
	if ev.ID == "" {
		return booking.Event{}, fmt.Errorf("event without eventId")
	}
	if ev.AvailableTickets < 0 {
		ev.AvailableTickets = 0
	}
	if s := strings.TrimSpace(d.EventDateTime); s != "" {
		t, err := timeutil.ParseLocalISO(s)
		if err != nil {
			return booking.Event{}, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		ev.DateTime = t
	}
	return ev, nil
}

// ToBooking converts the confirmation, filling gaps from the request.
func (d BookingDTO) ToBooking(eventID string, tickets int) *booking.Booking {
	b := &booking.Booking{
		BookingID:       d.BookingID,
		EventID:         d.EventID,
		NumberOfTickets: d.NumberOfTickets,
		TotalPrice:      d.TotalPrice,
	}
	if b.EventID == "" {
		b.EventID = eventID
	}
	if b.NumberOfTickets == 0 {
		b.NumberOfTickets = tickets
	}
	return b
}

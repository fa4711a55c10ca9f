// Package eventhandler contains domain event handlers. They react to
// committed changes with side effects such as realtime pushes and metrics,
// and never fail the command that emitted the event.
package eventhandler

import (
	"context"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// Notification is a message pushed to one user's open connections.
type Notification struct {
	Type  shared.EventType       `json:"type"`
	Title string                 `json:"title,omitempty"`
	Body  string                 `json:"body,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Notifier delivers notifications to connected users. Delivering to a user
// with no connection is not an error.
type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// EventCounter records event throughput.
type EventCounter interface {
	ObserveEvent(eventType shared.EventType)
}

// Register subscribes handlers to bus. counter, when set, sees every event
// published on this instance.
func Register(bus shared.EventSubscriber, counter EventCounter, handlers ...Handler) error {
	if counter != nil {
		if err := bus.SubscribeAll(func(e shared.Event) error {
			if !shared.IsReplayed(e) {
				counter.ObserveEvent(e.EventType())
			}
			return nil
		}); err != nil {
			return err
		}
	}
	for _, h := range handlers {
		for _, t := range h.EventTypes() {
			if err := bus.Subscribe(t, h.Handle); err != nil {
				return err
			}
		}
	}
	return nil
}

// Handler is an event handler bound to a set of event types.
type Handler interface {
	EventTypes() []shared.EventType
	Handle(event shared.Event) error
}

// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that happened in the domain.
const (
	// User events
	EventUserRegistered EventType = "user.registered"

	// Progress events
	EventSessionSettled      EventType = "progress.session_settled"
	EventStreakIncreased     EventType = "progress.streak_increased"
	EventAchievementUnlocked EventType = "progress.achievement_unlocked"
	EventPointsSpent         EventType = "progress.points_spent"

	// Social events
	EventFriendAdded   EventType = "social.friend_added"
	EventFriendRemoved EventType = "social.friend_removed"

	// Study session events
	EventStudySessionUpdated   EventType = "session.updated"
	EventStudySessionCompleted EventType = "session.completed"

	// Event booking events
	EventTicketBooked       EventType = "events.ticket_booked"
	EventAttendanceRecorded EventType = "events.attendance_recorded"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// Replayed is implemented by events delivered from another instance.
type Replayed interface {
	Replayed() bool
}

// IsReplayed reports whether event was published by another instance and
// only replayed here. Counters skip such events; their origin counted them.
func IsReplayed(event Event) bool {
	r, ok := event.(Replayed)
	return ok && r.Replayed()
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// User Events
// ═══════════════════════════════════════════════════════════════════════════

// UserRegisteredEvent is emitted when an account is set up.
type UserRegisteredEvent struct {
	BaseEvent
	Username string `json:"username"`
}

// Payload implements Event interface.
func (e UserRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"username": e.Username,
	}
}

// NewUserRegisteredEvent creates a new UserRegisteredEvent.
func NewUserRegisteredEvent(userID, username string) UserRegisteredEvent {
	return UserRegisteredEvent{
		BaseEvent: NewBaseEvent(EventUserRegistered, userID),
		Username:  username,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionSettledEvent is emitted after a study session was credited to a user.
type SessionSettledEvent struct {
	BaseEvent
	SessionID        string `json:"session_id"`
	PointsEarned     int    `json:"points_earned"`
	DurationMinutes  int    `json:"duration_minutes"`
	NewPoints        int    `json:"new_points"`
	NewStudyMinutes  int    `json:"new_study_minutes"`
	StreakDays       int    `json:"streak_days"`
	ConsistencyScore int    `json:"consistency_score"`
}

// Payload implements Event interface.
func (e SessionSettledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id":        e.SessionID,
		"points_earned":     e.PointsEarned,
		"duration_minutes":  e.DurationMinutes,
		"new_points":        e.NewPoints,
		"new_study_minutes": e.NewStudyMinutes,
		"streak_days":       e.StreakDays,
		"consistency_score": e.ConsistencyScore,
	}
}

// NewSessionSettledEvent creates a new SessionSettledEvent.
func NewSessionSettledEvent(userID, sessionID string, pointsEarned, durationMinutes, newPoints, newStudyMinutes, streakDays, consistency int) SessionSettledEvent {
	return SessionSettledEvent{
		BaseEvent:        NewBaseEvent(EventSessionSettled, userID),
		SessionID:        sessionID,
		PointsEarned:     pointsEarned,
		DurationMinutes:  durationMinutes,
		NewPoints:        newPoints,
		NewStudyMinutes:  newStudyMinutes,
		StreakDays:       streakDays,
		ConsistencyScore: consistency,
	}
}

// StreakIncreasedEvent is emitted when the daily streak grows.
type StreakIncreasedEvent struct {
	BaseEvent
	StreakDays    int `json:"streak_days"`
	MaxStreakDays int `json:"max_streak_days"`
}

// Payload implements Event interface.
func (e StreakIncreasedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"streak_days":     e.StreakDays,
		"max_streak_days": e.MaxStreakDays,
	}
}

// NewStreakIncreasedEvent creates a new StreakIncreasedEvent.
func NewStreakIncreasedEvent(userID string, streakDays, maxStreakDays int) StreakIncreasedEvent {
	return StreakIncreasedEvent{
		BaseEvent:     NewBaseEvent(EventStreakIncreased, userID),
		StreakDays:    streakDays,
		MaxStreakDays: maxStreakDays,
	}
}

// AchievementUnlockedEvent is emitted once per newly unlocked achievement.
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Icon          string `json:"icon"`
	// Sequence is the position of this unlock within one evaluation.
	Sequence int `json:"sequence"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id": e.AchievementID,
		"title":          e.Title,
		"description":    e.Description,
		"icon":           e.Icon,
		"sequence":       e.Sequence,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID, achievementID, title, description, icon string, sequence int) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID),
		AchievementID: achievementID,
		Title:         title,
		Description:   description,
		Icon:          icon,
		Sequence:      sequence,
	}
}

// PointsSpentEvent is emitted when points are deducted for a booking.
type PointsSpentEvent struct {
	BaseEvent
	Amount    int    `json:"amount"`
	Remaining int    `json:"remaining"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e PointsSpentEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount":    e.Amount,
		"remaining": e.Remaining,
		"reason":    e.Reason,
	}
}

// NewPointsSpentEvent creates a new PointsSpentEvent.
func NewPointsSpentEvent(userID string, amount, remaining int, reason string) PointsSpentEvent {
	return PointsSpentEvent{
		BaseEvent: NewBaseEvent(EventPointsSpent, userID),
		Amount:    amount,
		Remaining: remaining,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Social Events
// ═══════════════════════════════════════════════════════════════════════════

// FriendshipChangedEvent is emitted when two users become or stop being friends.
type FriendshipChangedEvent struct {
	BaseEvent
	FriendID string `json:"friend_id"`
}

// Payload implements Event interface.
func (e FriendshipChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"friend_id": e.FriendID,
	}
}

// NewFriendAddedEvent creates a FriendshipChangedEvent for an add.
func NewFriendAddedEvent(userID, friendID string) FriendshipChangedEvent {
	return FriendshipChangedEvent{
		BaseEvent: NewBaseEvent(EventFriendAdded, userID),
		FriendID:  friendID,
	}
}

// NewFriendRemovedEvent creates a FriendshipChangedEvent for a removal.
func NewFriendRemovedEvent(userID, friendID string) FriendshipChangedEvent {
	return FriendshipChangedEvent{
		BaseEvent: NewBaseEvent(EventFriendRemoved, userID),
		FriendID:  friendID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Study Session Events
// ═══════════════════════════════════════════════════════════════════════════

// StudySessionEvent carries a study session state change.
type StudySessionEvent struct {
	BaseEvent
	HostID        string   `json:"host_id"`
	Participants  []string `json:"participants"`
	Started       bool     `json:"started"`
	Completed     bool     `json:"completed"`
	PointsAwarded int      `json:"points_awarded"`
}

// Payload implements Event interface.
func (e StudySessionEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"host_id":        e.HostID,
		"participants":   e.Participants,
		"started":        e.Started,
		"completed":      e.Completed,
		"points_awarded": e.PointsAwarded,
	}
}

// NewStudySessionEvent creates a StudySessionEvent. Completed sessions get
// EventStudySessionCompleted, everything else EventStudySessionUpdated.
func NewStudySessionEvent(sessionID, hostID string, participants []string, started, completed bool, points int) StudySessionEvent {
	eventType := EventStudySessionUpdated
	if completed {
		eventType = EventStudySessionCompleted
	}
	return StudySessionEvent{
		BaseEvent:     NewBaseEvent(eventType, sessionID),
		HostID:        hostID,
		Participants:  participants,
		Started:       started,
		Completed:     completed,
		PointsAwarded: points,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Booking Events
// ═══════════════════════════════════════════════════════════════════════════

// TicketBookedEvent is emitted after a successful points-spend booking.
type TicketBookedEvent struct {
	BaseEvent
	EventID   string `json:"event_id"`
	BookingID string `json:"booking_id"`
	Tickets   int    `json:"tickets"`
	Cost      int    `json:"cost"`
}

// Payload implements Event interface.
func (e TicketBookedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"event_id":   e.EventID,
		"booking_id": e.BookingID,
		"tickets":    e.Tickets,
		"cost":       e.Cost,
	}
}

// NewTicketBookedEvent creates a new TicketBookedEvent.
func NewTicketBookedEvent(userID, eventID, bookingID string, tickets, cost int) TicketBookedEvent {
	return TicketBookedEvent{
		BaseEvent: NewBaseEvent(EventTicketBooked, userID),
		EventID:   eventID,
		BookingID: bookingID,
		Tickets:   tickets,
		Cost:      cost,
	}
}

// AttendanceRecordedEvent is emitted when a user checks in at an event.
type AttendanceRecordedEvent struct {
	BaseEvent
	EventID        string `json:"event_id"`
	EventsAttended int    `json:"events_attended"`
}

// Payload implements Event interface.
func (e AttendanceRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"event_id":        e.EventID,
		"events_attended": e.EventsAttended,
	}
}

// NewAttendanceRecordedEvent creates a new AttendanceRecordedEvent.
func NewAttendanceRecordedEvent(userID, eventID string, attended int) AttendanceRecordedEvent {
	return AttendanceRecordedEvent{
		BaseEvent:      NewBaseEvent(EventAttendanceRecorded, userID),
		EventID:        eventID,
		EventsAttended: attended,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

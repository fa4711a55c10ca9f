// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the progression core matches exactly one
// of these through errors.Is().
var (
	// ErrNotLoggedIn means there is no authenticated identity. Nothing was attempted.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrNotFound means a referenced user, session, event or achievement is absent.
	ErrNotFound = errors.New("not found")

	// ErrPersistence means the underlying store failed a read or write.
	// The caller may retry the whole operation.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidArgument means the request was rejected before any write.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExternalService means a collaborator outside the core (event API) failed.
	ErrExternalService = errors.New("external service error")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "leaderboard", "session"
	Op      string // Operation that failed, e.g., "Settle", "AddFriend"
	Kind    error  // One of the error kinds above
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Persistence wraps a store failure. Errors that already carry a kind
// (not found, invalid argument) pass through unchanged.
func Persistence(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsInvalidArgument(err) || IsNotLoggedIn(err) || IsPersistence(err) {
		return err
	}
	return WrapError(domain, op, ErrPersistence, "store operation failed", err)
}

// User domain errors
var (
	ErrUserNotFound      = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrUserAlreadyExists = NewDomainError("user", "Create", ErrInvalidArgument, "user already exists")
	ErrEmptyUserID       = NewDomainError("user", "Validate", ErrInvalidArgument, "user id is required")
	ErrInvalidUsername   = NewDomainError("user", "Validate", ErrInvalidArgument, "username must be 2-32 characters")
	ErrInvalidCredential = NewDomainError("user", "Authenticate", ErrNotLoggedIn, "invalid credentials")
	ErrMissingIdentity   = NewDomainError("user", "Authenticate", ErrNotLoggedIn, "no authenticated user")
)

// Friend errors
var (
	ErrSelfFriend     = NewDomainError("friends", "Add", ErrInvalidArgument, "cannot add yourself as a friend")
	ErrAlreadyFriends = NewDomainError("friends", "Add", ErrInvalidArgument, "users are already friends")
	ErrNotFriends     = NewDomainError("friends", "Remove", ErrInvalidArgument, "users are not friends")
)

// Progress and settlement errors
var (
	ErrNegativePoints     = NewDomainError("progress", "Validate", ErrInvalidArgument, "points earned cannot be negative")
	ErrNegativeDuration   = NewDomainError("progress", "Validate", ErrInvalidArgument, "duration cannot be negative")
	ErrAlreadySettled     = NewDomainError("progress", "Settle", ErrInvalidArgument, "session already settled for user")
	ErrInsufficientPoints = NewDomainError("progress", "Spend", ErrInvalidArgument, "not enough points")
	ErrEmptyUpdate        = NewDomainError("progress", "Update", ErrInvalidArgument, "no field updates given")
	ErrUnknownField       = NewDomainError("progress", "Update", ErrInvalidArgument, "unknown field")
)

// Leaderboard errors
var (
	ErrInvalidMetric = NewDomainError("leaderboard", "Validate", ErrInvalidArgument, "metric must be points, hours or streak")
	ErrInvalidScope  = NewDomainError("leaderboard", "Validate", ErrInvalidArgument, "scope must be global or friends")
	ErrInvalidLimit  = NewDomainError("leaderboard", "Validate", ErrInvalidArgument, "limit out of range")
)

// Study session errors
var (
	ErrSessionNotFound       = NewDomainError("session", "Find", ErrNotFound, "study session not found")
	ErrSessionStarted        = NewDomainError("session", "Join", ErrInvalidArgument, "study session already started")
	ErrSessionNotStarted     = NewDomainError("session", "Complete", ErrInvalidArgument, "study session not started")
	ErrSessionCompleted      = NewDomainError("session", "Update", ErrInvalidArgument, "study session already completed")
	ErrNotSessionHost        = NewDomainError("session", "Authorize", ErrInvalidArgument, "only the host can do this")
	ErrAlreadyParticipant    = NewDomainError("session", "Join", ErrInvalidArgument, "user already in session")
	ErrNotParticipant        = NewDomainError("session", "Leave", ErrInvalidArgument, "user is not in session")
	ErrHostCannotLeave       = NewDomainError("session", "Leave", ErrInvalidArgument, "host cannot leave the session")
	ErrInvalidSessionLength  = NewDomainError("session", "Validate", ErrInvalidArgument, "session duration must be positive")
	ErrSessionParticipantCap = NewDomainError("session", "Join", ErrInvalidArgument, "study session is full")
)

// Event booking errors
var (
	ErrEventNotFound       = NewDomainError("events", "Find", ErrNotFound, "event not found")
	ErrInvalidTicketCount  = NewDomainError("events", "Book", ErrInvalidArgument, "number of tickets must be between 1 and 10")
	ErrNotEnoughTickets    = NewDomainError("events", "Book", ErrInvalidArgument, "not enough tickets available")
	ErrNoTicket            = NewDomainError("events", "Attend", ErrInvalidArgument, "no ticket booked for this event")
	ErrEventStarted        = NewDomainError("events", "Book", ErrInvalidArgument, "event already started")
	ErrEventAPIUnavailable = NewDomainError("events", "Request", ErrExternalService, "event API is unavailable")
	ErrEventAPIRateLimited = NewDomainError("events", "Request", ErrExternalService, "event API rate limit exceeded")
)

// Achievement errors
var (
	ErrAchievementNotFound = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
)

// IsNotLoggedIn checks if the error is a missing-identity error.
func IsNotLoggedIn(err error) bool {
	return errors.Is(err, ErrNotLoggedIn)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPersistence checks if the error is a store failure.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsInvalidArgument checks if the error is a validation error.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService)
}

// KindOf returns the error kind carried by err, or nil for unclassified errors.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotLoggedIn(err):
		return ErrNotLoggedIn
	case IsNotFound(err):
		return ErrNotFound
	case IsInvalidArgument(err):
		return ErrInvalidArgument
	case IsPersistence(err):
		return ErrPersistence
	case IsExternalService(err):
		return ErrExternalService
	default:
		return nil
	}
}

package session

import (
	"context"
)

// Store persists session records. Implementations live in
// infrastructure/persistence.
type Store interface {
	// Create writes a new record.
	Create(ctx context.Context, s *StudySessionRecord) error

	// Get returns a record or shared.ErrSessionNotFound.
	Get(ctx context.Context, id string) (*StudySessionRecord, error)

	// Save overwrites an existing record. Only the host process writes
	// session records, so whole-document writes are safe here.
	Save(ctx context.Context, s *StudySessionRecord) error

	// ListByParticipant returns the sessions userID belongs to, newest first.
	ListByParticipant(ctx context.Context, userID string, limit int) ([]*StudySessionRecord, error)
}

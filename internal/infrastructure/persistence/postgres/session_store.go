package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/session"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// SessionStore implements session.Store. The record is kept as a jsonb
// document; participant ids are copied into an indexed column for history
// lookups.
type SessionStore struct {
	conn *Connection
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(conn *Connection) *SessionStore {
	return &SessionStore{conn: conn}
}

var _ session.Store = (*SessionStore)(nil)

// Create implements session.Store.
func (s *SessionStore) Create(ctx context.Context, rec *session.StudySessionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	q, err := s.conn.Querier()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO study_sessions (id, host_id, participant_ids, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.HostID, rec.ParticipantIDs(), doc, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("session", "Create", shared.ErrInvalidArgument, "study session already exists")
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get implements session.Store.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.StudySessionRecord, error) {
	q, err := s.conn.Querier()
	if err != nil {
		return nil, err
	}
	var doc []byte
	err = q.QueryRow(ctx, "SELECT document FROM study_sessions WHERE id = $1", id).Scan(&doc)
	if IsNoRows(err) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeSession(doc)
}

// Save implements session.Store.
func (s *SessionStore) Save(ctx context.Context, rec *session.StudySessionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	q, err := s.conn.Querier()
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE study_sessions
		SET participant_ids = $2, document = $3, updated_at = $4
		WHERE id = $1`,
		rec.ID, rec.ParticipantIDs(), doc, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrSessionNotFound
	}
	return nil
}

// ListByParticipant implements session.Store.
func (s *SessionStore) ListByParticipant(ctx context.Context, userID string, limit int) ([]*session.StudySessionRecord, error) {
	sql := "SELECT document FROM study_sessions WHERE $1 = ANY(participant_ids) ORDER BY created_at DESC, id"
	args := []any{userID}
	if limit > 0 {
		sql += " LIMIT $2"
		args = append(args, limit)
	}

	q, err := s.conn.Querier()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*session.StudySessionRecord, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec, err := decodeSession(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return out, nil
}

func decodeSession(doc []byte) (*session.StudySessionRecord, error) {
	var rec session.StudySessionRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	rec.Normalize()
	return &rec, nil
}

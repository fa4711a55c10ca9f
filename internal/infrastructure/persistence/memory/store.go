// Package memory provides process-local stores used for development and tests.
// All records are deep-copied on the way in and out.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/account"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/session"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// Store holds users, sessions, credentials and settlement markers.
type Store struct {
	mu          sync.RWMutex
	users       map[string]*progress.UserStats
	sessions    map[string]*session.StudySessionRecord
	credentials map[string]*account.Credential
	settled     map[string]struct{}
	now         func() time.Time

	// FailNext, when set, makes the next write return this error and write
	// nothing. Used to exercise retry paths.
	FailNext error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]*progress.UserStats),
		sessions:    make(map[string]*session.StudySessionRecord),
		credentials: make(map[string]*account.Credential),
		settled:     make(map[string]struct{}),
		now:         timeutil.Now,
	}
}

func (s *Store) takeFailure() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// progress.Store
// ─────────────────────────────────────────────────────────────────────────────

// GetUser implements progress.Store.
func (s *Store) GetUser(_ context.Context, userID string) (*progress.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return u.Clone(), nil
}

// CreateUser implements progress.Store.
func (s *Store) CreateUser(_ context.Context, stats *progress.UserStats) error {
	if err := stats.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.users[stats.UserID]; ok {
		return shared.ErrUserAlreadyExists
	}
	c := stats.Clone()
	c.Normalize()
	s.users[c.UserID] = c
	return nil
}

// UpdateUserFields implements progress.Store.
func (s *Store) UpdateUserFields(_ context.Context, userID string, updates ...progress.FieldUpdate) error {
	if err := progress.ValidateUpdates(updates); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	u, ok := s.users[userID]
	if !ok {
		return shared.ErrUserNotFound
	}
	if err := u.Apply(updates...); err != nil {
		return err
	}
	u.UpdatedAt = s.now()
	return nil
}

// QueryUsersOrderedBy implements progress.Store.
func (s *Store) QueryUsersOrderedBy(_ context.Context, field progress.Field, dir progress.Direction, limit int) ([]*progress.UserStats, error) {
	if !field.IsSortable() {
		return nil, shared.WrapError("progress", "Query", shared.ErrInvalidArgument, "field is not sortable", nil)
	}
	s.mu.RLock()
	out := make([]*progress.UserStats, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		vi, vj := out[i].IntValue(field), out[j].IntValue(field)
		if vi != vj {
			if dir == progress.Ascending {
				return vi < vj
			}
			return vi > vj
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QueryUsersByID implements progress.Store.
func (s *Store) QueryUsersByID(_ context.Context, ids []string) ([]*progress.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*progress.UserStats, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := s.users[id]; ok {
			out = append(out, u.Clone())
		}
	}
	return out, nil
}

// RunAtomic implements progress.Store. Updates are applied to copies and
// swapped in only when every document succeeded.
func (s *Store) RunAtomic(_ context.Context, ops ...progress.DocumentUpdate) error {
	if len(ops) == 0 {
		return shared.ErrEmptyUpdate
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	staged := make(map[string]*progress.UserStats, len(ops))
	now := s.now()
	for _, op := range ops {
		cur, ok := staged[op.UserID]
		if !ok {
			u, exists := s.users[op.UserID]
			if !exists {
				return shared.ErrUserNotFound
			}
			cur = u.Clone()
			staged[op.UserID] = cur
		}
		if err := cur.Apply(op.Updates...); err != nil {
			return err
		}
		cur.UpdatedAt = now
	}
	for id, u := range staged {
		s.users[id] = u
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// session.Store
// ─────────────────────────────────────────────────────────────────────────────

// Create implements session.Store.
func (s *Store) Create(_ context.Context, rec *session.StudySessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.sessions[rec.ID]; ok {
		return shared.NewDomainError("session", "Create", shared.ErrInvalidArgument, "session already exists")
	}
	s.sessions[rec.ID] = rec.Clone()
	return nil
}

// Get implements session.Store.
func (s *Store) Get(_ context.Context, id string) (*session.StudySessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return rec.Clone(), nil
}

// Save implements session.Store.
func (s *Store) Save(_ context.Context, rec *session.StudySessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.sessions[rec.ID]; !ok {
		return shared.ErrSessionNotFound
	}
	s.sessions[rec.ID] = rec.Clone()
	return nil
}

// ListByParticipant implements session.Store.
func (s *Store) ListByParticipant(_ context.Context, userID string, limit int) ([]*session.StudySessionRecord, error) {
	s.mu.RLock()
	out := make([]*session.StudySessionRecord, 0)
	for _, rec := range s.sessions {
		if rec.HasParticipant(userID) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// account.CredentialStore
// ─────────────────────────────────────────────────────────────────────────────

// SaveCredential implements account.CredentialStore.
func (s *Store) SaveCredential(_ context.Context, c *account.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.credentials[c.UserID] = &cp
	return nil
}

// GetCredential implements account.CredentialStore.
func (s *Store) GetCredential(_ context.Context, userID string) (*account.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[userID]
	if !ok {
		return nil, shared.ErrInvalidCredential
	}
	cp := *c
	return &cp, nil
}

// DeleteCredential implements account.CredentialStore.
func (s *Store) DeleteCredential(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.credentials, userID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Settlement guard
// ─────────────────────────────────────────────────────────────────────────────

func settlementKey(sessionID, userID string) string {
	return sessionID + "/" + userID
}

// Acquire marks (sessionID, userID) as settled. It returns false if the pair
// is already marked.
func (s *Store) Acquire(_ context.Context, sessionID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := settlementKey(sessionID, userID)
	if _, ok := s.settled[key]; ok {
		return false, nil
	}
	s.settled[key] = struct{}{}
	return true, nil
}

// Release clears the mark for (sessionID, userID).
func (s *Store) Release(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.settled, settlementKey(sessionID, userID))
	return nil
}

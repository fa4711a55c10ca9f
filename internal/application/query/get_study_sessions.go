package query

import (
	"context"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/session"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// DefaultSessionHistoryLimit bounds session history reads.
const DefaultSessionHistoryLimit = 20

// GetStudySessionsHandler reads session records.
type GetStudySessionsHandler struct {
	sessions session.Store
}

// NewGetStudySessionsHandler creates a new handler.
func NewGetStudySessionsHandler(sessions session.Store) *GetStudySessionsHandler {
	return &GetStudySessionsHandler{sessions: sessions}
}

// Get returns one session. Only participants can read it.
func (h *GetStudySessionsHandler) Get(ctx context.Context, requesterID, sessionID string) (*session.StudySessionRecord, error) {
	actor, err := shared.RequireActor(requesterID)
	if err != nil {
		return nil, err
	}
	rec, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, shared.Persistence("session", "Get", err)
	}
	if !rec.HasParticipant(actor.String()) {
		return nil, shared.ErrSessionNotFound
	}
	return rec, nil
}

// History returns the requester's sessions, newest first.
func (h *GetStudySessionsHandler) History(ctx context.Context, requesterID string, limit int) ([]*session.StudySessionRecord, error) {
	actor, err := shared.RequireActor(requesterID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultSessionHistoryLimit*5 {
		limit = DefaultSessionHistoryLimit
	}
	recs, err := h.sessions.ListByParticipant(ctx, actor.String(), limit)
	if err != nil {
		return nil, shared.Persistence("session", "History", err)
	}
	return recs, nil
}

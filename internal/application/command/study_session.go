package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/session"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDY SESSION COMMANDS
// Create / join / leave / start / complete. Completing a session settles
// every participant through SettleSessionHandler.
// ══════════════════════════════════════════════════════════════════════════════

// StudySessionConfig contains the session rules.
type StudySessionConfig struct {
	// PointsPerMinute converts whole minutes into the award.
	PointsPerMinute int

	// MaxParticipants bounds a session, host included.
	MaxParticipants int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultStudySessionConfig returns default configuration.
func DefaultStudySessionConfig() StudySessionConfig {
	return StudySessionConfig{
		PointsPerMinute: 10,
		MaxParticipants: session.DefaultMaxParticipants,
	}
}

// CompleteSessionResult contains the completed record and what was credited.
type CompleteSessionResult struct {
	Session *session.StudySessionRecord

	// Settled holds the settlements done by this call, keyed by user id.
	Settled map[string]*SettleSessionResult

	// Resumed is true when the session was already completed and this call
	// only settled the remaining participants.
	Resumed bool
}

// StudySessionHandler handles the session lifecycle.
type StudySessionHandler struct {
	sessions       session.Store
	users          progress.Store
	settle         *SettleSessionHandler
	eventPublisher shared.EventPublisher
	config         StudySessionConfig
	now            func() time.Time
	newID          func() string
	logger         *slog.Logger
}

// NewStudySessionHandler creates a new StudySessionHandler.
func NewStudySessionHandler(
	sessions session.Store,
	users progress.Store,
	settle *SettleSessionHandler,
	eventPublisher shared.EventPublisher,
	config StudySessionConfig,
	logger *slog.Logger,
) *StudySessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultStudySessionConfig()
	if config.PointsPerMinute <= 0 {
		config.PointsPerMinute = defaults.PointsPerMinute
	}
	if config.MaxParticipants <= 0 {
		config.MaxParticipants = defaults.MaxParticipants
	}
	return &StudySessionHandler{
		sessions:       sessions,
		users:          users,
		settle:         settle,
		eventPublisher: eventPublisher,
		config:         config,
		now:            clock(config.Now),
		newID:          func() string { return uuid.New().String() },
		logger:         logger.With("handler", "study_session"),
	}
}

// Create opens a session hosted by hostID.
func (h *StudySessionHandler) Create(ctx context.Context, hostID, nfcID string) (*session.StudySessionRecord, error) {
	host, err := h.participant(ctx, hostID, nfcID)
	if err != nil {
		return nil, err
	}
	rec, err := session.NewStudySession(h.newID(), host, h.now())
	if err != nil {
		return nil, err
	}
	if err := h.sessions.Create(ctx, rec); err != nil {
		return nil, shared.Persistence("session", "Create", err)
	}
	h.logger.Info("study session created", "session_id", rec.ID, "host_id", rec.HostID)
	h.announce(rec)
	return rec, nil
}

// Join adds userID to a waiting session.
func (h *StudySessionHandler) Join(ctx context.Context, sessionID, userID, nfcID string) (*session.StudySessionRecord, error) {
	p, err := h.participant(ctx, userID, nfcID)
	if err != nil {
		return nil, err
	}
	return h.mutate(ctx, sessionID, "Join", func(rec *session.StudySessionRecord, now time.Time) error {
		return rec.Join(p, h.config.MaxParticipants, now)
	})
}

// Leave removes userID from a waiting session.
func (h *StudySessionHandler) Leave(ctx context.Context, sessionID, userID string) (*session.StudySessionRecord, error) {
	return h.mutate(ctx, sessionID, "Leave", func(rec *session.StudySessionRecord, now time.Time) error {
		return rec.Leave(strings.TrimSpace(userID), now)
	})
}

// Start begins the session timer.
func (h *StudySessionHandler) Start(ctx context.Context, sessionID, hostID string, plannedSeconds int) (*session.StudySessionRecord, error) {
	if _, err := shared.RequireActor(hostID); err != nil {
		return nil, err
	}
	return h.mutate(ctx, sessionID, "Start", func(rec *session.StudySessionRecord, now time.Time) error {
		return rec.Start(strings.TrimSpace(hostID), plannedSeconds, now)
	})
}

// Complete ends the session and settles every participant. Calling it again
// on a completed session settles only the participants not credited yet, so
// a failed completion can be retried without double crediting.
func (h *StudySessionHandler) Complete(ctx context.Context, sessionID, hostID string, actualSeconds int) (*CompleteSessionResult, error) {
	actor, err := shared.RequireActor(hostID)
	if err != nil {
		return nil, err
	}
	rec, err := h.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !rec.IsHost(actor.String()) {
		return nil, shared.ErrNotSessionHost
	}

	result := &CompleteSessionResult{Session: rec, Settled: make(map[string]*SettleSessionResult)}
	now := h.now()

	if rec.Completed {
		if rec.FullySettled() {
			return nil, shared.ErrSessionCompleted
		}
		result.Resumed = true
	} else {
		if err := rec.Complete(actor.String(), actualSeconds, h.config.PointsPerMinute, now); err != nil {
			return nil, err
		}
		if err := h.sessions.Save(ctx, rec); err != nil {
			return nil, shared.Persistence("session", "Complete", err)
		}
	}

	completedAt := rec.SettlementTime()
	for _, p := range rec.PendingSettlement() {
		settled, err := h.settle.Handle(ctx, SettleSessionCommand{
			UserID:                 p.UserID,
			SessionID:              rec.ID,
			PointsEarned:           rec.PointsAwarded,
			SessionDurationMinutes: rec.DurationMinutes(),
			CompletedAt:            completedAt,
			CorrelationID:          rec.ID,
		})
		switch {
		case err == nil:
			result.Settled[p.UserID] = settled
		case errors.Is(err, shared.ErrAlreadySettled):
			// Credited by an earlier attempt whose record write failed.
		default:
			if serr := h.sessions.Save(ctx, rec); serr != nil {
				h.logger.Error("failed to save partial settlement", "session_id", rec.ID, "error", serr)
			}
			return nil, fmt.Errorf("settle participant %s: %w", p.UserID, err)
		}
		rec.MarkSettled(p.UserID, now)
	}

	if err := h.sessions.Save(ctx, rec); err != nil {
		return nil, shared.Persistence("session", "Complete", err)
	}

	h.logger.Info("study session completed",
		"session_id", rec.ID,
		"participants", len(rec.Participants),
		"points_awarded", rec.PointsAwarded,
		"resumed", result.Resumed,
	)
	h.announce(rec)
	return result, nil
}

// participant resolves a user into a session member.
func (h *StudySessionHandler) participant(ctx context.Context, userID, nfcID string) (session.Participant, error) {
	uid, err := shared.RequireActor(userID)
	if err != nil {
		return session.Participant{}, err
	}
	stats, err := h.users.GetUser(ctx, uid.String())
	if err != nil {
		return session.Participant{}, shared.Persistence("session", "Participant", err)
	}
	return session.Participant{UserID: stats.UserID, Username: stats.Username, NfcID: strings.TrimSpace(nfcID)}, nil
}

func (h *StudySessionHandler) load(ctx context.Context, sessionID string) (*session.StudySessionRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, shared.ErrSessionNotFound
	}
	rec, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, shared.Persistence("session", "Get", err)
	}
	return rec, nil
}

// mutate loads, changes and saves a record, then announces it.
func (h *StudySessionHandler) mutate(
	ctx context.Context,
	sessionID, op string,
	change func(rec *session.StudySessionRecord, now time.Time) error,
) (*session.StudySessionRecord, error) {
	rec, err := h.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := change(rec, h.now()); err != nil {
		return nil, err
	}
	if err := h.sessions.Save(ctx, rec); err != nil {
		return nil, shared.Persistence("session", op, err)
	}
	h.logger.Debug("study session updated", "session_id", rec.ID, "op", op, "status", rec.Status())
	h.announce(rec)
	return rec, nil
}

func (h *StudySessionHandler) announce(rec *session.StudySessionRecord) {
	event := shared.NewStudySessionEvent(rec.ID, rec.HostID, rec.ParticipantIDs(), rec.Started, rec.Completed, rec.PointsAwarded)
	publishAll(h.eventPublisher, h.logger, []shared.Event{event})
}

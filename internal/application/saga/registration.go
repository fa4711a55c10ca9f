// Package saga contains multi-step business processes that compensate
// completed steps when a later one fails.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/account"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION SAGA
// Flow: Validate → Issue Credential → Save Credential → Create Stats →
//
//	Publish Event
//
// ══════════════════════════════════════════════════════════════════════════════

// RegistrationInput contains the data required to register a user.
type RegistrationInput struct {
	// Username is the display name (2-32 characters).
	Username string
}

// Validate checks if the input is valid for registration.
func (i RegistrationInput) Validate() error {
	_, err := shared.NewUsername(i.Username)
	return err
}

// RegistrationResult contains the result of a successful registration.
type RegistrationResult struct {
	// Stats is the freshly created record.
	Stats *progress.UserStats

	// Token is the bearer token. It is not stored and cannot be recovered.
	Token string

	RegisteredAt time.Time
}

// RegistrationStep represents a step in the registration process.
type RegistrationStep string

const (
	StepValidateInput   RegistrationStep = "validate_input"
	StepIssueCredential RegistrationStep = "issue_credential"
	StepSaveCredential  RegistrationStep = "save_credential"
	StepCreateStats     RegistrationStep = "create_stats"
	StepPublishEvent    RegistrationStep = "publish_event"
	StepComplete        RegistrationStep = "complete"
)

// RegistrationSaga creates a user record and its credential together.
type RegistrationSaga struct {
	users       progress.Store
	credentials account.CredentialStore
	issuer      *account.Issuer
	eventBus    shared.EventPublisher
	newID       func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewRegistrationSaga creates a new registration saga.
func NewRegistrationSaga(
	users progress.Store,
	credentials account.CredentialStore,
	issuer *account.Issuer,
	eventBus shared.EventPublisher,
	logger *slog.Logger,
) *RegistrationSaga {
	if logger == nil {
		logger = slog.Default()
	}
	if issuer == nil {
		issuer = account.NewIssuer(0)
	}
	return &RegistrationSaga{
		users:       users,
		credentials: credentials,
		issuer:      issuer,
		eventBus:    eventBus,
		newID:       func() string { return uuid.New().String() },
		now:         timeutil.Now,
		logger:      logger.With("saga", "registration"),
	}
}

// Execute runs the registration. A credential saved for a user whose stats
// could not be created is deleted again.
func (s *RegistrationSaga) Execute(ctx context.Context, input RegistrationInput) (*RegistrationResult, error) {
	step := StepValidateInput
	if err := input.Validate(); err != nil {
		return nil, s.wrapError(step, err)
	}

	now := s.now()
	userID := s.newID()

	step = StepIssueCredential
	token, cred, err := s.issuer.Issue(userID, now)
	if err != nil {
		return nil, s.wrapError(step, err)
	}
	stats, err := progress.NewUserStats(userID, strings.TrimSpace(input.Username), now)
	if err != nil {
		return nil, s.wrapError(step, err)
	}

	step = StepSaveCredential
	if err := s.credentials.SaveCredential(ctx, cred); err != nil {
		return nil, s.wrapError(step, shared.Persistence("user", "Register", err))
	}

	step = StepCreateStats
	if err := s.users.CreateUser(ctx, stats); err != nil {
		s.rollbackCredential(ctx, userID)
		return nil, s.wrapError(step, shared.Persistence("user", "Register", err))
	}

	step = StepPublishEvent
	if s.eventBus != nil {
		if err := s.eventBus.Publish(shared.NewUserRegisteredEvent(userID, stats.Username)); err != nil {
			s.logger.Warn("failed to publish registration", "user_id", userID, "error", err)
		}
	}

	s.logger.Info("user registered", "user_id", userID, "username", stats.Username)
	return &RegistrationResult{Stats: stats, Token: token, RegisteredAt: now}, nil
}

// rollbackCredential deletes a credential whose user was never created.
func (s *RegistrationSaga) rollbackCredential(ctx context.Context, userID string) {
	if err := s.credentials.DeleteCredential(context.WithoutCancel(ctx), userID); err != nil {
		s.logger.Error("failed to roll back credential", "user_id", userID, "error", err)
	}
}

func (s *RegistrationSaga) wrapError(step RegistrationStep, err error) error {
	return &RegistrationError{
		Step:    step,
		Cause:   err,
		Message: fmt.Sprintf("registration failed at step '%s': %v", step, err),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// RegistrationError represents an error during registration. It unwraps to
// the cause so the error kind is preserved.
type RegistrationError struct {
	Step    RegistrationStep
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *RegistrationError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if the error can be retried.
func (e *RegistrationError) IsRetryable() bool {
	if e.Step == StepValidateInput {
		return false
	}
	return errors.Is(e.Cause, shared.ErrPersistence)
}

package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/account"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/persistence/memory"
)

func TestRegistration_CreatesUserAndToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	issuer := account.NewIssuer(bcrypt.MinCost)
	s := NewRegistrationSaga(store, store, issuer, nil, nil)

	res, err := s.Execute(ctx, RegistrationInput{Username: "  Ada Lovelace "})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", res.Stats.Username)

	stored, err := store.GetUser(ctx, res.Stats.UserID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Points)

	uid, err := account.NewAuthenticator(store, issuer).Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Stats.UserID, uid)
}

func TestRegistration_RejectsBadUsername(t *testing.T) {
	s := NewRegistrationSaga(memory.NewStore(), memory.NewStore(), account.NewIssuer(bcrypt.MinCost), nil, nil)
	_, err := s.Execute(context.Background(), RegistrationInput{Username: "x"})
	assert.True(t, shared.IsInvalidArgument(err))

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, StepValidateInput, regErr.Step)
	assert.False(t, regErr.IsRetryable())
}

func TestRegistration_RollsBackCredential(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	s := NewRegistrationSaga(store, store, account.NewIssuer(bcrypt.MinCost), nil, nil)
	s.newID = func() string { return "fixed-id" }

	store.FailNext = errors.New("write timeout")
	_, err := s.Execute(ctx, RegistrationInput{Username: "Grace"})
	require.Error(t, err)
	assert.True(t, shared.IsPersistence(err))

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, StepCreateStats, regErr.Step)
	assert.True(t, regErr.IsRetryable())

	_, err = store.GetCredential(ctx, "fixed-id")
	assert.True(t, shared.IsNotLoggedIn(err))
}

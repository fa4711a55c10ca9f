package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

type mapStore struct {
	creds map[string]*Credential
	err   error
}

func (m *mapStore) SaveCredential(_ context.Context, c *Credential) error {
	m.creds[c.UserID] = c
	return nil
}

func (m *mapStore) GetCredential(_ context.Context, userID string) (*Credential, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.creds[userID]
	if !ok {
		return nil, shared.ErrInvalidCredential
	}
	return c, nil
}

func (m *mapStore) DeleteCredential(_ context.Context, userID string) error {
	delete(m.creds, userID)
	return nil
}

func TestIssueAndAuthenticate(t *testing.T) {
	issuer := NewIssuer(bcrypt.MinCost)
	store := &mapStore{creds: map[string]*Credential{}}

	token, cred, err := issuer.Issue("user-1", time.Now())
	require.NoError(t, err)
	assert.NotContains(t, cred.TokenHash, token)
	require.NoError(t, store.SaveCredential(context.Background(), cred))

	auth := NewAuthenticator(store, issuer)
	uid, err := auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)

	_, err = auth.Authenticate(context.Background(), "user-1.wrong")
	assert.True(t, shared.IsNotLoggedIn(err))

	_, err = auth.Authenticate(context.Background(), "")
	assert.True(t, shared.IsNotLoggedIn(err))

	_, err = auth.Authenticate(context.Background(), "nobody.secret")
	assert.True(t, shared.IsNotLoggedIn(err))
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	auth := NewAuthenticator(&mapStore{err: errors.New("connection reset")}, NewIssuer(bcrypt.MinCost))
	_, err := auth.Authenticate(context.Background(), "u.secret")
	assert.True(t, shared.IsPersistence(err))
}

func TestParseBearer(t *testing.T) {
	uid, secret, err := ParseBearer(" 7c9e-11.abc.def ")
	require.NoError(t, err)
	assert.Equal(t, "7c9e-11", uid)
	assert.Equal(t, "abc.def", secret)

	for _, bad := range []string{"nodot", ".secret", "user."} {
		_, _, err := ParseBearer(bad)
		assert.ErrorIs(t, err, shared.ErrInvalidCredential, bad)
	}
}

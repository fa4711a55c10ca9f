// Package account issues and verifies API access tokens.
package account

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// tokenBytes is the entropy of a generated token.
const tokenBytes = 32

// Credential is the stored half of an access token. The plain token is only
// shown once, at registration.
type Credential struct {
	UserID    string    `json:"userId" bson:"_id"`
	TokenHash string    `json:"-" bson:"tokenHash"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// CredentialStore persists credentials.
type CredentialStore interface {
	// SaveCredential creates or replaces the credential of a user.
	SaveCredential(ctx context.Context, c *Credential) error

	// GetCredential returns shared.ErrInvalidCredential when absent.
	GetCredential(ctx context.Context, userID string) (*Credential, error)

	// DeleteCredential removes a credential; missing ones are ignored.
	DeleteCredential(ctx context.Context, userID string) error
}

// Issuer creates tokens and checks them.
type Issuer struct {
	cost int
}

// NewIssuer creates an Issuer with the given bcrypt cost; 0 means the default.
func NewIssuer(cost int) *Issuer {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	return &Issuer{cost: cost}
}

// Issue generates a token for userID and returns it with its credential.
func (i *Issuer) Issue(userID string, now time.Time) (token string, cred *Credential, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), i.cost)
	if err != nil {
		return "", nil, err
	}
	return FormatBearer(userID, secret), &Credential{UserID: userID, TokenHash: string(hash), CreatedAt: now}, nil
}

// Verify checks a token's secret against a stored credential.
func (i *Issuer) Verify(cred *Credential, secret string) error {
	if cred == nil || secret == "" {
		return shared.ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.TokenHash), []byte(secret)); err != nil {
		return shared.ErrInvalidCredential
	}
	return nil
}

// FormatBearer joins a user id and secret into the bearer token format
// "<userId>.<secret>".
func FormatBearer(userID, secret string) string {
	return userID + "." + secret
}

// ParseBearer splits a bearer token. User ids never contain a dot.
func ParseBearer(token string) (userID, secret string, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", shared.ErrMissingIdentity
	}
	userID, secret, ok := strings.Cut(token, ".")
	if !ok || userID == "" || secret == "" {
		return "", "", shared.ErrInvalidCredential
	}
	return userID, secret, nil
}

// Authenticator resolves bearer tokens to user ids.
type Authenticator struct {
	store  CredentialStore
	issuer *Issuer
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(store CredentialStore, issuer *Issuer) *Authenticator {
	return &Authenticator{store: store, issuer: issuer}
}

// Authenticate returns the user id a token belongs to. Every failure is a
// NotLoggedIn error except store outages.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (string, error) {
	userID, secret, err := ParseBearer(token)
	if err != nil {
		return "", err
	}
	cred, err := a.store.GetCredential(ctx, userID)
	if err != nil {
		return "", shared.Persistence("user", "Authenticate", err)
	}
	if err := a.issuer.Verify(cred, secret); err != nil {
		return "", err
	}
	return userID, nil
}

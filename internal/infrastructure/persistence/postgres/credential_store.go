package postgres

import (
	"context"
	"fmt"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/account"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// CredentialStore implements account.CredentialStore.
type CredentialStore struct {
	conn *Connection
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(conn *Connection) *CredentialStore {
	return &CredentialStore{conn: conn}
}

var _ account.CredentialStore = (*CredentialStore)(nil)

// SaveCredential implements account.CredentialStore.
func (s *CredentialStore) SaveCredential(ctx context.Context, c *account.Credential) error {
	q, err := s.conn.Querier()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO credentials (user_id, token_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET token_hash = EXCLUDED.token_hash, created_at = EXCLUDED.created_at`,
		c.UserID, c.TokenHash, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// GetCredential implements account.CredentialStore.
func (s *CredentialStore) GetCredential(ctx context.Context, userID string) (*account.Credential, error) {
	q, err := s.conn.Querier()
	if err != nil {
		return nil, err
	}
	var c account.Credential
	err = q.QueryRow(ctx, "SELECT user_id, token_hash, created_at FROM credentials WHERE user_id = $1", userID).
		Scan(&c.UserID, &c.TokenHash, &c.CreatedAt)
	if IsNoRows(err) {
		return nil, shared.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

// DeleteCredential implements account.CredentialStore.
func (s *CredentialStore) DeleteCredential(ctx context.Context, userID string) error {
	q, err := s.conn.Querier()
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, "DELETE FROM credentials WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SettlementGuard marks (session, user) pairs with SETNX so a settlement is
// applied at most once across every server instance.
type SettlementGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSettlementGuard creates a guard. ttl <= 0 uses TTLSettlementGuard.
func NewSettlementGuard(client *redis.Client, ttl time.Duration) *SettlementGuard {
	if ttl <= 0 {
		ttl = TTLSettlementGuard
	}
	return &SettlementGuard{client: client, ttl: ttl}
}

func settlementKey(sessionID, userID string) string {
	return PrefixSettlement + sessionID + ":" + userID
}

// Acquire returns false when the pair is already held.
func (g *SettlementGuard) Acquire(ctx context.Context, sessionID, userID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, settlementKey(sessionID, userID), time.Now().UTC().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("settlement guard acquire: %w", err)
	}
	return ok, nil
}

// Release frees the pair after a failed settlement.
func (g *SettlementGuard) Release(ctx context.Context, sessionID, userID string) error {
	if err := g.client.Del(ctx, settlementKey(sessionID, userID)).Err(); err != nil {
		return fmt.Errorf("settlement guard release: %w", err)
	}
	return nil
}

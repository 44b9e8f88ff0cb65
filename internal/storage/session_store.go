package storage

import (
	"context"
	"fmt"
	"time"
)

// SessionStore records revoked session token ids until they would have expired anyway
type SessionStore struct {
	redis *RedisCache
}

// NewSessionStore creates a session store
func NewSessionStore(redis *RedisCache) *SessionStore {
	return &SessionStore{redis: redis}
}

func revokedKey(tokenID string) string {
	return "session:revoked:" + tokenID
}

// Revoke marks tokenID as revoked until expiresAt. Tokens already past expiry are ignored.
func (s *SessionStore) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, revokedKey(tokenID), "1", ttl); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID was revoked
func (s *SessionStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	revoked, err := s.redis.Exists(ctx, revokedKey(tokenID))
	if err != nil {
		return false, fmt.Errorf("failed to check session revocation: %w", err)
	}
	return revoked, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another submission holds the lock
var ErrLockHeld = errors.New("operation already in progress")

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// BusyLocks guards submit actions against double submission across processes
type BusyLocks struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewBusyLocks creates a lock manager. ttl bounds how long a crashed holder blocks others.
func NewBusyLocks(redis *RedisCache, ttl time.Duration) *BusyLocks {
	return &BusyLocks{redis: redis, ttl: ttl}
}

// Acquire takes the lock for (scope, owner). The returned release func is safe to call once the work is done,
// whatever its outcome.
func (l *BusyLocks) Acquire(ctx context.Context, scope, owner string) (func(), error) {
	key := fmt.Sprintf("busy:%s:%s", scope, owner)
	token := uuid.New().String()

	ok, err := l.redis.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// detached from the request so a cancelled client still frees the lock
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.redis.Client(), []string{key}, token).Err()
	}
	return release, nil
}

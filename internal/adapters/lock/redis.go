package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"bewo-chat/internal/core/ports"
)

var _ ports.ConversationLocker = (*RedisLocker)(nil)

const (
	// DefaultLockExpiry must outlive the slowest turn (two LLM attempts plus writes)
	DefaultLockExpiry = 60 * time.Second
	lockRetryDelay    = 100 * time.Millisecond
	lockTries         = 300
)

// RedisLocker serializes a conversation across replicas with a redsync mutex
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedisLocker(client *redis.Client, expiry time.Duration) *RedisLocker {
	if expiry <= 0 {
		expiry = DefaultLockExpiry
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex("lock:"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(lockTries),
		redsync.WithRetryDelay(lockRetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}

	return func() {
		// The caller's ctx may already be cancelled; unlocking must still happen
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			slog.Error("Failed to unlock conversation mutex", "error", err, "key", key)
		}
	}, nil
}

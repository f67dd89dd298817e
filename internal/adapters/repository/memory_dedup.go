package repository

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"bewo-chat/internal/core/ports"
)

var _ ports.DedupRepository = (*MemoryDedup)(nil)

// DefaultDedupCapacity bounds the in-process claim set
const DefaultDedupCapacity = 100_000

// MemoryDedup is the single-instance fallback when no Redis is configured.
// Oldest claims are evicted first once the capacity is reached; the
// store's unique external message id still rejects anything evicted early.
type MemoryDedup struct {
	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

func NewMemoryDedup(capacity int) (*MemoryDedup, error) {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryDedup{cache: cache, now: time.Now}, nil
}

func (m *MemoryDedup) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if v, ok := m.cache.Get(key); ok {
		// zero expiry never lapses
		if expires := v.(time.Time); expires.IsZero() || now.Before(expires) {
			return false, nil
		}
	}
	expires := now.Add(ttl)
	if ttl <= 0 {
		expires = time.Time{}
	}
	m.cache.Add(key, expires)
	return true, nil
}

func (m *MemoryDedup) Release(_ context.Context, key string) error {
	m.mu.Lock()
	m.cache.Remove(key)
	m.mu.Unlock()
	return nil
}

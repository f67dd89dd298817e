package repository

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

var _ ports.ScenarioStore = (*CachedScenarioStore)(nil)

const DefaultScenarioCacheTTL = 5 * time.Second

// CachedScenarioStore keeps the active rule set in memory for at most ttl.
// Concurrent misses share one backend read. Writes through this store
// invalidate immediately; writes from other processes show up within ttl.
type CachedScenarioStore struct {
	next ports.ScenarioStore
	ttl  time.Duration
	now  func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	active   []domain.Scenario
	loaded   bool
	loadedAt time.Time
	// bumped on every write so an in-flight load cannot repopulate stale data
	generation uint64
}

func NewCachedScenarioStore(next ports.ScenarioStore, ttl time.Duration) *CachedScenarioStore {
	if ttl <= 0 {
		ttl = DefaultScenarioCacheTTL
	}
	return &CachedScenarioStore{next: next, ttl: ttl, now: time.Now}
}

func (c *CachedScenarioStore) ListActiveScenarios(ctx context.Context) ([]domain.Scenario, error) {
	c.mu.RLock()
	if c.loaded && c.now().Sub(c.loadedAt) < c.ttl {
		list := c.active
		c.mu.RUnlock()
		return copyScenarios(list), nil
	}
	gen := c.generation
	c.mu.RUnlock()

	v, err, _ := c.group.Do("active", func() (any, error) {
		list, err := c.next.ListActiveScenarios(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.active = list
			c.loaded = true
			c.loadedAt = c.now()
		}
		c.mu.Unlock()
		slog.Debug("Scenario cache refreshed", "count", len(list))
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return copyScenarios(v.([]domain.Scenario)), nil
}

func (c *CachedScenarioStore) ListScenarios(ctx context.Context) ([]domain.Scenario, error) {
	return c.next.ListScenarios(ctx)
}

func (c *CachedScenarioStore) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	return c.next.GetScenario(ctx, id)
}

func (c *CachedScenarioStore) UpsertScenario(ctx context.Context, sc *domain.Scenario) error {
	defer c.Invalidate()
	return c.next.UpsertScenario(ctx, sc)
}

func (c *CachedScenarioStore) DeleteScenario(ctx context.Context, id string) error {
	defer c.Invalidate()
	return c.next.DeleteScenario(ctx, id)
}

// Invalidate drops the cached rule set
func (c *CachedScenarioStore) Invalidate() {
	c.mu.Lock()
	c.active = nil
	c.loaded = false
	c.generation++
	c.mu.Unlock()
	c.group.Forget("active")
}

func copyScenarios(list []domain.Scenario) []domain.Scenario {
	out := make([]domain.Scenario, len(list))
	for i, sc := range list {
		out[i] = cloneScenario(sc)
	}
	return out
}

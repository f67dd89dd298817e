package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bewo-chat/internal/core/domain"
)

// countingStore counts backend reads of the active set
type countingStore struct {
	*MemoryStore
	reads atomic.Int32
	fail  atomic.Bool
}

func (c *countingStore) ListActiveScenarios(ctx context.Context) ([]domain.Scenario, error) {
	c.reads.Add(1)
	if c.fail.Load() {
		return nil, errors.New("db down")
	}
	return c.MemoryStore.ListActiveScenarios(ctx)
}

func newCachedFixture(t *testing.T) (*CachedScenarioStore, *countingStore, *time.Time) {
	t.Helper()
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	sc := domain.Scenario{ID: "sc-1", Name: "price", TriggerKeywords: []string{"gia"}, Response: domain.TemplateResponse{Template: "t"}, IsActive: true}
	require.NoError(t, backend.UpsertScenario(context.Background(), &sc))

	now := time.Now()
	cache := NewCachedScenarioStore(backend, 5*time.Second)
	cache.now = func() time.Time { return now }
	return cache, backend, &now
}

func TestCachedScenarioStore_ServesWithinTTL(t *testing.T) {
	cache, backend, now := newCachedFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		list, err := cache.ListActiveScenarios(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
	}
	assert.Equal(t, int32(1), backend.reads.Load())

	*now = now.Add(6 * time.Second)
	_, err := cache.ListActiveScenarios(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.reads.Load(), "expired cache re-reads")
}

func TestCachedScenarioStore_WritesInvalidate(t *testing.T) {
	cache, backend, _ := newCachedFixture(t)
	ctx := context.Background()

	_, err := cache.ListActiveScenarios(ctx)
	require.NoError(t, err)

	sc := domain.Scenario{ID: "sc-2", Name: "ship", TriggerKeywords: []string{"ship"}, Response: domain.TemplateResponse{Template: "t"}, IsActive: true}
	require.NoError(t, cache.UpsertScenario(ctx, &sc))

	list, err := cache.ListActiveScenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, cache.DeleteScenario(ctx, "sc-1"))
	list, err = cache.ListActiveScenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, int32(3), backend.reads.Load())
}

func TestCachedScenarioStore_ReturnsCopies(t *testing.T) {
	cache, _, _ := newCachedFixture(t)
	ctx := context.Background()

	list, err := cache.ListActiveScenarios(ctx)
	require.NoError(t, err)
	list[0].TriggerKeywords[0] = "mutated"

	again, err := cache.ListActiveScenarios(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gia"}, again[0].TriggerKeywords)
}

func TestCachedScenarioStore_ErrorsAreNotCached(t *testing.T) {
	cache, backend, _ := newCachedFixture(t)
	ctx := context.Background()

	backend.fail.Store(true)
	_, err := cache.ListActiveScenarios(ctx)
	assert.Error(t, err)

	backend.fail.Store(false)
	list, err := cache.ListActiveScenarios(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCachedScenarioStore_EmptySetIsCached(t *testing.T) {
	backend := &countingStore{MemoryStore: NewMemoryStore()}
	cache := NewCachedScenarioStore(backend, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		list, err := cache.ListActiveScenarios(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	}
	assert.Equal(t, int32(1), backend.reads.Load())
}

func TestCachedScenarioStore_ConcurrentReaders(t *testing.T) {
	cache, _, _ := newCachedFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := cache.ListActiveScenarios(ctx)
			assert.NoError(t, err)
			assert.Len(t, list, 1)
		}()
	}
	wg.Wait()
}

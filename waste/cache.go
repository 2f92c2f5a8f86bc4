package waste

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ttlCache is a process-wide response cache whose entries expire purely by
// TTL. Each entry costs 1 against a budget far above the key space
// (neighborhoods x dataset groups), so cost-based eviction never triggers.
type ttlCache[V any] struct {
	cache *ristretto.Cache[string, V]
	ttl   time.Duration
}

// newTTLCache creates a cache. A non-positive ttl disables caching.
func newTTLCache[V any](ttl time.Duration) (*ttlCache[V], error) {
	if ttl <= 0 {
		return &ttlCache[V]{}, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        10_000,
		MaxCost:            1 << 20,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	return &ttlCache[V]{cache: c, ttl: ttl}, nil
}

// Get returns a live entry for key.
func (t *ttlCache[V]) Get(key string) (V, bool) {
	if t.cache == nil {
		var zero V
		return zero, false
	}
	return t.cache.Get(key)
}

// Set stores v under key and waits until it is visible to Get.
func (t *ttlCache[V]) Set(key string, v V) {
	if t.cache == nil {
		return
	}
	t.cache.SetWithTTL(key, v, 1, t.ttl)
	t.cache.Wait()
}

// Clear drops every entry.
func (t *ttlCache[V]) Clear() {
	if t.cache != nil {
		t.cache.Clear()
	}
}

// Close stops the cache's background goroutines.
func (t *ttlCache[V]) Close() {
	if t.cache != nil {
		t.cache.Close()
	}
}

// Package cache provides a generic read-through cache backed by an LRU store,
// with singleflight coalescing so a burst of concurrent misses for one key
// results in a single load.
package cache

import (
	"context"

	"github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// LoaderCache loads values on miss via a caller-supplied function. Keys are
// serialized to strings for both the LRU store and singleflight grouping, so
// composite keys (struct types) work as long as keyFn is stable.
type LoaderCache[K comparable, V any] struct {
	store *lru.Cache[string, V]
	group singleflight.Group
	keyFn func(K) string
}

// NewLoaderCache creates a loader cache holding at most maxEntries values.
func NewLoaderCache[K comparable, V any](maxEntries int, keyFn func(K) string) (*LoaderCache[K, V], error) {
	store, err := lru.New[string, V](maxEntries)
	if err != nil {
		return nil, err
	}

	return &LoaderCache[K, V]{store: store, keyFn: keyFn}, nil
}

// Get returns the cached value for key, or runs load and caches the result.
// The second return reports whether the value was served from cache. Only one
// goroutine runs load per key at a time; concurrent callers share its result.
func (c *LoaderCache[K, V]) Get(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, bool, error) {
	ks := c.keyFn(key)
	if v, ok := c.store.Get(ks); ok {
		return v, true, nil
	}

	val, err, _ := c.group.Do(ks, func() (any, error) {
		loaded, loadErr := load(ctx, key)
		if loadErr != nil {
			var zero V
			return zero, loadErr
		}

		c.store.Add(ks, loaded)

		return loaded, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}

	return val.(V), false, nil
}

// Invalidate removes the entry for key.
func (c *LoaderCache[K, V]) Invalidate(key K) {
	c.store.Remove(c.keyFn(key))
}

// InvalidateAll removes every entry.
func (c *LoaderCache[K, V]) InvalidateAll() {
	c.store.Purge()
}

// Len returns the number of cached entries.
func (c *LoaderCache[K, V]) Len() int {
	return c.store.Len()
}

// Package wcache implements the resolver's file-system cache (spec.md
// §4.8, §5 "Lifecycles"): a weak-reference-by-key cache so a file
// system opened for one lookup is reused by the next, but does not
// pin it in memory forever.
//
// Go has no public weak pointer before 1.24 (this module targets
// 1.21), so the cache substitutes explicit reference counting: each
// Get/Open returns a *Handle the caller must Release. A value is
// evicted from the map the moment its count reaches zero, mirroring
// "dropped when no strong reference remains" without relying on the
// garbage collector's timing.
package wcache

import "sync"

// Handle is a reference-counted entry. Value is the cached object;
// Release decrements the refcount and evicts the cache entry at zero.
type Handle[V any] struct {
	Value V

	cache *Cache[V]
	key   string
	mu    sync.Mutex
	count int
}

// Release decrements the handle's reference count, removing it from
// the cache once no holder remains.
func (h *Handle[V]) Release() {
	h.mu.Lock()
	h.count--
	dead := h.count <= 0
	h.mu.Unlock()
	if dead {
		h.cache.evict(h.key, h)
	}
}

func (h *Handle[V]) retain() *Handle[V] {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	return h
}

// Cache maps string keys to reference-counted values.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*Handle[V]
}

// New returns an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{entries: map[string]*Handle[V]{}}
}

// Get returns a retained handle to the live entry for key, or nil if
// none is cached.
func (c *Cache[V]) Get(key string) *Handle[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[key]
	if !ok {
		return nil
	}
	return h.retain()
}

// GetOrCreate returns the cached handle for key, or calls create,
// stores, and returns a freshly retained handle for it. create is
// called at most once per miss, under the cache lock's absence (not
// while holding it), so it may itself touch the cache for nested
// lookups.
func (c *Cache[V]) GetOrCreate(key string, create func() (V, error)) (*Handle[V], error) {
	if h := c.Get(key); h != nil {
		return h, nil
	}
	v, err := create()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if h, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return h.retain(), nil
	}
	h := &Handle[V]{Value: v, cache: c, key: key, count: 1}
	c.entries[key] = h
	c.mu.Unlock()
	return h, nil
}

func (c *Cache[V]) evict(key string, h *Handle[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[key] == h {
		delete(c.entries, key)
	}
}

package cache

import "sync"

// Cache defines a generic keyed cache
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache
	Get(key K) (V, bool)

	// Set stores a value in the cache
	Set(key K, value V)

	// Delete removes a key from the cache
	Delete(key K)

	// Clear drops every entry
	Clear()

	// Len returns the current number of items in the cache
	Len() int
}

// MapCache is a mutex-guarded map. Entries never expire; callers invalidate
// explicitly.
type MapCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

var _ Cache[int64, string] = (*MapCache[int64, string])(nil)

// NewMapCache creates an empty MapCache
func NewMapCache[K comparable, V any]() *MapCache[K, V] {
	return &MapCache[K, V]{items: make(map[K]V)}
}

func (c *MapCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *MapCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

func (c *MapCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *MapCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]V)
}

func (c *MapCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

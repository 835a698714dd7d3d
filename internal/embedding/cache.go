package embedding

import (
	"container/list"
	"context"
	"sync"
)

// DefaultCacheCapacity is the number of single-item results kept when none is configured.
const DefaultCacheCapacity = 1024

// ResultCache is an LRU cache of single-item embeddings keyed by (text, intent).
// The mutex covers lookup, insert and eviction only; compute never runs under it.
type ResultCache struct {
	capacity int
	items    map[cacheKey]*list.Element
	lru      *list.List
	mu       sync.Mutex

	hits      uint64
	misses    uint64
	evictions uint64
}

type cacheKey struct {
	text   string
	intent Intent
}

type cacheEntry struct {
	key   cacheKey
	value []float32
}

// CacheStats are cumulative counters since creation.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// ComputeFunc produces the vector for a cache miss.
type ComputeFunc func(ctx context.Context) ([]float32, error)

// NewResultCache creates a cache holding at most capacity entries.
// A non-positive capacity uses DefaultCacheCapacity.
func NewResultCache(capacity int) *ResultCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &ResultCache{
		capacity: capacity,
		items:    make(map[cacheKey]*list.Element),
		lru:      list.New(),
	}
}

// Get returns a copy of the cached vector and marks it most recently used.
func (c *ResultCache) Get(text string, intent Intent) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[cacheKey{text, intent}]; ok {
		c.lru.MoveToFront(elem)
		c.hits++
		return clone(elem.Value.(*cacheEntry).value), true
	}
	c.misses++
	return nil, false
}

// Set stores a copy of value, evicting the least recently used entry beyond capacity.
func (c *ResultCache) Set(text string, intent Intent, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{text, intent}
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = clone(value)
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: clone(value)})
	c.items[key] = elem

	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
		c.evictions++
	}
}

// GetOrCompute returns the cached vector for (text, intent), or runs compute, stores its
// result and returns it. hit reports whether compute was skipped. Errors are not cached.
// Concurrent misses for one key may each compute; the last write wins.
func (c *ResultCache) GetOrCompute(ctx context.Context, text string, intent Intent, compute ComputeFunc) (vec []float32, hit bool, err error) {
	if v, ok := c.Get(text, intent); ok {
		return v, true, nil
	}
	v, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	c.Set(text, intent, v)
	return clone(v), false, nil
}

// Len returns the number of entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the maximum number of entries.
func (c *ResultCache) Capacity() int {
	return c.capacity
}

// Stats returns cumulative hit, miss and eviction counts.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
}

func clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

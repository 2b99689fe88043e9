package cache

import (
	"container/list"
	"sync"

	"github.com/holeshot/tilecache/pkg/types"
)

// DefaultThreshold is the fraction of capacity a tier may fill before evicting
const DefaultThreshold = 0.9

// LRU is a thread-safe size-accounted LRU. Once the accounted size exceeds
// capacity*threshold, least-recently-used entries are evicted until it no longer does.
type LRU[V types.Sizer] struct {
	mu        sync.Mutex
	capacity  int64
	threshold float64
	used      int64
	items     map[string]*list.Element
	evictList *list.List

	onEvict func(key string, value V)

	stats types.CacheStats
}

// lruItem represents the value stored in the list element
type lruItem[V types.Sizer] struct {
	key   string
	value V
	size  int64
}

// NewLRU creates an LRU holding at most capacity*threshold bytes.
// A threshold outside (0, 1] falls back to DefaultThreshold.
func NewLRU[V types.Sizer](capacity int64, threshold float64) *LRU[V] {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &LRU[V]{
		capacity:  capacity,
		threshold: threshold,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		stats:     types.CacheStats{Capacity: capacity},
	}
}

// OnEvict registers a callback invoked, under the cache lock, for every evicted entry
func (c *LRU[V]) OnEvict(fn func(key string, value V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get returns the value for key and marks it most recently used
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.evictList.MoveToFront(elem)
	c.stats.Hits++
	return elem.Value.(*lruItem[V]).value, true
}

// Peek returns the value for key without touching recency or stats
func (c *LRU[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		return elem.Value.(*lruItem[V]).value, true
	}
	var zero V
	return zero, false
}

// Put stores value under key. It returns false when the value alone is larger
// than the eviction threshold and was therefore not admitted.
func (c *LRU[V]) Put(key string, value V) bool {
	size := value.SizeInBytes()

	c.mu.Lock()
	defer c.mu.Unlock()

	if float64(size) > c.limit() {
		c.removeElement(c.items[key], false)
		return false
	}

	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*lruItem[V])
		c.used += size - item.size
		item.value = value
		item.size = size
		c.evictList.MoveToFront(elem)
	} else {
		c.items[key] = c.evictList.PushFront(&lruItem[V]{key: key, value: value, size: size})
		c.used += size
	}

	c.evictIfNeeded()
	return true
}

// Remove deletes key. It reports whether the key was present.
func (c *LRU[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if ok {
		c.removeElement(elem, false)
	}
	return ok
}

// Len returns the number of entries
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// MemoryUsed returns the accounted size of all entries
func (c *LRU[V]) MemoryUsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Capacity returns the configured capacity in bytes
func (c *LRU[V]) Capacity() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Threshold returns the eviction threshold as a fraction of capacity
func (c *LRU[V]) Threshold() float64 {
	return c.threshold
}

// Stats returns cache statistics
func (c *LRU[V]) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.used
	stats.Entries = len(c.items)
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if c.capacity > 0 {
		stats.Utilization = float64(c.used) / float64(c.capacity)
	}
	return stats
}

// Clear drops every entry
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Evictions += uint64(len(c.items))
	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.used = 0
}

// Helper methods

func (c *LRU[V]) limit() float64 {
	return float64(c.capacity) * c.threshold
}

func (c *LRU[V]) evictIfNeeded() {
	for float64(c.used) > c.limit() && c.evictList.Len() > 0 {
		c.removeElement(c.evictList.Back(), true)
	}
}

func (c *LRU[V]) removeElement(elem *list.Element, evicted bool) {
	if elem == nil {
		return
	}
	item := elem.Value.(*lruItem[V])
	c.evictList.Remove(elem)
	delete(c.items, item.key)
	c.used -= item.size
	if evicted {
		c.stats.Evictions++
		if c.onEvict != nil {
			c.onEvict(item.key, item.value)
		}
	}
}

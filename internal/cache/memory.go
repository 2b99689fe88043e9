package cache

import (
	"context"
	"log/slog"

	"github.com/holeshot/tilecache/pkg/types"
)

// MemoryTier is the in-process tier: an exact LRU over tile entries.
// Entries returned by Get are shared with the tier and must be treated as read-only.
type MemoryTier struct {
	name   string
	lru    *LRU[*types.CacheEntry]
	logger *slog.Logger
}

// NewMemoryTier creates a memory tier that evicts once capacity*threshold bytes are in use
func NewMemoryTier(name string, capacity int64, threshold float64, logger *slog.Logger) *MemoryTier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryTier{
		name:   name,
		lru:    NewLRU[*types.CacheEntry](capacity, threshold),
		logger: logger.With("component", "cache", "tier", name),
	}
}

// Name implements types.TierCache
func (m *MemoryTier) Name() string { return m.name }

// Get implements types.TierCache
func (m *MemoryTier) Get(_ context.Context, key string) (*types.CacheEntry, bool, error) {
	entry, ok := m.lru.Get(key)
	return entry, ok, nil
}

// Put implements types.TierCache. Entries larger than the eviction threshold are skipped.
func (m *MemoryTier) Put(_ context.Context, key string, entry *types.CacheEntry) error {
	if !m.lru.Put(key, entry) {
		m.logger.Debug("entry larger than tier threshold, not cached",
			"key", key, "size", entry.SizeInBytes())
	}
	return nil
}

// Evict implements types.TierCache
func (m *MemoryTier) Evict(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// MemoryUsed implements types.TierCache
func (m *MemoryTier) MemoryUsed() int64 { return m.lru.MemoryUsed() }

// Capacity implements types.TierCache
func (m *MemoryTier) Capacity() int64 { return m.lru.Capacity() }

// Threshold implements types.TierCache
func (m *MemoryTier) Threshold() float64 { return m.lru.Threshold() }

// Stats implements types.TierCache
func (m *MemoryTier) Stats() types.CacheStats { return m.lru.Stats() }

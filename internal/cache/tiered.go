package cache

import (
	"context"
	"log/slog"
	"sync"

	tileerrors "github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

// Write policies for TieredCache.Put
const (
	// PolicyInclusive writes every entry to all enabled tiers
	PolicyInclusive = "inclusive"
	// PolicyFront writes only to the fastest enabled tier; slower tiers fill by other writers
	PolicyFront = "front"
)

// TieredCache queries tiers fastest first and promotes hits toward the front
type TieredCache struct {
	mu      sync.RWMutex
	statsMu sync.Mutex
	levels  []CacheLevel
	policy  string
	logger  *slog.Logger
	metrics types.MetricsRecorder
	stats   TieredStats
}

// CacheLevel represents a single level in the cache hierarchy
type CacheLevel struct {
	Name    string
	Cache   types.TierCache
	Enabled bool
}

// TieredStats tracks tiered cache statistics
type TieredStats struct {
	TotalHits   uint64                      `json:"total_hits"`
	TotalMisses uint64                      `json:"total_misses"`
	Promotions  uint64                      `json:"promotions"`
	TierErrors  uint64                      `json:"tier_errors"`
	HitRatio    float64                     `json:"hit_ratio"`
	LevelHits   map[string]uint64           `json:"level_hits"`
	LevelStats  map[string]types.CacheStats `json:"level_stats,omitempty"`
}

// TieredOption configures a TieredCache
type TieredOption func(*TieredCache)

// WithPolicy selects the write policy
func WithPolicy(policy string) TieredOption {
	return func(c *TieredCache) { c.policy = policy }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) TieredOption {
	return func(c *TieredCache) { c.logger = logger }
}

// WithMetrics reports per-tier hits and misses
func WithMetrics(m types.MetricsRecorder) TieredOption {
	return func(c *TieredCache) { c.metrics = m }
}

// NewTieredCache composes tiers in the given fast-to-slow order
func NewTieredCache(tiers []types.TierCache, opts ...TieredOption) *TieredCache {
	c := &TieredCache{
		policy: PolicyInclusive,
		logger: slog.Default(),
		stats:  TieredStats{LevelHits: make(map[string]uint64)},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "tiered-cache")

	c.levels = make([]CacheLevel, 0, len(tiers))
	for _, tier := range tiers {
		c.levels = append(c.levels, CacheLevel{Name: tier.Name(), Cache: tier, Enabled: true})
	}
	return c
}

// Get returns the entry from the fastest tier holding key. A hit in a slower
// tier is copied into every faster tier before returning. Tier failures count as misses.
func (c *TieredCache) Get(ctx context.Context, key string) (*types.CacheEntry, bool) {
	levels := c.enabledLevels()

	for i, level := range levels {
		entry, ok, err := level.Cache.Get(ctx, key)
		if err != nil {
			c.recordTierError(level.Name)
			c.logger.Warn("cache tier lookup failed, treating as miss",
				"tier", level.Name, "key", key, "error", err)
			continue
		}
		if !ok {
			if c.metrics != nil {
				c.metrics.RecordCacheMiss(level.Name)
			}
			continue
		}

		c.recordHit(level.Name)
		if i > 0 {
			c.promoteToHigherLevels(ctx, levels[:i], key, entry)
		}
		return entry, true
	}

	c.recordMiss()
	return nil, false
}

// Put stores entry according to the write policy. Tier failures are logged, not returned.
func (c *TieredCache) Put(ctx context.Context, key string, entry *types.CacheEntry) {
	levels := c.enabledLevels()
	if len(levels) == 0 {
		return
	}
	if c.policy == PolicyFront {
		levels = levels[:1]
	}

	for i, level := range levels {
		value := entry
		if i > 0 {
			value = entry.Clone()
		}
		if err := level.Cache.Put(ctx, key, value); err != nil {
			c.recordTierError(level.Name)
			c.logger.Warn("cache tier write failed", "tier", level.Name, "key", key, "error", err)
		}
		c.reportSize(level)
	}
}

// Evict removes key from every tier
func (c *TieredCache) Evict(ctx context.Context, key string) {
	for _, level := range c.enabledLevels() {
		if err := level.Cache.Evict(ctx, key); err != nil {
			c.recordTierError(level.Name)
			c.logger.Warn("cache tier evict failed", "tier", level.Name, "key", key, "error", err)
		}
	}
}

// Stats returns hit statistics plus the statistics of every enabled tier
func (c *TieredCache) Stats() TieredStats {
	levels := c.enabledLevels()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	stats := c.stats
	stats.LevelHits = make(map[string]uint64, len(c.stats.LevelHits))
	for k, v := range c.stats.LevelHits {
		stats.LevelHits[k] = v
	}
	stats.LevelStats = make(map[string]types.CacheStats, len(levels))
	for _, level := range levels {
		stats.LevelStats[level.Name] = level.Cache.Stats()
	}
	return stats
}

// Levels returns the tier names in lookup order
func (c *TieredCache) Levels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.levels))
	for _, level := range c.levels {
		names = append(names, level.Name)
	}
	return names
}

// TierState reports whether a tier takes part in lookups and writes
type TierState struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// States returns every tier in lookup order
func (c *TieredCache) States() []TierState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := make([]TierState, 0, len(c.levels))
	for _, level := range c.levels {
		states = append(states, TierState{Name: level.Name, Enabled: level.Enabled})
	}
	return states
}

// EnableLevel puts a disabled tier back into service
func (c *TieredCache) EnableLevel(levelName string) error {
	return c.setEnabled(levelName, true)
}

// DisableLevel takes a tier out of lookups and writes. Its contents stay
// in place and are served again once the tier is enabled.
func (c *TieredCache) DisableLevel(levelName string) error {
	return c.setEnabled(levelName, false)
}

// Helper methods

func (c *TieredCache) setEnabled(levelName string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.levels {
		if c.levels[i].Name != levelName {
			continue
		}
		if c.levels[i].Enabled != enabled {
			c.levels[i].Enabled = enabled
			c.logger.Info("cache tier switched", "tier", levelName, "enabled", enabled)
		}
		return nil
	}
	return tileerrors.Newf(tileerrors.ErrCodeObjectNotFound, "cache tier %s not found", levelName).
		WithComponent("tiered-cache")
}

func (c *TieredCache) enabledLevels() []CacheLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	levels := make([]CacheLevel, 0, len(c.levels))
	for _, level := range c.levels {
		if level.Enabled {
			levels = append(levels, level)
		}
	}
	return levels
}

func (c *TieredCache) promoteToHigherLevels(ctx context.Context, levels []CacheLevel, key string, entry *types.CacheEntry) {
	for _, level := range levels {
		if err := level.Cache.Put(ctx, key, entry.Clone()); err != nil {
			c.recordTierError(level.Name)
			c.logger.Warn("cache promotion failed", "tier", level.Name, "key", key, "error", err)
			continue
		}
		c.reportSize(level)
	}

	c.statsMu.Lock()
	c.stats.Promotions++
	c.statsMu.Unlock()
}

func (c *TieredCache) reportSize(level CacheLevel) {
	if c.metrics != nil {
		c.metrics.UpdateCacheSize(level.Name, level.Cache.MemoryUsed())
	}
}

func (c *TieredCache) recordHit(levelName string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(levelName)
	}
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.TotalHits++
	c.stats.LevelHits[levelName]++
	c.updateHitRatioUnsafe()
}

func (c *TieredCache) recordMiss() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.TotalMisses++
	c.updateHitRatioUnsafe()
}

func (c *TieredCache) recordTierError(levelName string) {
	if c.metrics != nil {
		c.metrics.RecordCacheError(levelName)
	}
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.TierErrors++
}

func (c *TieredCache) updateHitRatioUnsafe() {
	total := c.stats.TotalHits + c.stats.TotalMisses
	if total > 0 {
		c.stats.HitRatio = float64(c.stats.TotalHits) / float64(total)
	}
}

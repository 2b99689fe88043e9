/*
Package cache provides the tiered tile cache.

Tiers are queried fastest first. A hit in a slower tier is copied into every faster
tier so the next lookup for the same key stops at the front:

	┌──────────────────────────────┐
	│        TieredCache           │
	└──────────────────────────────┘
	               │
	┌──────────────────────────────┐
	│  memory   (MemoryTier)       │  exact LRU, in process
	├──────────────────────────────┤
	│  disk     (PersistentTier)   │  Badger, survives restarts
	├──────────────────────────────┤
	│  nats     (NATSTier)         │  JetStream KV, shared by replicas
	└──────────────────────────────┘
	               │ miss
	        object storage

# Eviction

MemoryTier and PersistentTier account every entry through types.Sizer. When the
accounted size exceeds capacity*threshold the least recently used entries are
evicted until it no longer does. An entry larger than the threshold on its own is
not admitted. The NATS tier leaves eviction to the server (bucket TTL and MaxBytes).

# Failure Handling

Network tiers are wrapped in a GuardedTier. Its circuit breaker stops calls to an
unreachable tier, and every failure is reported as a miss so a broken tier never
fails a tile request.

# Usage

	memory := cache.NewMemoryTier("memory", 512<<20, 0.9, logger)
	shared, _ := cache.NewNATSTier(ctx, cache.NATSConfig{URL: url, Bucket: "tiles"}, logger)
	tiers := []types.TierCache{
		memory,
		cache.NewGuardedTier(shared, breakers.GetBreaker("cache.nats"), tracker, logger),
	}
	tc := cache.NewTieredCache(tiers, cache.WithLogger(logger), cache.WithMetrics(collector))

	if entry, ok := tc.Get(ctx, coord.Key()); ok {
		return entry.Payload
	}
*/
package cache

/*
Package adapter assembles the tile cache service from its configuration.

The Adapter owns the lifecycle of every component: the origin object store and
its recovery guard, the cache tiers, the pyramid index table, the buffer pool,
the tile resolver and the HTTP server.

# Architecture Role

	┌─────────────────────────────────────────────┐
	│          Tile clients (HTTP GET)            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              api.Server (chi)               │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│             resolver.Resolver               │ ← wired here
	└─────────────────────────────────────────────┘
	        │               │               │
	┌───────┴──────┐ ┌──────┴──────┐ ┌──────┴──────┐
	│ TieredCache  │ │ IndexTable  │ │ buffer.Pool │
	│ mem/disk/nats│ │ (mrf index) │ │             │
	└──────────────┘ └──────┬──────┘ └─────────────┘
	                        │
	┌─────────────────────────────────────────────┐
	│   recovery.Store (retry + circuit breaker)  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   Origin: s3 | minio | local | memory       │
	└─────────────────────────────────────────────┘

# Cache Tiers

The memory tier is always present. A Badger tier is added when
cache.persistent.enabled is set and a NATS JetStream key-value tier when
cache.distributed.enabled is set. Both optional tiers sit behind their own
circuit breaker, so a failing tier degrades to misses instead of failing
requests.

# Lifecycle

	a, err := adapter.New(ctx, cfg, adapter.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(shutdownCtx)

New performs no network listening; origin and tier connections that the
backends open eagerly are closed again if a later step fails. Start binds the
server address and, when enabled, runs periodic health checks against the
origin and the tiers that support them.
*/
package adapter

package cache

import (
	"context"
	"log/slog"

	"github.com/holeshot/tilecache/internal/circuit"
	"github.com/holeshot/tilecache/pkg/types"
)

// GuardedTier wraps a tier that talks to the network. Every call goes through a
// circuit breaker and any failure, including a rejection by an open breaker,
// degrades to a miss (Get) or a no-op (Put, Evict).
type GuardedTier struct {
	inner   types.TierCache
	breaker *circuit.CircuitBreaker
	health  types.HealthReporter
	logger  *slog.Logger
}

// NewGuardedTier guards inner with breaker. health may be nil.
func NewGuardedTier(inner types.TierCache, breaker *circuit.CircuitBreaker, health types.HealthReporter, logger *slog.Logger) *GuardedTier {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedTier{
		inner:   inner,
		breaker: breaker,
		health:  health,
		logger:  logger.With("component", "cache", "tier", inner.Name(), "guarded", true),
	}
}

// HealthComponent is the name under which the tier reports health
func (g *GuardedTier) HealthComponent() string {
	return "cache." + g.inner.Name()
}

// Name implements types.TierCache
func (g *GuardedTier) Name() string { return g.inner.Name() }

type lookup struct {
	entry *types.CacheEntry
	ok    bool
}

// Get implements types.TierCache and never returns an error
func (g *GuardedTier) Get(ctx context.Context, key string) (*types.CacheEntry, bool, error) {
	res, err := circuit.Call(g.breaker, func() (lookup, error) {
		entry, ok, err := g.inner.Get(ctx, key)
		return lookup{entry: entry, ok: ok}, err
	})
	if err != nil {
		g.degrade("get", key, err)
		return nil, false, nil
	}
	g.succeed()
	return res.entry, res.ok, nil
}

// Put implements types.TierCache and never returns an error
func (g *GuardedTier) Put(ctx context.Context, key string, entry *types.CacheEntry) error {
	err := g.breaker.Execute(func() error {
		return g.inner.Put(ctx, key, entry)
	})
	if err != nil {
		g.degrade("put", key, err)
		return nil
	}
	g.succeed()
	return nil
}

// Evict implements types.TierCache and never returns an error
func (g *GuardedTier) Evict(ctx context.Context, key string) error {
	err := g.breaker.Execute(func() error {
		return g.inner.Evict(ctx, key)
	})
	if err != nil {
		g.degrade("evict", key, err)
	}
	return nil
}

// MemoryUsed implements types.TierCache
func (g *GuardedTier) MemoryUsed() int64 { return g.inner.MemoryUsed() }

// Capacity implements types.TierCache
func (g *GuardedTier) Capacity() int64 { return g.inner.Capacity() }

// Threshold implements types.TierCache
func (g *GuardedTier) Threshold() float64 { return g.inner.Threshold() }

// Stats implements types.TierCache
func (g *GuardedTier) Stats() types.CacheStats { return g.inner.Stats() }

// BreakerState returns the state of the guarding breaker
func (g *GuardedTier) BreakerState() circuit.State { return g.breaker.GetState() }

// Unwrap returns the guarded tier
func (g *GuardedTier) Unwrap() types.TierCache { return g.inner }

func (g *GuardedTier) degrade(op, key string, err error) {
	if circuit.IsRejected(err) {
		g.logger.Debug("cache tier skipped, breaker open", "op", op, "key", key)
	} else {
		g.logger.Warn("cache tier degraded to miss", "op", op, "key", key, "error", err)
	}
	if g.health != nil {
		g.health.RecordError(g.HealthComponent(), err)
	}
}

func (g *GuardedTier) succeed() {
	if g.health != nil {
		g.health.RecordSuccess(g.HealthComponent())
	}
}

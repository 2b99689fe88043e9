package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	tileerrors "github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

// NATSConfig configures the distributed tier
type NATSConfig struct {
	Name           string        `yaml:"name"`
	URL            string        `yaml:"url"`
	Bucket         string        `yaml:"bucket"`
	TTL            time.Duration `yaml:"ttl"`
	MaxBytes       int64         `yaml:"max_bytes"`
	Replicas       int           `yaml:"replicas"`
	MemoryStorage  bool          `yaml:"memory_storage"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// statusRefresh bounds how often MemoryUsed asks the server for bucket usage
const statusRefresh = time.Second

// NATSTier is the shared distributed tier backed by a JetStream key-value bucket.
// Values are the raw tile payload; keys are base64url encoded because tile keys
// may contain characters the KV key grammar rejects.
type NATSTier struct {
	name     string
	nc       *nats.Conn
	kv       jetstream.KeyValue
	maxBytes int64
	logger   *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	errs   atomic.Uint64

	statusMu    sync.Mutex
	used        int64
	entries     int
	lastRefresh time.Time
}

// NewNATSTier connects to NATS and opens (creating if needed) the configured bucket
func NewNATSTier(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATSTier, error) {
	if cfg.Name == "" {
		cfg.Name = "nats"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("tilecache"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, tileerrors.Wrap(tileerrors.ErrCodeCacheUnavailable, "connect to NATS", err).
			WithComponent("cache.nats").WithContext("url", cfg.URL)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "tile payload cache",
		History:     1,
		TTL:         cfg.TTL,
		MaxBytes:    cfg.MaxBytes,
		Storage:     storage,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		nc.Close()
		return nil, tileerrors.Wrap(tileerrors.ErrCodeCacheUnavailable, "open key-value bucket", err).
			WithComponent("cache.nats").WithContext("bucket", cfg.Bucket)
	}

	tier := NewNATSTierFromKV(cfg.Name, kv, cfg.MaxBytes, logger)
	tier.nc = nc
	return tier, nil
}

// NewNATSTierFromKV wraps an already opened bucket; the caller keeps ownership of the connection
func NewNATSTierFromKV(name string, kv jetstream.KeyValue, maxBytes int64, logger *slog.Logger) *NATSTier {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSTier{
		name:     name,
		kv:       kv,
		maxBytes: maxBytes,
		logger:   logger.With("component", "cache", "tier", name, "bucket", kv.Bucket()),
	}
}

// Name implements types.TierCache
func (n *NATSTier) Name() string { return n.name }

// Get implements types.TierCache
func (n *NATSTier) Get(ctx context.Context, key string) (*types.CacheEntry, bool, error) {
	kve, err := n.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			n.misses.Add(1)
			return nil, false, nil
		}
		n.errs.Add(1)
		return nil, false, n.wrap("get", key, err)
	}
	n.hits.Add(1)
	return types.NewCacheEntry(key, kve.Value()), true, nil
}

// Put implements types.TierCache
func (n *NATSTier) Put(ctx context.Context, key string, entry *types.CacheEntry) error {
	if _, err := n.kv.Put(ctx, encodeKey(key), entry.Payload); err != nil {
		n.errs.Add(1)
		return n.wrap("put", key, err)
	}
	return nil
}

// Evict implements types.TierCache
func (n *NATSTier) Evict(ctx context.Context, key string) error {
	if err := n.kv.Delete(ctx, encodeKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		n.errs.Add(1)
		return n.wrap("evict", key, err)
	}
	return nil
}

// MemoryUsed implements types.TierCache. The value is the bucket's stored bytes,
// refreshed from the server at most once per second.
func (n *NATSTier) MemoryUsed() int64 {
	n.refreshStatus()
	n.statusMu.Lock()
	defer n.statusMu.Unlock()
	return n.used
}

// Capacity implements types.TierCache
func (n *NATSTier) Capacity() int64 { return n.maxBytes }

// Threshold implements types.TierCache. The server enforces the bucket limit and TTL.
func (n *NATSTier) Threshold() float64 { return 1.0 }

// Stats implements types.TierCache
func (n *NATSTier) Stats() types.CacheStats {
	n.refreshStatus()

	stats := types.CacheStats{
		Hits:     n.hits.Load(),
		Misses:   n.misses.Load(),
		Errors:   n.errs.Load(),
		Capacity: n.maxBytes,
	}
	n.statusMu.Lock()
	stats.Size = n.used
	stats.Entries = n.entries
	n.statusMu.Unlock()

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	}
	return stats
}

// HealthCheck reports whether the connection is usable
func (n *NATSTier) HealthCheck(ctx context.Context) error {
	if n.nc != nil && !n.nc.IsConnected() {
		return tileerrors.NewError(tileerrors.ErrCodeCacheUnavailable, "NATS connection "+n.nc.Status().String()).
			WithComponent("cache.nats")
	}
	_, err := n.kv.Status(ctx)
	return err
}

// Close drains the connection if this tier owns it
func (n *NATSTier) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}

func (n *NATSTier) refreshStatus() {
	n.statusMu.Lock()
	if time.Since(n.lastRefresh) < statusRefresh {
		n.statusMu.Unlock()
		return
	}
	n.lastRefresh = time.Now()
	n.statusMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), statusRefresh)
	defer cancel()
	status, err := n.kv.Status(ctx)
	if err != nil {
		n.logger.Debug("bucket status unavailable", "error", err)
		return
	}

	n.statusMu.Lock()
	n.used = int64(status.Bytes())
	n.entries = int(status.Values())
	n.statusMu.Unlock()
}

func (n *NATSTier) wrap(op, key string, err error) error {
	return tileerrors.Wrap(tileerrors.ErrCodeCacheUnavailable, "distributed tier "+op+" failed", err).
		WithComponent("cache." + n.name).
		WithOperation(op).
		WithContext("key", key)
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

package mrf

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/holeshot/tilecache/internal/cache"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

// LoadRecorder receives the outcome of every index load
type LoadRecorder interface {
	RecordIndexLoad(result string, duration time.Duration)
}

// TableConfig configures an IndexTable
type TableConfig struct {
	// Capacity bounds the accounted size of cached indexes in bytes
	Capacity int64 `yaml:"capacity"`
	// LoadTimeout bounds one shared load, independent of the callers waiting on it
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

// IndexTable is the process-wide table of loaded indexes keyed by pyramid.
// Concurrent misses for the same pyramid share a single load; failed loads are
// never cached, so the next request retries.
type IndexTable struct {
	store   types.ObjectStore
	layout  Layout
	config  TableConfig
	indexes *cache.LRU[*IndexFile]
	group   singleflight.Group
	logger  *slog.Logger
	metrics LoadRecorder

	loads    atomic.Uint64
	failures atomic.Uint64
}

// TableStats describes the index table
type TableStats struct {
	Loads    uint64           `json:"loads"`
	Failures uint64           `json:"failures"`
	Cache    types.CacheStats `json:"cache"`
}

// NewIndexTable creates an empty table reading blobs from store
func NewIndexTable(store types.ObjectStore, layout Layout, config TableConfig, logger *slog.Logger, metrics LoadRecorder) *IndexTable {
	if config.Capacity <= 0 {
		config.Capacity = 256 << 20
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexTable{
		store:   store,
		layout:  layout,
		config:  config,
		indexes: cache.NewLRU[*IndexFile](config.Capacity, 1.0),
		logger:  logger.With("component", "index-table"),
		metrics: metrics,
	}
}

// Get returns the index of a pyramid, loading it on first reference
func (t *IndexTable) Get(ctx context.Context, pyramid types.PyramidKey) (*IndexFile, error) {
	key := pyramid.String()
	if f, ok := t.indexes.Get(key); ok {
		return f, nil
	}

	ch := t.group.DoChan(key, func() (interface{}, error) {
		// a caller that arrived after the previous load finished
		if f, ok := t.indexes.Peek(key); ok {
			return f, nil
		}

		// the load outlives any single waiter's cancellation
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.config.LoadTimeout)
		defer cancel()
		return t.load(lctx, pyramid)
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrCodeOperationTimeout, "waiting for index load", ctx.Err()).
			WithComponent("index-table").
			WithContext("pyramid", key)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*IndexFile), nil
	}
}

// Invalidate drops a cached index so the next Get reloads it
func (t *IndexTable) Invalidate(pyramid types.PyramidKey) {
	t.indexes.Remove(pyramid.String())
}

// Layout returns the blob layout used by the table
func (t *IndexTable) Layout() Layout { return t.layout }

// Len returns the number of cached indexes
func (t *IndexTable) Len() int { return t.indexes.Len() }

// Stats returns load counters and cache statistics
func (t *IndexTable) Stats() TableStats {
	return TableStats{
		Loads:    t.loads.Load(),
		Failures: t.failures.Load(),
		Cache:    t.indexes.Stats(),
	}
}

func (t *IndexTable) load(ctx context.Context, pyramid types.PyramidKey) (*IndexFile, error) {
	start := time.Now()
	t.loads.Add(1)

	f, err := Load(ctx, t.store, t.layout, pyramid)
	duration := time.Since(start)
	if err != nil {
		t.failures.Add(1)
		t.record(resultOf(err), duration)
		if errors.IsNotFound(err) {
			t.logger.Debug("pyramid not found", "pyramid", pyramid.String())
		} else {
			t.logger.Error("index load failed", "pyramid", pyramid.String(), "error", err, "duration", duration)
		}
		return nil, err
	}

	if !t.indexes.Put(pyramid.String(), f) {
		t.logger.Warn("index larger than table capacity, not cached",
			"pyramid", pyramid.String(), "size", f.SizeInBytes(), "capacity", t.config.Capacity)
	}
	t.record("success", duration)
	t.logger.Info("index loaded",
		"pyramid", pyramid.String(),
		"tiles", f.Geometry().NumTiles(),
		"populated", f.Populated(),
		"data_size", f.DataSize(),
		"duration", duration)
	return f, nil
}

func (t *IndexTable) record(result string, d time.Duration) {
	if t.metrics != nil {
		t.metrics.RecordIndexLoad(result, d)
	}
}

func resultOf(err error) string {
	switch {
	case errors.IsNotFound(err):
		return "not_found"
	case errors.IsCorruptIndex(err):
		return "corrupt"
	default:
		return "error"
	}
}

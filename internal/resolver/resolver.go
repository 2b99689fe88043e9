// Package resolver turns tile coordinates into tile bytes. Lookups go through
// the tiered cache first; misses resolve the tile's byte range from the
// pyramid index and read exactly that range from the object store.
package resolver

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/holeshot/tilecache/internal/buffer"
	"github.com/holeshot/tilecache/internal/mrf"
	"github.com/holeshot/tilecache/internal/rangeheader"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

const component = "resolver"

// TileCache is the cache the resolver reads through. Failures inside the
// cache are its own business; Get reports them as misses.
type TileCache interface {
	Get(ctx context.Context, key string) (*types.CacheEntry, bool)
	Put(ctx context.Context, key string, entry *types.CacheEntry)
}

// IndexSource returns the loaded index of a pyramid
type IndexSource interface {
	Get(ctx context.Context, pyramid types.PyramidKey) (*mrf.IndexFile, error)
}

// Config tunes the resolver
type Config struct {
	// FetchTimeout bounds one shared origin read, independent of the callers waiting on it
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// Tile is the outcome of a successful fetch
type Tile struct {
	Coordinate types.TileCoordinate
	// Data holds the requested bytes: the whole tile, or the requested range
	Data []byte
	// Size is the length of the whole tile
	Size int64
	// Range is the served range, nil when the whole tile was requested
	Range *types.ByteRange
	// Cached reports whether the tile came from the cache
	Cached bool
}

// Partial reports whether the tile holds a sub-range
func (t *Tile) Partial() bool { return t.Range != nil }

// Stats are resolver counters
type Stats struct {
	Requests    uint64 `json:"requests"`
	CacheHits   uint64 `json:"cache_hits"`
	OriginReads uint64 `json:"origin_reads"`
	OriginBytes uint64 `json:"origin_bytes"`
	Coalesced   uint64 `json:"coalesced"`
	NotFound    uint64 `json:"not_found"`
	Errors      uint64 `json:"errors"`
}

// Resolver implements tile lookups. It is safe for concurrent use.
type Resolver struct {
	cache   TileCache
	indexes IndexSource
	store   types.ObjectStore
	pool    *buffer.Pool
	config  Config
	logger  *slog.Logger
	group   singleflight.Group

	requests    atomic.Uint64
	cacheHits   atomic.Uint64
	originReads atomic.Uint64
	originBytes atomic.Uint64
	coalesced   atomic.Uint64
	notFound    atomic.Uint64
	errs        atomic.Uint64
}

// New creates a resolver. A nil pool reads into freshly allocated buffers.
func New(cache TileCache, indexes IndexSource, store types.ObjectStore, pool *buffer.Pool, config Config, logger *slog.Logger) *Resolver {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cache:   cache,
		indexes: indexes,
		store:   store,
		pool:    pool,
		config:  config,
		logger:  logger.With("component", component),
	}
}

// FetchTile returns the tile at coord. With a nil r the whole tile is
// returned; otherwise r must lie inside the tile. Tiles that were never
// written yield TILE_NOT_FOUND; storage failures keep their retryable codes.
func (r *Resolver) FetchTile(ctx context.Context, coord types.TileCoordinate, rng *types.ByteRange) (*Tile, error) {
	payload, cached, err := r.payload(ctx, coord)
	if err != nil {
		return nil, err
	}
	return r.slice(coord, payload, cached, rng)
}

// FetchTileRange is FetchTile for an unparsed Range header value. An empty
// header requests the whole tile. Open and suffix ranges are resolved against
// the tile size, so the tile is fetched before the range is checked.
func (r *Resolver) FetchTileRange(ctx context.Context, coord types.TileCoordinate, header string) (*Tile, error) {
	if header == "" {
		return r.FetchTile(ctx, coord, nil)
	}
	spec, err := rangeheader.ParseOne(header)
	if err != nil {
		return nil, err
	}

	payload, cached, err := r.payload(ctx, coord)
	if err != nil {
		return nil, err
	}
	br, err := spec.Resolve(int64(len(payload)))
	if err != nil {
		return nil, err
	}
	return r.slice(coord, payload, cached, &br)
}

// Stats returns a snapshot of the resolver counters
func (r *Resolver) Stats() Stats {
	return Stats{
		Requests:    r.requests.Load(),
		CacheHits:   r.cacheHits.Load(),
		OriginReads: r.originReads.Load(),
		OriginBytes: r.originBytes.Load(),
		Coalesced:   r.coalesced.Load(),
		NotFound:    r.notFound.Load(),
		Errors:      r.errs.Load(),
	}
}

func (r *Resolver) slice(coord types.TileCoordinate, payload []byte, cached bool, rng *types.ByteRange) (*Tile, error) {
	size := int64(len(payload))
	tile := &Tile{Coordinate: coord, Data: payload, Size: size, Cached: cached}
	if rng == nil {
		return tile, nil
	}
	if !rng.Within(size) {
		return nil, errors.Newf(errors.ErrCodeRangeNotSatisfiable, "range %s outside tile of %d bytes", rng, size).
			WithComponent(component).
			WithDetail("size", size)
	}
	sub := *rng
	tile.Data = payload[sub.Start : sub.End+1]
	tile.Range = &sub
	return tile, nil
}

// payload returns the whole tile, from the cache when possible
func (r *Resolver) payload(ctx context.Context, coord types.TileCoordinate) ([]byte, bool, error) {
	r.requests.Add(1)
	if !coord.Valid() {
		return nil, false, errors.NewError(errors.ErrCodeMalformedRequest, "invalid tile coordinate").
			WithComponent(component).
			WithContext("tile", coord.String())
	}

	key := coord.Key()
	if entry, ok := r.cache.Get(ctx, key); ok {
		r.cacheHits.Add(1)
		return entry.Payload, true, nil
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		// a caller that arrived after the previous fill finished
		if entry, ok := r.cache.Get(ctx, key); ok {
			return entry.Payload, nil
		}
		// the read outlives any single waiter's cancellation
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.FetchTimeout)
		defer cancel()
		return r.fill(fctx, coord, key)
	})

	select {
	case <-ctx.Done():
		r.errs.Add(1)
		return nil, false, errors.Wrap(errors.ErrCodeOperationTimeout, "waiting for tile", ctx.Err()).
			WithComponent(component).
			WithContext("tile", key)
	case res := <-ch:
		if res.Shared {
			r.coalesced.Add(1)
		}
		if res.Err != nil {
			r.classify(key, res.Err)
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	}
}

// fill reads a tile from the origin and stores it in the cache. Nothing is
// cached when any step fails.
func (r *Resolver) fill(ctx context.Context, coord types.TileCoordinate, key string) ([]byte, error) {
	index, err := r.indexes.Get(ctx, coord.Pyramid())
	if err != nil {
		return nil, err
	}
	br, err := index.Resolve(coord)
	if err != nil {
		return nil, err
	}

	payload, err := r.read(ctx, index.DataKey(), br)
	if err != nil {
		return nil, err
	}
	r.originReads.Add(1)
	r.originBytes.Add(uint64(len(payload)))

	r.cache.Put(ctx, key, types.NewCacheEntry(key, payload))
	return payload, nil
}

// read fetches exactly br from the data blob, staging through the buffer pool
func (r *Resolver) read(ctx context.Context, dataKey string, br types.ByteRange) ([]byte, error) {
	length := br.Length()
	rr, ok := r.store.(types.RangeReader)
	if r.pool == nil || !ok {
		return r.store.FetchRange(ctx, dataKey, br.Start, length)
	}

	var payload []byte
	err := r.pool.With(ctx, int(length), func(buf []byte) error {
		if err := rr.ReadRange(ctx, dataKey, br.Start, buf[:length]); err != nil {
			return err
		}
		payload = make([]byte, length)
		copy(payload, buf[:length])
		return nil
	})
	return payload, err
}

func (r *Resolver) classify(key string, err error) {
	switch {
	case errors.IsNotFound(err):
		r.notFound.Add(1)
		r.logger.Debug("tile not found", "tile", key, "error", err)
	case errors.IsMalformed(err):
		r.logger.Debug("tile request rejected", "tile", key, "error", err)
	case errors.IsCorruptIndex(err):
		r.errs.Add(1)
		r.logger.Error("corrupt index", "tile", key, "error", err)
	default:
		r.errs.Add(1)
		r.logger.Warn("tile fetch failed", "tile", key, "error", err)
	}
}

// Package batch pre-populates the tile cache by fetching every written tile
// of selected pyramid levels in bounded, concurrent batches.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/holeshot/tilecache/internal/mrf"
	"github.com/holeshot/tilecache/internal/resolver"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

// TileFetcher fetches one whole tile through the cache
type TileFetcher interface {
	FetchTile(ctx context.Context, coord types.TileCoordinate, rng *types.ByteRange) (*resolver.Tile, error)
}

// IndexSource returns the loaded index of a pyramid
type IndexSource interface {
	Get(ctx context.Context, pyramid types.PyramidKey) (*mrf.IndexFile, error)
}

// Config contains configuration for the warmer
type Config struct {
	MaxBatchSize   int `yaml:"max_batch_size"`  // tiles per batch
	MaxConcurrency int `yaml:"max_concurrency"` // concurrent fetches within a batch
	// StopOnError aborts at the first failed fetch instead of counting it
	StopOnError bool `yaml:"stop_on_error"`
}

// DefaultConfig returns the default warmer configuration
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:   256,
		MaxConcurrency: 8,
	}
}

// Stats tracks one warm run
type Stats struct {
	Tiles     int64         `json:"tiles"`
	Fetched   int64         `json:"fetched"`
	Cached    int64         `json:"cached"`
	NotFound  int64         `json:"not_found"`
	Errors    int64         `json:"errors"`
	Bytes     int64         `json:"bytes"`
	Batches   int64         `json:"batches"`
	Duration  time.Duration `json:"duration"`
	LastError string        `json:"last_error,omitempty"`
}

// Warmer fetches tiles so that later requests are served from the cache
type Warmer struct {
	tiles   TileFetcher
	indexes IndexSource
	config  Config
	logger  *slog.Logger

	// OnBatch, when set, observes the running totals after every batch
	OnBatch func(Stats)
}

// NewWarmer creates a new warmer
func NewWarmer(tiles TileFetcher, indexes IndexSource, config Config, logger *slog.Logger) *Warmer {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		tiles:   tiles,
		indexes: indexes,
		config:  config,
		logger:  logger.With("component", "warmer"),
	}
}

// Warm fetches every populated tile of the given levels, all levels when
// levels is empty. Unwritten tiles are never requested.
func (w *Warmer) Warm(ctx context.Context, pyramid types.PyramidKey, levels []int) (Stats, error) {
	return w.Run(ctx, pyramid, levels, w.OnBatch)
}

// Run is Warm with its own progress callback, for concurrent runs sharing a Warmer
func (w *Warmer) Run(ctx context.Context, pyramid types.PyramidKey, levels []int, progress func(Stats)) (Stats, error) {
	start := time.Now()
	idx, err := w.indexes.Get(ctx, pyramid)
	if err != nil {
		return Stats{}, err
	}

	coords, err := populated(idx, levels)
	if err != nil {
		return Stats{}, err
	}

	var (
		mu    sync.Mutex
		stats = Stats{Tiles: int64(len(coords))}
	)
	w.logger.Info("warming pyramid", "pyramid", pyramid.String(), "tiles", len(coords), "levels", levels)

	for begin := 0; begin < len(coords); begin += w.config.MaxBatchSize {
		end := min(begin+w.config.MaxBatchSize, len(coords))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.config.MaxConcurrency)
		for _, coord := range coords[begin:end] {
			g.Go(func() error {
				tile, err := w.tiles.FetchTile(gctx, coord, nil)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil && tile.Cached:
					stats.Cached++
				case err == nil:
					stats.Fetched++
					stats.Bytes += tile.Size
				case errors.IsNotFound(err):
					stats.NotFound++
				default:
					stats.Errors++
					stats.LastError = err.Error()
					w.logger.Warn("tile warm failed", "tile", coord.Key(), "error", err)
					if w.config.StopOnError {
						return err
					}
				}
				return nil
			})
		}
		err := g.Wait()

		mu.Lock()
		stats.Batches++
		stats.Duration = time.Since(start)
		snapshot := stats
		mu.Unlock()
		if progress != nil {
			progress(snapshot)
		}

		if err != nil {
			return snapshot, err
		}
		if err := ctx.Err(); err != nil {
			return snapshot, err
		}
	}

	stats.Duration = time.Since(start)
	w.logger.Info("pyramid warmed",
		"pyramid", pyramid.String(),
		"fetched", stats.Fetched,
		"cached", stats.Cached,
		"errors", stats.Errors,
		"duration", stats.Duration)
	return stats, nil
}

// populated lists the written tiles of levels in index order
func populated(idx *mrf.IndexFile, levels []int) ([]types.TileCoordinate, error) {
	g := idx.Geometry()
	if len(levels) == 0 {
		for l := range g.Levels {
			levels = append(levels, l)
		}
	}

	pyramid := idx.Pyramid()
	var coords []types.TileCoordinate
	for _, level := range levels {
		if level < 0 || level > g.MaxLevel() {
			return nil, errors.Newf(errors.ErrCodeMalformedRequest, "level %d outside 0..%d", level, g.MaxLevel()).
				WithComponent("warmer")
		}
		grid := g.Levels[level]
		last := grid.Base + grid.Tiles()*int64(g.Bands)
		for linear := grid.Base; linear < last; linear++ {
			if idx.RecordAt(linear).Empty() {
				continue
			}
			l, col, row, band, err := g.Position(linear)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", linear, err)
			}
			coords = append(coords, types.TileCoordinate{
				CollectionID: pyramid.CollectionID,
				Timestamp:    pyramid.Timestamp,
				Level:        l,
				Column:       col,
				Row:          row,
				Band:         band,
			})
		}
	}
	return coords, nil
}

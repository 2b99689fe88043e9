package mrf

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

// indexFileOverhead approximates the fixed cost of an IndexFile held in memory
const indexFileOverhead = 512

// IndexFile is the fully loaded, validated index of one pyramid. It is never
// mutated after construction and is safe for concurrent use.
type IndexFile struct {
	pyramid   types.PyramidKey
	metadata  Metadata
	geometry  *Geometry
	raw       []byte
	dataKey   string
	dataSize  int64
	populated int64
	loadedAt  time.Time
}

// NewIndexFile validates raw against the geometry and the data blob size.
// raw must hold exactly geometry.NumTiles() records and every written record
// must lie inside the data blob.
func NewIndexFile(pyramid types.PyramidKey, meta Metadata, geometry *Geometry, raw []byte, dataKey string, dataSize int64) (*IndexFile, error) {
	if int64(len(raw)) != geometry.IndexSize() {
		return nil, corrupt(pyramid, "index size does not match geometry").
			WithDetail("index_size", len(raw)).
			WithDetail("expected_size", geometry.IndexSize())
	}

	var populated int64
	for i := int64(0); i < geometry.NumTiles(); i++ {
		rec := DecodeRecord(raw[i*RecordSize:])
		if rec.Empty() {
			continue
		}
		if rec.Offset > uint64(dataSize) || rec.Length > uint64(dataSize)-rec.Offset {
			return nil, corrupt(pyramid, "record points outside the data blob").
				WithDetail("record", i).
				WithDetail("offset", rec.Offset).
				WithDetail("length", rec.Length).
				WithDetail("data_size", dataSize)
		}
		populated++
	}

	return &IndexFile{
		pyramid:   pyramid,
		metadata:  meta,
		geometry:  geometry,
		raw:       raw,
		dataKey:   dataKey,
		dataSize:  dataSize,
		populated: populated,
		loadedAt:  time.Now(),
	}, nil
}

// LoadMetadata reads and parses a pyramid's metadata document
func LoadMetadata(ctx context.Context, store types.ObjectStore, layout Layout, pyramid types.PyramidKey) (Metadata, error) {
	key := layout.MetadataKey(pyramid)
	size, err := store.HeadSize(ctx, key)
	if err != nil {
		return Metadata{}, err
	}
	data, err := store.FetchRange(ctx, key, 0, size)
	if err != nil {
		return Metadata{}, err
	}
	return ParseMetadata(data)
}

// Load reads the metadata document of a pyramid and opens its index
func Load(ctx context.Context, store types.ObjectStore, layout Layout, pyramid types.PyramidKey) (*IndexFile, error) {
	meta, err := LoadMetadata(ctx, store, layout, pyramid)
	if err != nil {
		return nil, err
	}
	return Open(ctx, store, pyramid, meta, layout.IndexKey(pyramid), layout.DataKey(pyramid))
}

// Open loads the index blob at indexKey for the pyramid described by meta.
// The index and data blob sizes are looked up concurrently, then the whole
// index is fetched in one ranged read.
func Open(ctx context.Context, store types.ObjectStore, pyramid types.PyramidKey, meta Metadata, indexKey, dataKey string) (*IndexFile, error) {
	geometry, err := meta.Geometry()
	if err != nil {
		return nil, err
	}

	var indexSize, dataSize int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		indexSize, err = store.HeadSize(gctx, indexKey)
		return err
	})
	g.Go(func() error {
		var err error
		dataSize, err = store.HeadSize(gctx, dataKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if indexSize != geometry.IndexSize() {
		return nil, corrupt(pyramid, "index size does not match geometry").
			WithDetail("index_size", indexSize).
			WithDetail("expected_size", geometry.IndexSize())
	}

	raw, err := store.FetchRange(ctx, indexKey, 0, indexSize)
	if err != nil {
		return nil, err
	}
	return NewIndexFile(pyramid, meta, geometry, raw, dataKey, dataSize)
}

// Record returns the index record of a tile
func (f *IndexFile) Record(level, col, row, band int) (types.IndexRecord, error) {
	linear, err := f.geometry.LinearIndex(level, col, row, band)
	if err != nil {
		return types.IndexRecord{}, err
	}
	return DecodeRecord(f.raw[linear*RecordSize:]), nil
}

// RecordAt returns the record at a linear position
func (f *IndexFile) RecordAt(linear int64) types.IndexRecord {
	return DecodeRecord(f.raw[linear*RecordSize:])
}

// Resolve maps a tile to its byte range in the data blob. A tile whose record
// has not been written yields TILE_NOT_FOUND.
func (f *IndexFile) Resolve(coord types.TileCoordinate) (types.ByteRange, error) {
	rec, err := f.Record(coord.Level, coord.Column, coord.Row, coord.Band)
	if err != nil {
		return types.ByteRange{}, err
	}
	if rec.Empty() {
		return types.ByteRange{}, errors.NewError(errors.ErrCodeTileNotFound, "tile not written").
			WithComponent("mrf").
			WithContext("tile", coord.Key())
	}
	return rec.Range(), nil
}

// DataSize returns the size of the packed data blob
func (f *IndexFile) DataSize() int64 { return f.dataSize }

// IndexSize returns the size of the index blob
func (f *IndexFile) IndexSize() int64 { return int64(len(f.raw)) }

// DataKey returns the object key of the packed data blob
func (f *IndexFile) DataKey() string { return f.dataKey }

// Pyramid returns the pyramid the index belongs to
func (f *IndexFile) Pyramid() types.PyramidKey { return f.pyramid }

// Metadata returns the parsed metadata document
func (f *IndexFile) Metadata() Metadata { return f.metadata }

// Geometry returns the tile grid
func (f *IndexFile) Geometry() *Geometry { return f.geometry }

// Populated returns the number of written tiles
func (f *IndexFile) Populated() int64 { return f.populated }

// LoadedAt returns when the index was loaded
func (f *IndexFile) LoadedAt() time.Time { return f.loadedAt }

// SizeInBytes implements types.Sizer
func (f *IndexFile) SizeInBytes() int64 {
	return int64(len(f.raw)) + int64(len(f.geometry.Levels))*24 + indexFileOverhead
}

func corrupt(p types.PyramidKey, msg string) *errors.TileError {
	return errors.NewError(errors.ErrCodeCorruptIndex, msg).
		WithComponent("mrf").
		WithContext("pyramid", p.String())
}

package mrf

import (
	json "github.com/goccy/go-json"

	"github.com/holeshot/tilecache/pkg/errors"
)

// Metadata is the pyramid description stored next to the index as metadata.json
type Metadata struct {
	Name       string `json:"name,omitempty"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	TileWidth  int    `json:"tileWidth"`
	TileHeight int    `json:"tileHeight"`
	MaxRLevel  int    `json:"maxRLevel"`
	NumBands   int    `json:"numBands,omitempty"`
}

// ParseMetadata decodes a metadata document. A missing band count means one band.
func ParseMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, errors.Wrap(errors.ErrCodeCorruptIndex, "invalid metadata document", err).
			WithComponent("mrf")
	}
	if m.NumBands == 0 {
		m.NumBands = 1
	}
	return m, nil
}

// Marshal encodes the metadata document
func (m Metadata) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Geometry builds the tile grid described by the metadata
func (m Metadata) Geometry() (*Geometry, error) {
	return NewGeometry(m.Width, m.Height, m.TileWidth, m.TileHeight, m.MaxRLevel, m.NumBands)
}

// LevelGrid is the tile grid of one resolution level
type LevelGrid struct {
	Columns int   `json:"columns"`
	Rows    int   `json:"rows"`
	Base    int64 `json:"base"` // linear index of the level's first record
}

// Tiles returns the number of records the level holds per band
func (g LevelGrid) Tiles() int64 {
	return int64(g.Columns) * int64(g.Rows)
}

// Geometry maps (level, column, row, band) to a record position. Records are
// ordered by level, then band, then row, then column.
type Geometry struct {
	TileWidth  int         `json:"tile_width"`
	TileHeight int         `json:"tile_height"`
	Bands      int         `json:"bands"`
	Levels     []LevelGrid `json:"levels"`
	numTiles   int64
}

// NewGeometry computes the grid of every level 0..maxRLevel. Level l covers the
// image at 1/2^l resolution: ceil(width / (2^l * tileWidth)) columns.
func NewGeometry(width, height, tileWidth, tileHeight, maxRLevel, bands int) (*Geometry, error) {
	switch {
	case width <= 0 || height <= 0:
		return nil, invalidGeometry("image dimensions must be positive")
	case tileWidth <= 0 || tileHeight <= 0:
		return nil, invalidGeometry("tile dimensions must be positive")
	case maxRLevel < 0 || maxRLevel > 30:
		return nil, invalidGeometry("maxRLevel out of range")
	case bands <= 0:
		return nil, invalidGeometry("band count must be positive")
	}

	g := &Geometry{
		TileWidth:  tileWidth,
		TileHeight: tileHeight,
		Bands:      bands,
		Levels:     make([]LevelGrid, 0, maxRLevel+1),
	}

	var base int64
	for level := 0; level <= maxRLevel; level++ {
		scale := int64(1) << level
		grid := LevelGrid{
			Columns: int(ceilDiv(int64(width), scale*int64(tileWidth))),
			Rows:    int(ceilDiv(int64(height), scale*int64(tileHeight))),
			Base:    base,
		}
		g.Levels = append(g.Levels, grid)
		base += grid.Tiles() * int64(bands)
	}
	g.numTiles = base
	return g, nil
}

// NumTiles returns the number of records in the index
func (g *Geometry) NumTiles() int64 {
	return g.numTiles
}

// IndexSize returns the exact byte size of a matching index blob
func (g *Geometry) IndexSize() int64 {
	return g.numTiles * RecordSize
}

// MaxLevel returns the coarsest level
func (g *Geometry) MaxLevel() int {
	return len(g.Levels) - 1
}

// LinearIndex returns the record position of a tile
func (g *Geometry) LinearIndex(level, col, row, band int) (int64, error) {
	if level < 0 || level >= len(g.Levels) {
		return 0, outOfBounds("level", level, len(g.Levels))
	}
	grid := g.Levels[level]
	if band < 0 || band >= g.Bands {
		return 0, outOfBounds("band", band, g.Bands)
	}
	if row < 0 || row >= grid.Rows {
		return 0, outOfBounds("row", row, grid.Rows)
	}
	if col < 0 || col >= grid.Columns {
		return 0, outOfBounds("column", col, grid.Columns)
	}
	return grid.Base + int64(band)*grid.Tiles() + int64(row)*int64(grid.Columns) + int64(col), nil
}

// Position is the inverse of LinearIndex
func (g *Geometry) Position(linear int64) (level, col, row, band int, err error) {
	if linear < 0 || linear >= g.numTiles {
		return 0, 0, 0, 0, errors.Newf(errors.ErrCodeMalformedRequest, "record %d outside index of %d", linear, g.numTiles)
	}
	for l := len(g.Levels) - 1; l >= 0; l-- {
		grid := g.Levels[l]
		if linear < grid.Base {
			continue
		}
		rel := linear - grid.Base
		band = int(rel / grid.Tiles())
		rel %= grid.Tiles()
		return l, int(rel % int64(grid.Columns)), int(rel / int64(grid.Columns)), band, nil
	}
	return 0, 0, 0, 0, errors.NewError(errors.ErrCodeInternalError, "geometry has no levels")
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

func invalidGeometry(msg string) error {
	return errors.NewError(errors.ErrCodeCorruptIndex, "invalid pyramid geometry: "+msg).WithComponent("mrf")
}

func outOfBounds(what string, v, limit int) error {
	return errors.Newf(errors.ErrCodeMalformedRequest, "%s %d out of bounds [0, %d)", what, v, limit).
		WithComponent("mrf")
}

package mrf

import (
	"testing"

	"github.com/holeshot/tilecache/pkg/errors"
)

func TestNewGeometry_LevelGrids(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		width, height int
		tile          int
		maxLevel      int
		bands         int
		want          []LevelGrid
		wantTiles     int64
	}{
		{
			name: "single level 2x2",
			width: 512, height: 512, tile: 256, maxLevel: 0, bands: 1,
			want:      []LevelGrid{{Columns: 2, Rows: 2, Base: 0}},
			wantTiles: 4,
		},
		{
			name: "partial tiles round up",
			width: 1000, height: 300, tile: 256, maxLevel: 2, bands: 1,
			want: []LevelGrid{
				{Columns: 4, Rows: 2, Base: 0},
				{Columns: 2, Rows: 1, Base: 8},
				{Columns: 1, Rows: 1, Base: 10},
			},
			wantTiles: 11,
		},
		{
			name: "bands multiply every level",
			width: 512, height: 256, tile: 256, maxLevel: 1, bands: 3,
			want: []LevelGrid{
				{Columns: 2, Rows: 1, Base: 0},
				{Columns: 1, Rows: 1, Base: 6},
			},
			wantTiles: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGeometry(tt.width, tt.height, tt.tile, tt.tile, tt.maxLevel, tt.bands)
			if err != nil {
				t.Fatalf("NewGeometry: %v", err)
			}
			if len(g.Levels) != len(tt.want) {
				t.Fatalf("levels = %d, want %d", len(g.Levels), len(tt.want))
			}
			for i, grid := range tt.want {
				if g.Levels[i] != grid {
					t.Errorf("level %d = %+v, want %+v", i, g.Levels[i], grid)
				}
			}
			if g.NumTiles() != tt.wantTiles {
				t.Errorf("NumTiles = %d, want %d", g.NumTiles(), tt.wantTiles)
			}
			if g.IndexSize() != tt.wantTiles*RecordSize {
				t.Errorf("IndexSize = %d", g.IndexSize())
			}
		})
	}
}

func TestNewGeometry_Invalid(t *testing.T) {
	t.Parallel()

	cases := [][6]int{
		{0, 10, 256, 256, 0, 1},
		{10, 10, 0, 256, 0, 1},
		{10, 10, 256, 256, -1, 1},
		{10, 10, 256, 256, 0, 0},
	}
	for _, c := range cases {
		if _, err := NewGeometry(c[0], c[1], c[2], c[3], c[4], c[5]); err == nil {
			t.Errorf("NewGeometry(%v) succeeded", c)
		}
	}
}

func TestGeometry_LinearIndex(t *testing.T) {
	t.Parallel()

	// level 0: 4x2, level 1: 2x1, two bands
	g, err := NewGeometry(1024, 512, 256, 256, 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		level, col, row, band int
		want                  int64
	}{
		{0, 0, 0, 0, 0},
		{0, 3, 0, 0, 3},
		{0, 0, 1, 0, 4},
		{0, 3, 1, 0, 7},
		{0, 0, 0, 1, 8},
		{0, 3, 1, 1, 15},
		{1, 0, 0, 0, 16},
		{1, 1, 0, 1, 19},
	}
	for _, tt := range tests {
		got, err := g.LinearIndex(tt.level, tt.col, tt.row, tt.band)
		if err != nil {
			t.Errorf("LinearIndex(%d,%d,%d,%d): %v", tt.level, tt.col, tt.row, tt.band, err)
			continue
		}
		if got != tt.want {
			t.Errorf("LinearIndex(%d,%d,%d,%d) = %d, want %d", tt.level, tt.col, tt.row, tt.band, got, tt.want)
		}
	}

	for _, bad := range [][4]int{{2, 0, 0, 0}, {0, 4, 0, 0}, {0, 0, 2, 0}, {0, 0, 0, 2}, {1, 2, 0, 0}, {-1, 0, 0, 0}} {
		_, err := g.LinearIndex(bad[0], bad[1], bad[2], bad[3])
		if !errors.IsMalformed(err) {
			t.Errorf("LinearIndex(%v) err = %v, want malformed", bad, err)
		}
	}
}

func TestGeometry_PositionInvertsLinearIndex(t *testing.T) {
	t.Parallel()

	g, err := NewGeometry(3000, 1700, 256, 256, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	for linear := int64(0); linear < g.NumTiles(); linear++ {
		level, col, row, band, err := g.Position(linear)
		if err != nil {
			t.Fatalf("Position(%d): %v", linear, err)
		}
		back, err := g.LinearIndex(level, col, row, band)
		if err != nil {
			t.Fatalf("LinearIndex(%d,%d,%d,%d): %v", level, col, row, band, err)
		}
		if back != linear {
			t.Fatalf("round trip %d -> (%d,%d,%d,%d) -> %d", linear, level, col, row, band, back)
		}
	}
	if _, _, _, _, err := g.Position(g.NumTiles()); err == nil {
		t.Error("Position past the end succeeded")
	}
}

func TestParseMetadata(t *testing.T) {
	t.Parallel()

	m, err := ParseMetadata([]byte(`{"width":512,"height":512,"tileWidth":256,"tileHeight":256,"maxRLevel":0}`))
	if err != nil {
		t.Fatal(err)
	}
	if m.NumBands != 1 {
		t.Errorf("NumBands = %d, want default 1", m.NumBands)
	}
	g, err := m.Geometry()
	if err != nil {
		t.Fatal(err)
	}
	if g.NumTiles() != 4 {
		t.Errorf("NumTiles = %d", g.NumTiles())
	}

	if _, err := ParseMetadata([]byte(`{"width":`)); !errors.IsCorruptIndex(err) {
		t.Errorf("truncated document err = %v, want corrupt index", err)
	}

	data, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	again, err := ParseMetadata(data)
	if err != nil || again != m {
		t.Errorf("Marshal/Parse = %+v, %v", again, err)
	}
}

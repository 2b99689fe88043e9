package mrf

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

// Writer packs tiles into a data stream and builds the matching index.
// Tiles may be added in any order; each tile may be added once.
type Writer struct {
	geometry *Geometry
	data     io.Writer
	offset   uint64
	records  []types.IndexRecord
}

// NewWriter starts a pack whose tile payloads are appended to data
func NewWriter(geometry *Geometry, data io.Writer) *Writer {
	return &Writer{
		geometry: geometry,
		data:     data,
		records:  make([]types.IndexRecord, geometry.NumTiles()),
	}
}

// Add appends one tile. Empty payloads are rejected because a zero length marks an unwritten tile.
func (w *Writer) Add(level, col, row, band int, payload []byte) error {
	linear, err := w.geometry.LinearIndex(level, col, row, band)
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		return errors.Newf(errors.ErrCodeMalformedRequest, "empty tile %d/%d/%d/%d", level, col, row, band)
	}
	if !w.records[linear].Empty() {
		return errors.Newf(errors.ErrCodeMalformedRequest, "tile %d/%d/%d/%d added twice", level, col, row, band)
	}

	n, err := w.data.Write(payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStorageWrite, "write tile data", err).WithComponent("mrf")
	}
	w.records[linear] = types.IndexRecord{Offset: w.offset, Length: uint64(n)}
	w.offset += uint64(n)
	return nil
}

// DataSize returns the number of data bytes written so far
func (w *Writer) DataSize() int64 {
	return int64(w.offset)
}

// Populated returns the number of tiles added
func (w *Writer) Populated() int64 {
	var n int64
	for _, r := range w.records {
		if !r.Empty() {
			n++
		}
	}
	return n
}

// WriteIndex writes the index, one record per tile, unwritten tiles as zero records
func (w *Writer) WriteIndex(out io.Writer) error {
	return binary.Write(out, binary.BigEndian, w.records)
}

// Index returns the encoded index
func (w *Writer) Index() []byte {
	var buf bytes.Buffer
	buf.Grow(int(w.geometry.IndexSize()))
	_ = w.WriteIndex(&buf)
	return buf.Bytes()
}

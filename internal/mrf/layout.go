package mrf

import (
	"encoding/binary"
	"path"

	"github.com/holeshot/tilecache/pkg/types"
)

// RecordSize is the width of one index record: big-endian u64 offset, then u64 length
const RecordSize = 16

// Blob names within a pyramid's directory
const (
	IndexBlob    = "image.idx"
	DataBlob     = "image.ppg"
	MetadataBlob = "metadata.json"
)

// Layout places pyramid blobs under an optional key prefix:
// {prefix}/{collectionId}/{timestamp}/{blob}
type Layout struct {
	Prefix string
}

// Key returns the object key of one blob of a pyramid
func (l Layout) Key(p types.PyramidKey, blob string) string {
	return path.Join(l.Prefix, p.CollectionID, p.Timestamp, blob)
}

// IndexKey returns the key of the index blob
func (l Layout) IndexKey(p types.PyramidKey) string { return l.Key(p, IndexBlob) }

// DataKey returns the key of the packed data blob
func (l Layout) DataKey(p types.PyramidKey) string { return l.Key(p, DataBlob) }

// MetadataKey returns the key of the metadata document
func (l Layout) MetadataKey(p types.PyramidKey) string { return l.Key(p, MetadataBlob) }

// DecodeRecord reads the record at the start of b
func DecodeRecord(b []byte) types.IndexRecord {
	return types.IndexRecord{
		Offset: binary.BigEndian.Uint64(b[0:8]),
		Length: binary.BigEndian.Uint64(b[8:16]),
	}
}

// EncodeRecord writes r into the first RecordSize bytes of b
func EncodeRecord(b []byte, r types.IndexRecord) {
	binary.BigEndian.PutUint64(b[0:8], r.Offset)
	binary.BigEndian.PutUint64(b[8:16], r.Length)
}

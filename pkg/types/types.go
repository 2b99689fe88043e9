package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TileCoordinate identifies one tile of one image pyramid
type TileCoordinate struct {
	CollectionID string `json:"collection_id"`
	Timestamp    string `json:"timestamp"`
	Level        int    `json:"level"`
	Column       int    `json:"column"`
	Row          int    `json:"row"`
	Band         int    `json:"band"`
}

// Key returns the stable cache key of the tile: collection/timestamp/level/col/row/band
func (c TileCoordinate) Key() string {
	return strings.Join([]string{
		c.CollectionID,
		c.Timestamp,
		strconv.Itoa(c.Level),
		strconv.Itoa(c.Column),
		strconv.Itoa(c.Row),
		strconv.Itoa(c.Band),
	}, "/")
}

// Pyramid returns the key of the pyramid the tile belongs to
func (c TileCoordinate) Pyramid() PyramidKey {
	return PyramidKey{CollectionID: c.CollectionID, Timestamp: c.Timestamp}
}

// String implements fmt.Stringer
func (c TileCoordinate) String() string {
	return c.Key()
}

// Valid reports whether every component is present and non-negative
func (c TileCoordinate) Valid() bool {
	return c.CollectionID != "" && c.Timestamp != "" &&
		c.Level >= 0 && c.Column >= 0 && c.Row >= 0 && c.Band >= 0
}

// PyramidKey identifies one image pyramid (collection + acquisition timestamp)
type PyramidKey struct {
	CollectionID string `json:"collection_id"`
	Timestamp    string `json:"timestamp"`
}

// String returns collection/timestamp
func (k PyramidKey) String() string {
	return k.CollectionID + "/" + k.Timestamp
}

// ByteRange is an inclusive span of bytes [Start, End]
type ByteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// NewByteRange builds the range covering length bytes from offset.
func NewByteRange(offset, length int64) ByteRange {
	return ByteRange{Start: offset, End: offset + length - 1}
}

// Length returns the number of bytes covered by the range
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// Within reports whether the range fits in a resource of the given size
func (r ByteRange) Within(size int64) bool {
	return r.Start >= 0 && r.Start <= r.End && r.End < size
}

// ContentRange formats the range as an HTTP Content-Range value
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// String implements fmt.Stringer
func (r ByteRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// IndexRecord is one fixed-width entry of an MRF index blob
type IndexRecord struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// Empty reports whether the record marks a tile that has not been written
func (r IndexRecord) Empty() bool {
	return r.Length == 0
}

// Range returns the data-blob span described by the record
func (r IndexRecord) Range() ByteRange {
	return NewByteRange(int64(r.Offset), int64(r.Length))
}

// ObjectInfo represents metadata about an object
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Errors      uint64  `json:"errors"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// entryOverhead approximates the bookkeeping cost of one cached entry
const entryOverhead = 64

// CacheEntry is a tile payload held by a cache tier
type CacheEntry struct {
	Key        string    `json:"key"`
	Payload    []byte    `json:"-"`
	LastAccess time.Time `json:"last_access"`
}

// NewCacheEntry wraps payload for key
func NewCacheEntry(key string, payload []byte) *CacheEntry {
	return &CacheEntry{Key: key, Payload: payload, LastAccess: time.Now()}
}

// SizeInBytes implements Sizer
func (e *CacheEntry) SizeInBytes() int64 {
	return int64(len(e.Payload)) + int64(len(e.Key)) + entryOverhead
}

// Clone returns a deep copy; tiers never share payload memory
func (e *CacheEntry) Clone() *CacheEntry {
	payload := make([]byte, len(e.Payload))
	copy(payload, e.Payload)
	return &CacheEntry{Key: e.Key, Payload: payload, LastAccess: e.LastAccess}
}

// Slice returns the part of the payload covered by r.
// The caller must have checked r against the payload length.
func (e *CacheEntry) Slice(r ByteRange) []byte {
	return e.Payload[r.Start : r.End+1]
}

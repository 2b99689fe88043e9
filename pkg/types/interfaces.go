package types

import (
	"context"
	"time"
)

// ObjectStore is the durable source of truth for index and data blobs
type ObjectStore interface {
	// FetchRange reads length bytes of key starting at offset
	FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error)
	// HeadSize returns the total size of key in bytes
	HeadSize(ctx context.Context, key string) (int64, error)
}

// ObjectWriter is implemented by stores that accept new objects
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, data []byte) error
}

// HealthChecker is implemented by stores and tiers that can verify their connection
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Sizer reports the approximate memory footprint of a cached value
type Sizer interface {
	SizeInBytes() int64
}

// TierCache is one level of the tile cache.
// Get reports a miss with ok == false and a nil error; a non-nil error means
// the tier itself failed.
type TierCache interface {
	Name() string
	Get(ctx context.Context, key string) (entry *CacheEntry, ok bool, err error)
	Put(ctx context.Context, key string, entry *CacheEntry) error
	Evict(ctx context.Context, key string) error
	MemoryUsed() int64
	Capacity() int64
	Threshold() float64
	Stats() CacheStats
}

// MetricsRecorder receives cache and storage events
type MetricsRecorder interface {
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
	RecordCacheError(tier string)
	UpdateCacheSize(tier string, size int64)
}

// HealthReporter receives the outcome of calls against a named component
type HealthReporter interface {
	RecordSuccess(component string)
	RecordError(component string, err error)
}

// RangeReader is implemented by stores that can fill a caller-owned buffer,
// letting the read path stage object reads in pooled memory.
type RangeReader interface {
	ReadRange(ctx context.Context, key string, offset int64, dst []byte) error
}

// StorageRecorder receives one event per object store request
type StorageRecorder interface {
	RecordStorageRequest(op, status string, bytes int64, duration time.Duration)
}

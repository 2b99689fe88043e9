// Package buffer provides a bounded pool of transfer buffers used to stage
// object-store reads and index/data writes.
package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	tileerrors "github.com/holeshot/tilecache/pkg/errors"
)

// Config bounds the pool
type Config struct {
	// MaxBuffers is the number of buffers that may be checked out at once
	MaxBuffers int64 `yaml:"max_buffers"`
	// AcquireTimeout bounds how long Acquire waits for a free buffer
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// DefaultConfig returns the default pool bounds
func DefaultConfig() Config {
	return Config{
		MaxBuffers:     64,
		AcquireTimeout: 2 * time.Second,
	}
}

// Common tile and index transfer sizes
var bucketSizes = []int{
	4096,     // 4KB
	16384,    // 16KB
	65536,    // 64KB
	262144,   // 256KB
	1048576,  // 1MB
	4194304,  // 4MB
	16777216, // 16MB
}

// Pool hands out byte slices from size buckets. At most MaxBuffers are checked
// out at once; Acquire blocks until one is returned or the timeout elapses.
type Pool struct {
	sem     *semaphore.Weighted
	config  Config
	buckets map[int]*sync.Pool

	inUse     atomic.Int64
	acquired  atomic.Uint64
	exhausted atomic.Uint64

	onChange func(inUse int64)
}

// Buffer is one checked-out slice. Release returns it to the pool; calling
// Release more than once is safe.
type Buffer struct {
	B        []byte
	pool     *Pool
	released atomic.Bool
}

// NewPool creates a bounded pool
func NewPool(config Config) *Pool {
	def := DefaultConfig()
	if config.MaxBuffers <= 0 {
		config.MaxBuffers = def.MaxBuffers
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = def.AcquireTimeout
	}

	buckets := make(map[int]*sync.Pool, len(bucketSizes))
	for _, size := range bucketSizes {
		buckets[size] = &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		}
	}

	return &Pool{
		sem:     semaphore.NewWeighted(config.MaxBuffers),
		config:  config,
		buckets: buckets,
	}
}

// OnChange registers a callback receiving the number of buffers in use after every change
func (p *Pool) OnChange(fn func(inUse int64)) {
	p.onChange = fn
}

// Acquire checks out a buffer of length size
func (p *Pool) Acquire(ctx context.Context, size int) (*Buffer, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.exhausted.Add(1)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, tileerrors.Wrap(tileerrors.ErrCodeBufferPoolExhausted, "no transfer buffer available", err).
			WithComponent("buffer").
			WithDetail("max_buffers", p.config.MaxBuffers).
			WithDetail("timeout", p.config.AcquireTimeout.String())
	}

	p.acquired.Add(1)
	p.changed(p.inUse.Add(1))
	return &Buffer{B: p.get(size), pool: p}, nil
}

// With runs fn with a buffer of length size and releases it on every return path
func (p *Pool) With(ctx context.Context, size int, fn func(buf []byte) error) error {
	buf, err := p.Acquire(ctx, size)
	if err != nil {
		return err
	}
	defer buf.Release()
	return fn(buf.B)
}

// Release returns the buffer to its pool
func (b *Buffer) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	b.pool.put(b.B)
	b.B = nil
	b.pool.sem.Release(1)
	b.pool.changed(b.pool.inUse.Add(-1))
}

// PoolStats describes pool usage
type PoolStats struct {
	MaxBuffers int64  `json:"max_buffers"`
	InUse      int64  `json:"in_use"`
	Acquired   uint64 `json:"acquired"`
	Exhausted  uint64 `json:"exhausted"`
	BucketMin  int    `json:"bucket_min"`
	BucketMax  int    `json:"bucket_max"`
}

// GetStats returns current pool statistics
func (p *Pool) GetStats() PoolStats {
	return PoolStats{
		MaxBuffers: p.config.MaxBuffers,
		InUse:      p.inUse.Load(),
		Acquired:   p.acquired.Load(),
		Exhausted:  p.exhausted.Load(),
		BucketMin:  bucketSizes[0],
		BucketMax:  bucketSizes[len(bucketSizes)-1],
	}
}

func (p *Pool) get(size int) []byte {
	for _, bucketSize := range bucketSizes {
		if bucketSize >= size {
			bp := p.buckets[bucketSize].Get().(*[]byte)
			return (*bp)[:size]
		}
	}
	// larger than the biggest bucket; allocate directly
	return make([]byte, size)
}

func (p *Pool) put(buf []byte) {
	bucket, ok := p.buckets[cap(buf)]
	if !ok {
		return
	}
	buf = buf[:cap(buf)]
	bucket.Put(&buf)
}

func (p *Pool) changed(inUse int64) {
	if p.onChange != nil {
		p.onChange(inUse)
	}
}

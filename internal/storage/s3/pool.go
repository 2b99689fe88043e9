package s3

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/semaphore"

	"github.com/holeshot/tilecache/pkg/errors"
)

const poolComponent = "s3-pool"

// checkBatch is how many idle clients one health pass checks
const checkBatch = 3

// ConnectionPool bounds the number of S3 clients in use at once. A weighted
// semaphore admits at most maxSize holders; idle clients are reused newest first.
type ConnectionPool struct {
	sem     *semaphore.Weighted
	maxSize int
	factory func() (*s3.Client, error)
	check   func(context.Context, *s3.Client) error
	timeout time.Duration

	mu     sync.Mutex
	idle   []*s3.Client
	open   int
	closed bool
	stats  PoolStats

	stop context.CancelFunc
	done chan struct{}
}

// PoolStats tracks connection pool statistics
type PoolStats struct {
	Active      int       `json:"active"`
	Idle        int       `json:"idle"`
	Total       int       `json:"total"`
	MaxSize     int       `json:"max_size"`
	Hits        int64     `json:"hits"`   // served from an idle client
	Misses      int64     `json:"misses"` // had to wait for a holder to return one
	Timeouts    int64     `json:"timeouts"`
	Errors      int64     `json:"errors"`
	Created     int64     `json:"created"`
	Destroyed   int64     `json:"destroyed"`
	LastCreated time.Time `json:"last_created"`
	LastError   string    `json:"last_error"`
	LastErrorAt time.Time `json:"last_error_at"`
}

// NewConnectionPool creates a pool of at most maxSize clients. A non-nil
// check with a positive interval periodically checks idle clients and drops
// the ones that fail.
func NewConnectionPool(maxSize int, factory func() (*s3.Client, error), check func(context.Context, *s3.Client) error, interval time.Duration) (*ConnectionPool, error) {
	if factory == nil {
		return nil, fmt.Errorf("connection factory cannot be nil")
	}
	if maxSize <= 0 {
		maxSize = NewDefaultConfig().PoolSize
	}

	p := &ConnectionPool{
		sem:     semaphore.NewWeighted(int64(maxSize)),
		maxSize: maxSize,
		factory: factory,
		check:   check,
		timeout: 5 * time.Second,
		stats:   PoolStats{MaxSize: maxSize},
	}
	if check != nil && interval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		p.stop = cancel
		p.done = make(chan struct{})
		go p.checkLoop(ctx, interval)
	}
	return p, nil
}

func closedError() error {
	return errors.NewError(errors.ErrCodeConnectionFailed, "connection pool is closed").WithComponent(poolComponent)
}

// Get returns an idle client or creates one, waiting until ctx is done when
// maxSize clients are already held.
func (p *ConnectionPool) Get(ctx context.Context) (*s3.Client, error) {
	if p.isClosed() {
		return nil, closedError()
	}

	if !p.sem.TryAcquire(1) {
		p.mu.Lock()
		p.stats.Misses++
		p.mu.Unlock()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.mu.Lock()
			p.stats.Timeouts++
			p.mu.Unlock()
			return nil, errors.Wrap(errors.ErrCodeConnectionTimeout, "waiting for a pooled S3 client", err).
				WithComponent(poolComponent)
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, closedError()
	}
	if n := len(p.idle); n > 0 {
		client := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.stats.Hits++
		p.stats.Active++
		p.mu.Unlock()
		return client, nil
	}
	p.mu.Unlock()

	client, err := p.factory()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.sem.Release(1)
		p.stats.Errors++
		p.stats.LastError = err.Error()
		p.stats.LastErrorAt = time.Now()
		return nil, errors.Wrap(errors.ErrCodeConnectionFailed, "create S3 client", err).WithComponent(poolComponent)
	}
	p.open++
	p.stats.Created++
	p.stats.Active++
	p.stats.LastCreated = time.Now()
	return client, nil
}

// Put returns a client taken with Get
func (p *ConnectionPool) Put(client *s3.Client) {
	if client == nil {
		return
	}
	p.mu.Lock()
	p.stats.Active--
	p.keepLocked(client)
	p.mu.Unlock()
	p.sem.Release(1)
}

// keepLocked parks client as idle, or drops it once the pool is closed or full
func (p *ConnectionPool) keepLocked(client *s3.Client) {
	if p.closed || len(p.idle) >= p.maxSize {
		p.open--
		p.stats.Destroyed++
		return
	}
	p.idle = append(p.idle, client)
}

// Stats returns current pool statistics
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.Total = p.open
	stats.Idle = len(p.idle)
	return stats
}

// Close stops health probing and drops idle clients. Held clients are
// dropped as they are returned.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.open -= len(p.idle)
	p.stats.Destroyed += int64(len(p.idle))
	p.idle = nil
	p.mu.Unlock()

	if p.stop != nil {
		p.stop()
		<-p.done
	}
	return nil
}

// Warmup creates up to count idle clients, maxSize when count is out of range
func (p *ConnectionPool) Warmup(ctx context.Context, count int) error {
	if count <= 0 || count > p.maxSize {
		count = p.maxSize
	}

	var failed int
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.mu.Lock()
		full := p.closed || p.open >= p.maxSize
		p.mu.Unlock()
		if full {
			break
		}

		client, err := p.factory()
		if err != nil {
			failed++
			continue
		}
		p.mu.Lock()
		p.open++
		p.stats.Created++
		p.stats.LastCreated = time.Now()
		p.keepLocked(client)
		p.mu.Unlock()
	}

	if failed > 0 {
		return fmt.Errorf("warmup partially failed: %d errors", failed)
	}
	return nil
}

func (p *ConnectionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ConnectionPool) checkLoop(ctx context.Context, interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkIdle(ctx)
		}
	}
}

// checkIdle checks the oldest idle clients and drops the ones that fail
func (p *ConnectionPool) checkIdle(ctx context.Context) {
	p.mu.Lock()
	n := min(checkBatch, len(p.idle))
	batch := append([]*s3.Client(nil), p.idle[:n]...)
	p.idle = p.idle[n:]
	p.mu.Unlock()

	var unhealthy int
	for _, client := range batch {
		pctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.check(pctx, client)
		cancel()

		p.mu.Lock()
		if err != nil {
			unhealthy++
			p.open--
			p.stats.Destroyed++
		} else {
			p.keepLocked(client)
		}
		p.mu.Unlock()
	}

	if unhealthy > 0 {
		p.mu.Lock()
		p.stats.LastError = fmt.Sprintf("found %d unhealthy connections", unhealthy)
		p.stats.LastErrorAt = time.Now()
		p.mu.Unlock()
	}
}

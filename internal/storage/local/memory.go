package local

import (
	"context"
	"sync"
	"time"

	"github.com/holeshot/tilecache/internal/storage"
	"github.com/holeshot/tilecache/pkg/types"
)

const memoryComponent = "memstore"

// RangeCall records one FetchRange or ReadRange against a MemoryStore
type RangeCall struct {
	Key    string
	Offset int64
	Length int64
}

// MemoryStore is an in-memory object store backed by a map. It counts every
// call so tests can assert how often the read path reaches storage.
type MemoryStore struct {
	mtx      sync.RWMutex
	data     map[string][]byte
	ranges   []RangeCall
	heads    map[string]int
	failures map[string]error
	delay    time.Duration
	recorder types.StorageRecorder
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string][]byte),
		heads:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// SetRecorder attaches a request recorder
func (m *MemoryStore) SetRecorder(rec types.StorageRecorder) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.recorder = rec
}

// SetDelay makes every read sleep first, widening race windows in tests
func (m *MemoryStore) SetDelay(d time.Duration) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.delay = d
}

// FailKey makes every read of key fail with err until cleared with a nil err
func (m *MemoryStore) FailKey(key string, err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// PutObject stores a copy of data under key
func (m *MemoryStore) PutObject(_ context.Context, key string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.data[key] = buf
	return nil
}

// Delete removes key
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	delete(m.data, key)
	return nil
}

// FetchRange returns a copy of length bytes of key from offset
func (m *MemoryStore) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := storage.CheckRange(key, offset, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if err := m.ReadRange(ctx, key, offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRange fills dst from key starting at offset
func (m *MemoryStore) ReadRange(ctx context.Context, key string, offset int64, dst []byte) (err error) {
	start := time.Now()
	length := int64(len(dst))
	defer func() { storage.Observe(m.recorder, "FetchRange", start, length, err) }()

	if err := storage.CheckRange(key, offset, length); err != nil {
		return err
	}

	m.mtx.Lock()
	m.ranges = append(m.ranges, RangeCall{Key: key, Offset: offset, Length: length})
	delay := m.delay
	m.mtx.Unlock()

	if err := m.wait(ctx, delay); err != nil {
		return err
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if ferr, ok := m.failures[key]; ok {
		return storage.ReadError(memoryComponent, "FetchRange", key, ferr)
	}
	data, ok := m.data[key]
	if !ok {
		return storage.NotFound(memoryComponent, key)
	}
	if err := storage.CheckBounds(memoryComponent, key, offset, length, int64(len(data))); err != nil {
		return err
	}
	copy(dst, data[offset:offset+length])
	return nil
}

// HeadSize returns the size of key
func (m *MemoryStore) HeadSize(ctx context.Context, key string) (size int64, err error) {
	start := time.Now()
	defer func() { storage.Observe(m.recorder, "HeadObject", start, 0, err) }()

	m.mtx.Lock()
	m.heads[key]++
	delay := m.delay
	m.mtx.Unlock()

	if err := m.wait(ctx, delay); err != nil {
		return 0, err
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if ferr, ok := m.failures[key]; ok {
		return 0, storage.ReadError(memoryComponent, "HeadObject", key, ferr)
	}
	data, ok := m.data[key]
	if !ok {
		return 0, storage.NotFound(memoryComponent, key)
	}
	return int64(len(data)), nil
}

// HealthCheck always succeeds
func (m *MemoryStore) HealthCheck(context.Context) error { return nil }

// RangeCalls returns every range read issued so far, in call order
func (m *MemoryStore) RangeCalls() []RangeCall {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	out := make([]RangeCall, len(m.ranges))
	copy(out, m.ranges)
	return out
}

// FetchCount returns the number of range reads issued against key
func (m *MemoryStore) FetchCount(key string) int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	n := 0
	for _, c := range m.ranges {
		if c.Key == key {
			n++
		}
	}
	return n
}

// HeadCount returns the number of HeadSize calls for key
func (m *MemoryStore) HeadCount(key string) int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.heads[key]
}

// ResetCounts forgets every recorded call
func (m *MemoryStore) ResetCounts() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.ranges = nil
	m.heads = make(map[string]int)
}

func (m *MemoryStore) String() string {
	return "memory"
}

func (m *MemoryStore) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

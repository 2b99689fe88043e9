package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	tileerrors "github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

const persistentKeyPrefix = "tile:"

// PersistentConfig configures the on-disk tier
type PersistentConfig struct {
	Name      string        `yaml:"name"`
	Directory string        `yaml:"directory"`
	Capacity  int64         `yaml:"capacity"`
	Threshold float64       `yaml:"threshold"`
	TTL       time.Duration `yaml:"ttl"`
	InMemory  bool          `yaml:"in_memory"`

	// GCInterval is how often the value log is compacted; zero disables it
	GCInterval time.Duration `yaml:"gc_interval"`
}

// PersistentTier keeps tile payloads in a Badger database so they survive restarts.
// A key index in memory mirrors the stored entries and drives LRU eviction.
type PersistentTier struct {
	name   string
	db     *badger.DB
	ttl    time.Duration
	index  *LRU[storedSize]
	logger *slog.Logger

	pendingMu sync.Mutex
	pending   []string

	stopGC    context.CancelFunc
	gcDone    chan struct{}
	gcRuns    atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// storedSize is the index value: the accounted size of one stored entry
type storedSize int64

func (s storedSize) SizeInBytes() int64 { return int64(s) }

// NewPersistentTier opens the database and rebuilds the key index from its contents
func NewPersistentTier(cfg PersistentConfig, logger *slog.Logger) (*PersistentTier, error) {
	if cfg.Name == "" {
		cfg.Name = "disk"
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Directory)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, tileerrors.Wrap(tileerrors.ErrCodeCacheUnavailable, "open badger db", err).
			WithComponent("cache." + cfg.Name).WithContext("directory", cfg.Directory)
	}

	p := &PersistentTier{
		name:   cfg.Name,
		db:     db,
		ttl:    cfg.TTL,
		index:  NewLRU[storedSize](cfg.Capacity, cfg.Threshold),
		logger: logger.With("component", "cache", "tier", cfg.Name),
	}
	p.index.OnEvict(func(key string, _ storedSize) {
		p.pendingMu.Lock()
		p.pending = append(p.pending, key)
		p.pendingMu.Unlock()
	})

	if err := p.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}

	gcCtx, stop := context.WithCancel(context.Background())
	p.stopGC = stop
	p.gcDone = make(chan struct{})
	if cfg.GCInterval > 0 {
		go p.gcLoop(gcCtx, cfg.GCInterval)
	} else {
		close(p.gcDone)
	}
	return p, nil
}

// gcLoop compacts the value log every interval until ctx is canceled
func (p *PersistentTier) gcLoop(ctx context.Context, interval time.Duration) {
	defer close(p.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunGC()
		}
	}
}

// Name implements types.TierCache
func (p *PersistentTier) Name() string { return p.name }

// Get implements types.TierCache
func (p *PersistentTier) Get(_ context.Context, key string) (*types.CacheEntry, bool, error) {
	var payload []byte
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storageKey(key))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		// expired by TTL or evicted by another process
		p.index.Remove(key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, p.wrap("get", key, err)
	}

	entry := types.NewCacheEntry(key, payload)
	if _, ok := p.index.Get(key); !ok {
		p.index.Put(key, storedSize(entry.SizeInBytes()))
		p.deletePending()
	}
	return entry, true, nil
}

// Put implements types.TierCache
func (p *PersistentTier) Put(_ context.Context, key string, entry *types.CacheEntry) error {
	if !p.index.Put(key, storedSize(entry.SizeInBytes())) {
		p.logger.Debug("entry larger than tier threshold, not cached", "key", key)
		return nil
	}

	err := p.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(storageKey(key), entry.Payload)
		if p.ttl > 0 {
			e = e.WithTTL(p.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		p.index.Remove(key)
		return p.wrap("put", key, err)
	}

	p.deletePending()
	return nil
}

// Evict implements types.TierCache
func (p *PersistentTier) Evict(_ context.Context, key string) error {
	p.index.Remove(key)
	if err := p.delete(key); err != nil {
		return p.wrap("evict", key, err)
	}
	return nil
}

// MemoryUsed implements types.TierCache
func (p *PersistentTier) MemoryUsed() int64 { return p.index.MemoryUsed() }

// Capacity implements types.TierCache
func (p *PersistentTier) Capacity() int64 { return p.index.Capacity() }

// Threshold implements types.TierCache
func (p *PersistentTier) Threshold() float64 { return p.index.Threshold() }

// Stats implements types.TierCache
func (p *PersistentTier) Stats() types.CacheStats { return p.index.Stats() }

// DiskSize returns the LSM and value log sizes reported by Badger
func (p *PersistentTier) DiskSize() (lsm, vlog int64) { return p.db.Size() }

// RunGC reclaims value log space until Badger finds nothing left to rewrite
func (p *PersistentTier) RunGC() {
	p.gcRuns.Add(1)
	rewrites := 0
	for {
		err := p.db.RunValueLogGC(0.5)
		if err == nil {
			rewrites++
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
			p.logger.Warn("value log gc failed", "error", err)
		}
		break
	}
	if rewrites > 0 {
		p.logger.Debug("value log compacted", "rewrites", rewrites)
	}
}

// GCRuns returns how many times the value log collector has run
func (p *PersistentTier) GCRuns() int64 { return p.gcRuns.Load() }

// Close stops the collector and closes the database
func (p *PersistentTier) Close() error {
	p.closeOnce.Do(func() {
		p.stopGC()
		<-p.gcDone
		p.closeErr = p.db.Close()
	})
	return p.closeErr
}

// Helper methods

func (p *PersistentTier) loadIndex() error {
	loaded := 0
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(persistentKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(persistentKeyPrefix):])
			size := item.ValueSize() + (&types.CacheEntry{Key: key}).SizeInBytes()
			p.index.Put(key, storedSize(size))
			loaded++
		}
		return nil
	})
	if err != nil {
		return p.wrap("load", "", err)
	}
	p.deletePending()
	if loaded > 0 {
		p.logger.Info("persistent tier index rebuilt", "entries", loaded, "bytes", p.index.MemoryUsed())
	}
	return nil
}

// deletePending removes entries the index evicted from the database
func (p *PersistentTier) deletePending() {
	p.pendingMu.Lock()
	keys := p.pending
	p.pending = nil
	p.pendingMu.Unlock()

	for _, key := range keys {
		if err := p.delete(key); err != nil {
			p.logger.Warn("failed to delete evicted entry", "key", key, "error", err)
		}
	}
}

func (p *PersistentTier) delete(key string) error {
	err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storageKey(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (p *PersistentTier) wrap(op, key string, err error) error {
	return tileerrors.Wrap(tileerrors.ErrCodeCacheUnavailable, "persistent tier "+op+" failed", err).
		WithComponent("cache." + p.name).
		WithOperation(op).
		WithContext("key", key)
}

func storageKey(key string) []byte {
	return []byte(persistentKeyPrefix + key)
}

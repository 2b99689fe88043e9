package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/holeshot/tilecache/internal/batch"
	"github.com/holeshot/tilecache/internal/buffer"
	"github.com/holeshot/tilecache/internal/cache"
	"github.com/holeshot/tilecache/internal/circuit"
	"github.com/holeshot/tilecache/internal/config"
	"github.com/holeshot/tilecache/internal/metrics"
	"github.com/holeshot/tilecache/internal/mrf"
	"github.com/holeshot/tilecache/internal/resolver"
	"github.com/holeshot/tilecache/internal/storage/local"
	miniostore "github.com/holeshot/tilecache/internal/storage/minio"
	s3store "github.com/holeshot/tilecache/internal/storage/s3"
	"github.com/holeshot/tilecache/pkg/api"
	tileerrors "github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/health"
	"github.com/holeshot/tilecache/pkg/profiling"
	"github.com/holeshot/tilecache/pkg/recovery"
	"github.com/holeshot/tilecache/pkg/retry"
	"github.com/holeshot/tilecache/pkg/status"
	"github.com/holeshot/tilecache/pkg/types"
)

// Adapter represents the assembled tile cache service
type Adapter struct {
	config *config.Configuration
	logger *slog.Logger

	origin   types.ObjectStore
	store    *recovery.Store
	recovery *recovery.Manager
	health   *health.Tracker
	metrics  *metrics.Collector
	pool     *buffer.Pool
	tiers    []types.TierCache
	cache    *cache.TieredCache
	indexes  *mrf.IndexTable
	resolver *resolver.Resolver
	warmer   *batch.Warmer
	ops      *status.Tracker
	server   *api.Server
	profiler *profiling.MemoryMonitor

	closers []io.Closer

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	serveErr chan error
}

// Option customizes an Adapter
type Option func(*Adapter)

// WithStore replaces the object store built from the storage section
func WithStore(store types.ObjectStore) Option {
	return func(a *Adapter) { a.origin = store }
}

// WithLogger sets the logger every component derives from
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// New validates cfg and wires every component. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Configuration, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		return nil, tileerrors.NewError(tileerrors.ErrCodeInvalidConfig, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	sizes, err := cfg.Sizes()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Adapter{config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "adapter")

	if err := a.build(ctx, sizes); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) build(ctx context.Context, sizes config.Sizes) error {
	cfg := a.config

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Address:   cfg.Monitoring.Metrics.Address,
		Path:      "/metrics",
		Labels:    cfg.Monitoring.Metrics.CustomLabels,
		Namespace: cfg.Monitoring.Metrics.Namespace,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.metrics = collector

	a.health = health.NewTracker(health.TrackerConfig{
		ErrorThreshold:       cfg.Monitoring.HealthChecks.ErrorThreshold,
		UnavailableThreshold: cfg.Monitoring.HealthChecks.UnavailableThreshold,
		HealthCheckInterval:  cfg.Monitoring.HealthChecks.Interval,
	})

	if a.origin == nil {
		if a.origin, err = NewStore(ctx, cfg.Storage, a.logger); err != nil {
			return err
		}
	}
	if c, ok := a.origin.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	if rec, ok := a.origin.(interface{ SetRecorder(types.StorageRecorder) }); ok {
		rec.SetRecorder(collector)
	}

	a.recovery = recovery.NewManager(recovery.Config{
		Retry: retry.Config{
			MaxAttempts:  cfg.Storage.Retry.MaxAttempts,
			InitialDelay: cfg.Storage.Retry.BaseDelay,
			MaxDelay:     cfg.Storage.Retry.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Breaker:        a.breakerConfig(),
		AttemptTimeout: cfg.Storage.RequestTimeout,
	}, a.health, a.logger)
	a.store = recovery.NewStore(a.origin, a.recovery)
	a.health.RegisterComponent(recovery.ObjectStoreComponent, true)
	a.health.SetComponentMetadata(recovery.ObjectStoreComponent, "backend", cfg.Storage.Backend)

	if err := a.buildTiers(ctx, sizes); err != nil {
		return err
	}
	a.cache = cache.NewTieredCache(a.tiers,
		cache.WithPolicy(cfg.Cache.WritePolicy),
		cache.WithLogger(a.logger),
		cache.WithMetrics(collector))

	budget := cfg.Storage.FetchBudget()
	loadTimeout := cfg.Cache.IndexTable.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = budget
	}
	a.indexes = mrf.NewIndexTable(a.store, mrf.Layout{Prefix: cfg.Storage.Prefix}, mrf.TableConfig{
		Capacity:    sizes.IndexCapacity,
		LoadTimeout: loadTimeout,
	}, a.logger, collector)

	a.pool = buffer.NewPool(buffer.Config{
		MaxBuffers:     cfg.Buffers.MaxBuffers,
		AcquireTimeout: cfg.Buffers.AcquireTimeout,
	})
	a.pool.OnChange(collector.SetBuffersInUse)

	a.resolver = resolver.New(a.cache, a.indexes, a.store, a.pool, resolver.Config{
		FetchTimeout: budget,
	}, a.logger)

	if p := cfg.Monitoring.Profiling; p.Enabled {
		heapLimit, err := config.ParseSize(p.HeapLimit)
		if err != nil {
			return fmt.Errorf("profiling heap limit: %w", err)
		}
		a.profiler = profiling.NewMemoryMonitor(profiling.MonitorConfig{
			Address:        p.Address,
			SampleInterval: p.SampleInterval,
			HeapLimitBytes: uint64(heapLimit),
			GoroutineLimit: p.GoroutineLimit,
		}, a.logger)
	}

	a.warmer = batch.NewWarmer(a.resolver, a.indexes, batch.Config{
		MaxBatchSize:   cfg.Warm.BatchSize,
		MaxConcurrency: cfg.Warm.Concurrency,
		StopOnError:    cfg.Warm.StopOnError,
	}, a.logger)
	a.ops = status.NewTracker(status.TrackerConfig{
		MaxHistorySize: cfg.Warm.HistorySize,
		HealthTracker:  a.health,
	})

	deps := api.Dependencies{
		Tiles:   a.resolver,
		Indexes: a.indexes,
		Store:   a.store,
		Health:  a.health,
		Metrics: collector,
		Logger:  a.logger,
	}
	if cfg.Warm.AdminEnabled {
		deps.Warmer = a.warmer
		deps.Operations = a.ops
		deps.Tiers = a.cache
		deps.Recovery = a.recovery
	}
	a.server = api.NewServer(serverConfig(cfg), deps)
	return nil
}

// buildTiers assembles memory, then the optional Badger and NATS tiers. Every
// tier past memory is guarded so its failures degrade to misses.
func (a *Adapter) buildTiers(ctx context.Context, sizes config.Sizes) error {
	cfg := a.config.Cache

	memory := cache.NewMemoryTier("memory", sizes.MemoryCapacity, cfg.Memory.Threshold, a.logger)
	a.tiers = append(a.tiers, memory)
	a.health.RegisterComponent(health.CacheComponent(memory.Name()), false)

	if cfg.Persistent.Enabled {
		disk, err := cache.NewPersistentTier(cache.PersistentConfig{
			Name:       "disk",
			Directory:  cfg.Persistent.Directory,
			Capacity:   sizes.PersistentCapacity,
			Threshold:  cfg.Persistent.Threshold,
			TTL:        cfg.Persistent.TTL,
			GCInterval: cfg.Persistent.GCInterval,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("persistent tier: %w", err)
		}
		a.closers = append(a.closers, disk)
		a.tiers = append(a.tiers, a.guard(disk))
	}

	if cfg.Distributed.Enabled {
		shared, err := cache.NewNATSTier(ctx, cache.NATSConfig{
			Name:           "nats",
			URL:            cfg.Distributed.URL,
			Bucket:         cfg.Distributed.Bucket,
			TTL:            cfg.Distributed.TTL,
			MaxBytes:       sizes.DistributedMaxBytes,
			Replicas:       cfg.Distributed.Replicas,
			MemoryStorage:  cfg.Distributed.InMemory,
			ConnectTimeout: cfg.Distributed.OpTimeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("distributed tier: %w", err)
		}
		a.closers = append(a.closers, shared)
		a.tiers = append(a.tiers, a.guard(shared))
	}
	return nil
}

func (a *Adapter) guard(tier types.TierCache) *cache.GuardedTier {
	name := health.CacheComponent(tier.Name())
	a.health.RegisterComponent(name, false)
	breaker := circuit.NewCircuitBreaker(name, a.breakerConfig())
	a.metrics.SetBreakerState(name, breaker.GetState())
	return cache.NewGuardedTier(tier, breaker, a.health, a.logger)
}

func (a *Adapter) breakerConfig() circuit.Config {
	cb := a.config.Cache.CircuitBreaker
	return circuit.Config{
		MaxRequests:         cb.MaxRequests,
		Interval:            cb.Interval,
		Timeout:             cb.Timeout,
		ConsecutiveFailures: cb.FailureThreshold,
		OnStateChange: func(name string, _, to circuit.State) {
			a.metrics.SetBreakerState(name, to)
		},
	}
}

// NewStore builds the object store selected by cfg.Backend
func NewStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (types.ObjectStore, error) {
	switch cfg.Backend {
	case "s3":
		return s3store.NewBackend(ctx, cfg.Bucket, &s3store.Config{
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			ForcePathStyle:  cfg.ForcePathStyle,
			RequestTimeout:  cfg.RequestTimeout,
			PoolSize:        cfg.PoolSize,
		}, logger)
	case "minio":
		mc, err := miniostore.NewClient(miniostore.Config{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Region:          cfg.Region,
			Secure:          cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return miniostore.NewStore(mc, cfg.Bucket, logger), nil
	case "local":
		return local.NewDirectoryStore(cfg.Root), nil
	case "memory":
		return local.NewMemoryStore(), nil
	default:
		return nil, tileerrors.Newf(tileerrors.ErrCodeInvalidConfig, "unsupported storage backend %q", cfg.Backend)
	}
}

func serverConfig(cfg *config.Configuration) api.ServerConfig {
	sc := api.ServerConfig{
		Address:        cfg.Server.Address,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		EnableCORS:     cfg.Server.CORS.Enabled,
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		// a dedicated metrics listener takes /metrics off the main server
		EnableMetrics: cfg.Monitoring.Metrics.Enabled && cfg.Monitoring.Metrics.Address == "",
	}
	if cfg.Server.RateLimit.Enabled {
		sc.RequestsPerSecond = cfg.Server.RateLimit.RequestsPerSecond
		sc.Burst = cfg.Server.RateLimit.Burst
	}
	return sc
}

// Start binds the listener and serves in the background
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return tileerrors.NewError(tileerrors.ErrCodeInternalError, "adapter already started")
	}

	a.logger.Info("starting tilecache",
		"address", a.config.Server.Address,
		"backend", a.config.Storage.Backend,
		"tiers", a.cache.Levels())

	ln, err := net.Listen("tcp", a.config.Server.Address)
	if err != nil {
		return tileerrors.Wrap(tileerrors.ErrCodeConnectionFailed, "listen", err).WithContext("address", a.config.Server.Address)
	}
	if err := a.metrics.Start(ctx); err != nil {
		ln.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if a.profiler != nil {
		if err := a.profiler.Start(runCtx); err != nil {
			cancel()
			ln.Close()
			_ = a.metrics.Stop(ctx)
			return err
		}
	}
	a.listener = ln
	a.cancel = cancel
	a.serveErr = make(chan error, 1)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.serveErr <- a.server.Serve(ln)
	}()

	if a.config.Monitoring.HealthChecks.Enabled && a.config.Monitoring.HealthChecks.Interval > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.health.StartHealthChecks(runCtx, a.checkComponent)
		}()
	}

	a.logger.Info("tilecache started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Start
func (a *Adapter) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Err reports a failure of the background server
func (a *Adapter) Err() <-chan error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serveErr
}

// Stop gracefully stops serving and releases every component
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("stopping tilecache")

	var errs []error
	a.mu.Lock()
	started := a.listener != nil
	cancel := a.cancel
	a.mu.Unlock()

	if started {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
		cancel()
		a.wg.Wait()
	}
	if err := a.metrics.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop metrics: %w", err))
	}
	if started && a.profiler != nil {
		if err := a.profiler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop profiling: %w", err))
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("tilecache stopped")
	return errors.Join(errs...)
}

func (a *Adapter) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// checkComponent runs the active check of one health component
func (a *Adapter) checkComponent(ctx context.Context, component string) error {
	timeout := a.config.Monitoring.HealthChecks.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if component == recovery.ObjectStoreComponent {
		if hc, ok := a.origin.(types.HealthChecker); ok {
			return hc.HealthCheck(ctx)
		}
		return health.ErrNoCheck
	}
	for _, tier := range a.tiers {
		if health.CacheComponent(tier.Name()) != component {
			continue
		}
		if g, ok := tier.(*cache.GuardedTier); ok {
			tier = g.Unwrap()
		}
		if hc, ok := tier.(types.HealthChecker); ok {
			return hc.HealthCheck(ctx)
		}
	}
	return health.ErrNoCheck
}

// Resolver returns the tile resolver
func (a *Adapter) Resolver() *resolver.Resolver { return a.resolver }

// Warmer returns the cache warmer configured from the warm section
func (a *Adapter) Warmer() *batch.Warmer { return a.warmer }

// Operations returns the tracker of background operations
func (a *Adapter) Operations() *status.Tracker { return a.ops }

// Store returns the guarded object store
func (a *Adapter) Store() types.ObjectStore { return a.store }

// Indexes returns the pyramid index table
func (a *Adapter) Indexes() *mrf.IndexTable { return a.indexes }

// Cache returns the tiered tile cache
func (a *Adapter) Cache() *cache.TieredCache { return a.cache }

// Health returns the component health tracker
func (a *Adapter) Health() *health.Tracker { return a.health }

// Metrics returns the metrics collector
func (a *Adapter) Metrics() *metrics.Collector { return a.metrics }

// Server returns the HTTP server
func (a *Adapter) Server() *api.Server { return a.server }

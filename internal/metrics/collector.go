package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/holeshot/tilecache/internal/circuit"
	tileerrors "github.com/holeshot/tilecache/pkg/errors"
)

// Collector exports tile cache metrics through a private prometheus registry.
// A nil or disabled Collector accepts every call and records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	requestCounter    *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	cacheCounter      *prometheus.CounterVec
	cacheSizeGauge    *prometheus.GaugeVec
	storageCounter    *prometheus.CounterVec
	storageDuration   *prometheus.HistogramVec
	storageBytes      prometheus.Counter
	indexLoadCounter  *prometheus.CounterVec
	indexLoadDuration prometheus.Histogram
	buffersInUse      prometheus.Gauge
	breakerState      *prometheus.GaugeVec
	errorCounter      *prometheus.CounterVec

	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Address   string            `yaml:"address"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace" validate:"required_if=Enabled true"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "tilecache",
		Labels:    make(map[string]string),
	}
}

// OperationMetrics tracks object store requests of one operation
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalBytes    int64         `json:"total_bytes"`
	Errors        int64         `json:"errors"`
	NotFound      int64         `json:"not_found"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		config:     config,
		logger:     logger.With("component", "metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, tileerrors.Wrap(tileerrors.ErrCodeInvalidConfig, "failed to register metrics", err).
			WithComponent("metrics")
	}
	return c, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.registry != nil
}

// Registry returns the private registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	if !c.enabled() {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if !c.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start serves metrics on a dedicated listener when Address is set
func (c *Collector) Start(_ context.Context) error {
	if !c.enabled() || c.config.Address == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())

	c.server = &http.Server{
		Addr:              c.config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server stopped", "error", err)
		}
	}()
	c.logger.Info("metrics listener started", "address", c.config.Address, "path", c.config.Path)
	return nil
}

// Stop stops the dedicated listener
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordRequest records one HTTP request
func (c *Collector) RecordRequest(route string, status int, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.requestCounter.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordCacheHit implements types.MetricsRecorder
func (c *Collector) RecordCacheHit(tier string) {
	if !c.enabled() {
		return
	}
	c.cacheCounter.WithLabelValues(tier, "hit").Inc()
}

// RecordCacheMiss implements types.MetricsRecorder
func (c *Collector) RecordCacheMiss(tier string) {
	if !c.enabled() {
		return
	}
	c.cacheCounter.WithLabelValues(tier, "miss").Inc()
}

// RecordCacheError implements types.MetricsRecorder
func (c *Collector) RecordCacheError(tier string) {
	if !c.enabled() {
		return
	}
	c.cacheCounter.WithLabelValues(tier, "error").Inc()
}

// UpdateCacheSize implements types.MetricsRecorder
func (c *Collector) UpdateCacheSize(tier string, size int64) {
	if !c.enabled() {
		return
	}
	c.cacheSizeGauge.WithLabelValues(tier).Set(float64(size))
}

// RecordStorageRequest implements types.StorageRecorder
func (c *Collector) RecordStorageRequest(op, status string, bytes int64, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.storageCounter.WithLabelValues(op, status).Inc()
	c.storageDuration.WithLabelValues(op).Observe(duration.Seconds())
	if bytes > 0 && status == "ok" {
		c.storageBytes.Add(float64(bytes))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.operations[op]
	if !ok {
		m = &OperationMetrics{}
		c.operations[op] = m
	}
	m.Count++
	m.TotalDuration += duration
	switch status {
	case "ok":
		m.TotalBytes += bytes
	case "not_found":
		m.NotFound++
	default:
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
}

// RecordIndexLoad records the outcome of one index load
func (c *Collector) RecordIndexLoad(result string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.indexLoadCounter.WithLabelValues(result).Inc()
	c.indexLoadDuration.Observe(duration.Seconds())
}

// SetBuffersInUse reports the number of checked-out transfer buffers
func (c *Collector) SetBuffersInUse(n int64) {
	if !c.enabled() {
		return
	}
	c.buffersInUse.Set(float64(n))
}

// SetBreakerState reports the state of a named circuit breaker
func (c *Collector) SetBreakerState(name string, state circuit.State) {
	if !c.enabled() {
		return
	}
	c.breakerState.WithLabelValues(name).Set(state.Float())
}

// RecordError counts an error by its code
func (c *Collector) RecordError(err error) {
	if !c.enabled() || err == nil {
		return
	}
	code, ok := tileerrors.CodeOf(err)
	if !ok {
		code = "UNCLASSIFIED"
	}
	c.errorCounter.WithLabelValues(string(code)).Inc()
}

// GetMetrics returns a snapshot of object store request tracking
func (c *Collector) GetMetrics() map[string]interface{} {
	if c == nil {
		return map[string]interface{}{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		operations[k] = *v
	}
	return map[string]interface{}{
		"operations": operations,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset).String(),
	}
}

// ResetMetrics clears the object store request tracking
func (c *Collector) ResetMetrics() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns, sub, labels := c.config.Namespace, c.config.Subsystem, prometheus.Labels(c.config.Labels)

	c.requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "status"})

	c.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name:    "request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
	}, []string{"route"})

	c.cacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "cache_requests_total",
		Help: "Total number of cache tier lookups by result",
	}, []string{"tier", "result"})

	c.cacheSizeGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "cache_size_bytes",
		Help: "Accounted size of each cache tier in bytes",
	}, []string{"tier"})

	c.storageCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "objectstore_requests_total",
		Help: "Total number of object store requests",
	}, []string{"op", "status"})

	c.storageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name:    "objectstore_request_duration_seconds",
		Help:    "Duration of object store requests in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
	}, []string{"op"})

	c.storageBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "objectstore_bytes_total",
		Help: "Bytes transferred by successful object store requests",
	})

	c.indexLoadCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "index_loads_total",
		Help: "Index loads by result",
	}, []string{"result"})

	c.indexLoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name:    "index_load_duration_seconds",
		Help:    "Duration of index loads in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	c.buffersInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "buffer_pool_in_use",
		Help: "Transfer buffers currently checked out",
	})

	c.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub, ConstLabels: labels,
		Name: "errors_total",
		Help: "Errors returned to clients by code",
	}, []string{"code"})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.requestCounter,
		c.requestDuration,
		c.cacheCounter,
		c.cacheSizeGauge,
		c.storageCounter,
		c.storageDuration,
		c.storageBytes,
		c.indexLoadCounter,
		c.indexLoadDuration,
		c.buffersInUse,
		c.breakerState,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

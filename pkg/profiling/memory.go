// Package profiling samples process memory and serves pprof on a debug listener
package profiling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
)

// MonitorConfig configures memory monitoring
type MonitorConfig struct {
	// Address of the debug listener; empty disables it
	Address string `yaml:"address" json:"address"`

	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval"`

	// MaxSamples to keep in history
	MaxSamples int `yaml:"max_samples" json:"max_samples"`

	// HeapLimitBytes raises a heap_size alert above this heap; zero disables it
	HeapLimitBytes uint64 `yaml:"heap_limit_bytes" json:"heap_limit_bytes"`

	// GoroutineLimit raises a goroutine_count alert above this count; zero disables it
	GoroutineLimit int `yaml:"goroutine_limit" json:"goroutine_limit"`
}

// DefaultMonitorConfig returns default memory monitoring configuration
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Address:        "127.0.0.1:6060",
		SampleInterval: 10 * time.Second,
		MaxSamples:     360,
		GoroutineLimit: 10000,
	}
}

// MemorySample represents a point-in-time memory snapshot
type MemorySample struct {
	Timestamp     time.Time `json:"timestamp"`
	HeapAlloc     uint64    `json:"heap_alloc"`
	HeapInuse     uint64    `json:"heap_inuse"`
	HeapSys       uint64    `json:"heap_sys"`
	NumGC         uint32    `json:"num_gc"`
	NumGoroutine  int       `json:"num_goroutine"`
	GCPauseNs     uint64    `json:"gc_pause_ns"`
	GCCPUFraction float64   `json:"gc_cpu_fraction"`
}

// Alert represents a memory alert
type Alert struct {
	Timestamp time.Time    `json:"timestamp"`
	Type      string       `json:"type"`
	Message   string       `json:"message"`
	Current   MemorySample `json:"current"`
}

// Alert types
const (
	AlertHeapSize       = "heap_size"
	AlertGoroutineCount = "goroutine_count"
)

// AlertCallback is called when a memory alert is triggered
type AlertCallback func(alert Alert)

// MemoryStats summarizes the sample history
type MemoryStats struct {
	Current     MemorySample `json:"current"`
	PeakHeap    uint64       `json:"peak_heap"`
	SampleCount int          `json:"sample_count"`
	Alerts      int64        `json:"alerts"`
}

// MemoryMonitor keeps a bounded history of memory samples
type MemoryMonitor struct {
	mu        sync.RWMutex
	config    MonitorConfig
	samples   []MemorySample
	peakHeap  uint64
	alerts    int64
	callbacks []AlertCallback
	logger    *slog.Logger

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewMemoryMonitor creates a new memory monitor
func NewMemoryMonitor(config MonitorConfig, logger *slog.Logger) *MemoryMonitor {
	if config.MaxSamples <= 0 {
		config.MaxSamples = DefaultMonitorConfig().MaxSamples
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultMonitorConfig().SampleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryMonitor{
		config:  config,
		samples: make([]MemorySample, 0, config.MaxSamples),
		logger:  logger.With("component", "profiling"),
	}
}

// Start takes a first sample, binds the debug listener and samples until Stop
func (m *MemoryMonitor) Start(ctx context.Context) error {
	m.Sample()

	if m.config.Address != "" {
		ln, err := net.Listen("tcp", m.config.Address)
		if err != nil {
			return fmt.Errorf("debug listener: %w", err)
		}
		m.listener = ln
		m.server = &http.Server{
			Handler:           m.Handler(),
			ReadHeaderTimeout: 30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error("debug listener stopped", "error", err)
			}
		}()
		m.logger.Info("debug listener started", "address", ln.Addr().String())
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.sampleLoop(ctx)
	return nil
}

// Stop stops sampling and the debug listener
func (m *MemoryMonitor) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	var err error
	if m.server != nil {
		err = m.server.Shutdown(ctx)
	}
	m.wg.Wait()
	return err
}

// Addr returns the debug listener address, nil when it is not running
func (m *MemoryMonitor) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// AddAlertCallback registers callback for future alerts
func (m *MemoryMonitor) AddAlertCallback(callback AlertCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Sample records a sample now and checks it against the limits
func (m *MemoryMonitor) Sample() MemorySample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	sample := MemorySample{
		Timestamp:     time.Now(),
		HeapAlloc:     ms.HeapAlloc,
		HeapInuse:     ms.HeapInuse,
		HeapSys:       ms.HeapSys,
		NumGC:         ms.NumGC,
		NumGoroutine:  runtime.NumGoroutine(),
		GCPauseNs:     ms.PauseNs[(ms.NumGC+255)%256],
		GCCPUFraction: ms.GCCPUFraction,
	}
	m.addSample(sample)
	m.checkAlerts(sample)
	return sample
}

// GetSamples returns a copy of the sample history, oldest first
func (m *MemoryMonitor) GetSamples() []MemorySample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MemorySample, len(m.samples))
	copy(out, m.samples)
	return out
}

// GetMemoryStats returns the latest sample and history totals
func (m *MemoryMonitor) GetMemoryStats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := MemoryStats{
		PeakHeap:    m.peakHeap,
		SampleCount: len(m.samples),
		Alerts:      m.alerts,
	}
	if n := len(m.samples); n > 0 {
		stats.Current = m.samples[n-1]
	}
	return stats
}

// Handler serves pprof under /debug/pprof and the sample history under /memory
func (m *MemoryMonitor) Handler() http.Handler {
	r := chi.NewRouter()
	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.Handle("/debug/pprof/{profile}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pprof.Handler(chi.URLParam(r, "profile")).ServeHTTP(w, r)
	}))

	r.Get("/memory/stats", func(w http.ResponseWriter, _ *http.Request) {
		m.writeJSON(w, m.GetMemoryStats())
	})
	r.Get("/memory/samples", func(w http.ResponseWriter, _ *http.Request) {
		samples := m.GetSamples()
		m.writeJSON(w, map[string]interface{}{"samples": samples, "count": len(samples)})
	})
	r.Post("/memory/gc", func(w http.ResponseWriter, _ *http.Request) {
		runtime.GC()
		debug.FreeOSMemory()
		m.writeJSON(w, m.Sample())
	})
	return r
}

func (m *MemoryMonitor) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Debug("write memory response", "error", err)
	}
}

func (m *MemoryMonitor) sampleLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

func (m *MemoryMonitor) addSample(sample MemorySample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sample.HeapAlloc > m.peakHeap {
		m.peakHeap = sample.HeapAlloc
	}
	if len(m.samples) == m.config.MaxSamples {
		copy(m.samples, m.samples[1:])
		m.samples = m.samples[:len(m.samples)-1]
	}
	m.samples = append(m.samples, sample)
}

func (m *MemoryMonitor) checkAlerts(sample MemorySample) {
	if limit := m.config.HeapLimitBytes; limit > 0 && sample.HeapAlloc > limit {
		m.triggerAlert(Alert{
			Timestamp: sample.Timestamp,
			Type:      AlertHeapSize,
			Message:   fmt.Sprintf("heap %d bytes exceeds limit %d", sample.HeapAlloc, limit),
			Current:   sample,
		})
	}
	if limit := m.config.GoroutineLimit; limit > 0 && sample.NumGoroutine > limit {
		m.triggerAlert(Alert{
			Timestamp: sample.Timestamp,
			Type:      AlertGoroutineCount,
			Message:   fmt.Sprintf("%d goroutines exceed limit %d", sample.NumGoroutine, limit),
			Current:   sample,
		})
	}
}

func (m *MemoryMonitor) triggerAlert(alert Alert) {
	m.logger.Warn("memory alert", "type", alert.Type, "message", alert.Message)

	m.mu.Lock()
	m.alerts++
	callbacks := make([]AlertCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, callback := range callbacks {
		callback(alert)
	}
}

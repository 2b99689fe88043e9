package s3

import (
	"sync"
	"time"

	"github.com/holeshot/tilecache/pkg/errors"
)

// BackendMetrics is a snapshot of the requests a Backend has made
type BackendMetrics struct {
	Requests        int64            `json:"requests"`
	Errors          int64            `json:"errors"`
	NotFound        int64            `json:"not_found"`
	ByOperation     map[string]int64 `json:"by_operation,omitempty"`
	RangeReads      int64            `json:"range_reads"`
	BytesDownloaded int64            `json:"bytes_downloaded"`
	BytesUploaded   int64            `json:"bytes_uploaded"`
	AverageLatency  time.Duration    `json:"average_latency"`
	LastError       string           `json:"last_error,omitempty"`
	LastErrorTime   time.Time        `json:"last_error_time,omitempty"`
}

// AverageRangeSize is the mean number of bytes per successful ranged read
func (m BackendMetrics) AverageRangeSize() int64 {
	if m.RangeReads == 0 {
		return 0
	}
	return m.BytesDownloaded / m.RangeReads
}

// ErrorRate is the fraction of requests that failed. Missing objects are not failures.
func (m BackendMetrics) ErrorRate() float64 {
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Requests)
}

// MetricsCollector accumulates BackendMetrics
type MetricsCollector struct {
	mu      sync.Mutex
	metrics BackendMetrics
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// Record counts one request of op that moved n bytes
func (mc *MetricsCollector) Record(op string, latency time.Duration, n int64, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	m := &mc.metrics
	m.Requests++
	if m.ByOperation == nil {
		m.ByOperation = make(map[string]int64)
	}
	m.ByOperation[op]++

	// exponentially weighted, 1/10 per sample
	if m.Requests == 1 {
		m.AverageLatency = latency
	} else {
		m.AverageLatency = (m.AverageLatency*9 + latency) / 10
	}

	switch {
	case err == nil:
		switch op {
		case opRange:
			m.RangeReads++
			m.BytesDownloaded += n
		case opPut:
			m.BytesUploaded += n
		}
	case errors.IsNotFound(err):
		m.NotFound++
	default:
		m.Errors++
		m.LastError = err.Error()
		m.LastErrorTime = time.Now()
	}
}

// GetMetrics returns a copy of the current metrics
func (mc *MetricsCollector) GetMetrics() BackendMetrics {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	m := mc.metrics
	if m.ByOperation != nil {
		m.ByOperation = make(map[string]int64, len(mc.metrics.ByOperation))
		for op, n := range mc.metrics.ByOperation {
			m.ByOperation[op] = n
		}
	}
	return m
}

// Reset zeroes every counter
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = BackendMetrics{}
}

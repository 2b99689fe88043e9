// Package circuit wraps sony/gobreaker with named breakers used to guard
// cache tiers and the object store.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	tileerrors "github.com/holeshot/tilecache/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateHalfOpen - a limited number of trial requests pass through
	StateHalfOpen
	// StateOpen - requests are rejected
	StateOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Float is the gauge value exported for a state.
func (s State) Float() float64 {
	return float64(s)
}

// Config contains circuit breaker configuration
type Config struct {
	// Maximum number of requests allowed to pass through when half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period of the closed state after which counts are cleared
	Interval time.Duration `yaml:"interval"`

	// Period of the open state after which the breaker enters half-open
	Timeout time.Duration `yaml:"timeout"`

	// Consecutive failures that trip the default ReadyToTrip
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`

	ReadyToTrip   func(counts Counts) bool                `yaml:"-"`
	OnStateChange func(name string, from State, to State) `yaml:"-"`
	IsSuccessful  func(err error) bool                    `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// CircuitBreaker is a named breaker. It can be reset, which gobreaker itself does not offer.
type CircuitBreaker struct {
	name   string
	config Config
	logger *slog.Logger

	mu sync.RWMutex
	cb *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreaker creates a new circuit breaker instance
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = 5
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	b := &CircuitBreaker{
		name:   name,
		config: config,
		logger: slog.Default().With("component", "circuit", "breaker", name),
	}
	b.cb = b.newBreaker()
	return b
}

func (b *CircuitBreaker) newBreaker() *gobreaker.CircuitBreaker[any] {
	cfg := b.config
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        b.name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			counts := fromGobreaker(c)
			if cfg.ReadyToTrip != nil {
				return cfg.ReadyToTrip(counts)
			}
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info("circuit breaker state transition",
				"from", stateOf(from).String(), "to", stateOf(to).String())
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, stateOf(from), stateOf(to))
			}
		},
		IsSuccessful: cfg.IsSuccessful,
	})
}

// defaultIsSuccessful treats "not found" and client errors as healthy answers
func defaultIsSuccessful(err error) bool {
	return err == nil || tileerrors.IsNotFound(err) || tileerrors.IsMalformed(err) ||
		errors.Is(err, context.Canceled)
}

// Execute runs fn if the breaker allows it
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.breaker().Execute(func() (any, error) {
		return nil, fn()
	})
	return translate(b.name, err)
}

// ExecuteWithContext runs fn unless ctx is already done or the breaker is open
func (b *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Execute(func() error { return fn(ctx) })
}

// ExecuteWithFallback runs fn, or fallback when the breaker rejects the call.
// The bool reports whether the fallback was used.
func (b *CircuitBreaker) ExecuteWithFallback(fn func() error, fallback func() error) (error, bool) {
	err := b.Execute(fn)
	if IsRejected(err) && fallback != nil {
		return fallback(), true
	}
	return err, false
}

// Call is Execute for functions that return a value
func Call[T any](b *CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := b.breaker().Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if v, ok := res.(T); ok {
			return v, translate(b.name, err)
		}
		return zero, translate(b.name, err)
	}
	v, _ := res.(T)
	return v, nil
}

// GetState returns the current state
func (b *CircuitBreaker) GetState() State {
	return stateOf(b.breaker().State())
}

// GetCounts returns the counts of the current generation
func (b *CircuitBreaker) GetCounts() Counts {
	return fromGobreaker(b.breaker().Counts())
}

// Reset returns the breaker to closed with cleared counts
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	prev := stateOf(b.cb.State())
	b.cb = b.newBreaker()
	b.mu.Unlock()

	if prev != StateClosed && b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, StateClosed)
	}
}

// Name returns the breaker name
func (b *CircuitBreaker) Name() string {
	return b.name
}

func (b *CircuitBreaker) breaker() *gobreaker.CircuitBreaker[any] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb
}

// Errors

var (
	// ErrOpenState is returned when the circuit breaker is open
	ErrOpenState = gobreaker.ErrOpenState

	// ErrTooManyRequests is returned when too many requests are made in half-open state
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// IsRejected reports whether err was produced by the breaker rather than the guarded call
func IsRejected(err error) bool {
	return errors.Is(err, ErrOpenState) || errors.Is(err, ErrTooManyRequests)
}

func translate(name string, err error) error {
	if err == nil || !IsRejected(err) {
		return err
	}
	return tileerrors.Wrap(tileerrors.ErrCodeConnectionFailed, "circuit "+name+" rejected request", err).
		WithComponent("circuit")
}

func stateOf(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func fromGobreaker(c gobreaker.Counts) Counts {
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Manager manages multiple circuit breakers
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
}

// NewManager creates a new circuit breaker manager
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// GetBreaker gets or creates a circuit breaker with the given name
func (m *Manager) GetBreaker(name string) *CircuitBreaker {
	m.mu.RLock()
	if breaker, exists := m.breakers[name]; exists {
		m.mu.RUnlock()
		return breaker
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker := NewCircuitBreaker(name, m.config)
	m.breakers[name] = breaker
	return breaker
}

// ResetAll resets all circuit breakers
func (m *Manager) ResetAll() {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		breakers = append(breakers, breaker)
	}
	m.mu.RUnlock()

	for _, breaker := range breakers {
		breaker.Reset()
	}
}

// CircuitBreakerStats represents statistics for a single circuit breaker
type CircuitBreakerStats struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Counts Counts `json:"counts"`
}

// GetStats returns statistics for all circuit breakers, sorted by name
func (m *Manager) GetStats() []CircuitBreakerStats {
	m.mu.RLock()
	stats := make([]CircuitBreakerStats, 0, len(m.breakers))
	for name, breaker := range m.breakers {
		stats = append(stats, CircuitBreakerStats{
			Name:   name,
			State:  breaker.GetState().String(),
			Counts: breaker.GetCounts(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// HealthCheck fails when any breaker is open
func (m *Manager) HealthCheck() error {
	var open []string
	for _, s := range m.GetStats() {
		if s.State == StateOpen.String() {
			open = append(open, s.Name)
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("circuit breakers open: %v", open)
	}
	return nil
}

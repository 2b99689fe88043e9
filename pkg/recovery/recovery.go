// Package recovery guards calls against remote components with retries, a
// per-component circuit breaker and degraded-state tracking.
package recovery

import (
	"context"
	stderr "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holeshot/tilecache/internal/circuit"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/retry"
	"github.com/holeshot/tilecache/pkg/types"
)

// Config configures recovery behavior
type Config struct {
	// Retry configures retry behavior of transient failures
	Retry retry.Config `yaml:"retry"`

	// Breaker configures the per-component circuit breakers
	Breaker circuit.Config `yaml:"breaker"`

	// AttemptTimeout bounds a single attempt; zero leaves only the caller's deadline
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Retry:          retry.DefaultConfig(),
		AttemptTimeout: 10 * time.Second,
		Breaker: circuit.Config{
			MaxRequests:         5,
			Interval:            30 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

// Manager runs operations against named components
type Manager struct {
	config   Config
	retryer  *retry.Retryer
	breakers *circuit.Manager
	health   types.HealthReporter
	logger   *slog.Logger

	mu       sync.RWMutex
	degraded map[string]*DegradedState
}

// DegradedState tracks a component whose last call failed transiently
type DegradedState struct {
	Component string    `json:"component"`
	Reason    string    `json:"reason"`
	Since     time.Time `json:"since"`
	Failures  int       `json:"failures"`
	LastError time.Time `json:"last_error"`
	Code      string    `json:"code,omitempty"`
}

// Stats provides recovery statistics
type Stats struct {
	DegradedComponents int                           `json:"degraded_components"`
	CircuitBreakers    []circuit.CircuitBreakerStats `json:"circuit_breakers"`
	TotalFailures      int                           `json:"total_failures"`
}

// NewManager creates a manager. health may be nil.
func NewManager(config Config, health types.HealthReporter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		config:   config,
		breakers: circuit.NewManager(config.Breaker),
		health:   health,
		logger:   logger.With("component", "recovery"),
		degraded: make(map[string]*DegradedState),
	}
	m.retryer = retry.New(config.Retry).WithOnRetry(m.onRetry)
	return m
}

func (m *Manager) onRetry(attempt int, err error, delay time.Duration) {
	m.logger.Debug("retrying", "attempt", attempt, "delay", delay, "error", err)
	if m.config.Retry.OnRetry != nil {
		m.config.Retry.OnRetry(attempt, err, delay)
	}
}

// Execute runs fn for component. Each attempt passes the component's breaker;
// transient failures are retried, everything else returns at once.
func (m *Manager) Execute(ctx context.Context, component, operation string, fn func(context.Context) error) error {
	breaker := m.breakers.GetBreaker(component)

	err := m.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		err := breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
			return m.attempt(ctx, component, operation, fn)
		})
		if circuit.IsRejected(err) {
			return retry.Permanent(err)
		}
		return err
	})
	err = m.classify(ctx, component, operation, err)

	switch {
	case err == nil, errors.IsNotFound(err), errors.IsMalformed(err), errors.IsCorruptIndex(err):
		m.handleSuccess(component)
	case stderr.Is(err, context.Canceled):
	default:
		m.handleFailure(component, operation, err)
	}
	return err
}

// Call is Execute for operations returning a value
func Call[T any](ctx context.Context, m *Manager, component, operation string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := m.Execute(ctx, component, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (m *Manager) attempt(ctx context.Context, component, operation string, fn func(context.Context) error) error {
	if m.config.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, m.config.AttemptTimeout)
	defer cancel()

	err := fn(actx)
	if err != nil && ctx.Err() == nil && stderr.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrCodeConnectionTimeout, operation+" timed out", err).
			WithComponent(component).
			WithOperation(operation).
			WithDetail("timeout", m.config.AttemptTimeout.String())
	}
	return err
}

// classify maps the final error onto the error taxonomy
func (m *Manager) classify(ctx context.Context, component, operation string, err error) error {
	if err == nil {
		return nil
	}
	if circuit.IsRejected(err) {
		var te *errors.TileError
		if stderr.As(err, &te) {
			te.WithContext("component", component)
		}
		return err
	}
	if stderr.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return errors.Wrap(errors.ErrCodeOperationTimeout, operation+" deadline exceeded", err).
			WithComponent(component).
			WithOperation(operation)
	}
	if _, ok := errors.CodeOf(err); ok || stderr.Is(err, context.Canceled) {
		return err
	}
	return errors.Wrap(errors.ErrCodeInternalError, fmt.Sprintf("%s failed", operation), err).
		WithComponent(component).
		WithOperation(operation)
}

// RecoverComponent clears the degraded state of component and closes its breaker
func (m *Manager) RecoverComponent(component string) error {
	m.mu.Lock()
	_, ok := m.degraded[component]
	delete(m.degraded, component)
	m.mu.Unlock()

	if !ok {
		return errors.NewError(errors.ErrCodeMalformedRequest, "component not in degraded state").
			WithComponent(component)
	}
	m.breakers.GetBreaker(component).Reset()
	m.logger.Info("component manually recovered", "target", component)
	return nil
}

// IsDegraded reports whether the last call to component failed
func (m *Manager) IsDegraded(component string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded[component] != nil
}

// GetDegradedComponents returns a copy of every degraded component state
func (m *Manager) GetDegradedComponents() map[string]DegradedState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]DegradedState, len(m.degraded))
	for k, v := range m.degraded {
		result[k] = *v
	}
	return result
}

// Breaker returns the breaker guarding component
func (m *Manager) Breaker(component string) *circuit.CircuitBreaker {
	return m.breakers.GetBreaker(component)
}

// GetStats returns recovery statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	total := 0
	for _, state := range m.degraded {
		total += state.Failures
	}
	degraded := len(m.degraded)
	m.mu.RUnlock()

	return Stats{
		DegradedComponents: degraded,
		CircuitBreakers:    m.breakers.GetStats(),
		TotalFailures:      total,
	}
}

func (m *Manager) handleSuccess(component string) {
	m.mu.Lock()
	_, was := m.degraded[component]
	delete(m.degraded, component)
	m.mu.Unlock()

	if was {
		m.logger.Info("component recovered", "target", component)
	}
	if m.health != nil {
		m.health.RecordSuccess(component)
	}
}

func (m *Manager) handleFailure(component, operation string, err error) {
	now := time.Now()

	m.mu.Lock()
	state := m.degraded[component]
	if state == nil {
		state = &DegradedState{Component: component, Since: now}
		m.degraded[component] = state
	}
	state.Reason = fmt.Sprintf("%s: %v", operation, err)
	state.Failures++
	state.LastError = now
	if code, ok := errors.CodeOf(err); ok {
		state.Code = string(code)
	}
	failures := state.Failures
	m.mu.Unlock()

	if circuit.IsRejected(err) {
		m.logger.Debug("call rejected by open breaker", "target", component, "operation", operation)
	} else {
		m.logger.Warn("operation failed", "target", component, "operation", operation,
			"failures", failures, "error", err)
	}
	if m.health != nil {
		m.health.RecordError(component, err)
	}
}

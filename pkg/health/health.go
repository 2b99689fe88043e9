// Package health tracks the health of the object store and the cache tiers
// and derives liveness and readiness from it.
package health

import (
	"context"
	stderr "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holeshot/tilecache/pkg/errors"
)

// Component names reported by the read path
const (
	ComponentObjectStore = "objectstore"
	CachePrefix          = "cache."
)

// CacheComponent returns the component name of a cache tier
func CacheComponent(tier string) string {
	return CachePrefix + tier
}

// ErrNoCheck is returned by a check function for components without an active check
var ErrNoCheck = stderr.New("no active health check")

// HealthState represents the health state of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates the component fails some calls
	StateDegraded

	// StateReadOnly indicates reads succeed while writes fail
	StateReadOnly

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON documents
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string                 `json:"name"`
	State             HealthState            `json:"state"`
	Critical          bool                   `json:"critical"`
	LastStateChange   time.Time              `json:"last_state_change"`
	LastHealthCheck   time.Time              `json:"last_health_check"`
	ConsecutiveErrors int                    `json:"consecutive_errors"`
	LastError         error                  `json:"-"`
	LastErrorMessage  string                 `json:"last_error_message,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

func (h *ComponentHealth) clone() *ComponentHealth {
	c := *h
	c.Metadata = make(map[string]interface{}, len(h.Metadata))
	for k, v := range h.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// Tracker tracks the health of components and determines overall health.
// It implements types.HealthReporter.
type Tracker struct {
	mu              sync.RWMutex
	components      map[string]*ComponentHealth
	config          TrackerConfig
	stateCallbacks  map[HealthState][]StateChangeCallback
	healthListeners []HealthListener
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold" validate:"gte=1"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold" validate:"gtefield=ErrorThreshold"`

	// HealthCheckInterval is the interval for active health checks
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// HealthListener is notified of all health events
type HealthListener interface {
	OnStateChange(component string, oldState, newState HealthState, err error)
	OnHealthCheck(component string, healthy bool, err error)
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		HealthCheckInterval:  30 * time.Second,
	}
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	def := DefaultConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = def.ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = def.HealthCheckInterval
	}
	return &Tracker{
		components:     make(map[string]*ComponentHealth),
		config:         config,
		stateCallbacks: make(map[HealthState][]StateChangeCallback),
	}
}

// RegisterComponent registers a component. A critical component that is
// unavailable makes the service not ready.
func (t *Tracker) RegisterComponent(name string, critical bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, exists := t.components[name]; exists {
		h.Critical = critical
		return
	}
	t.register(name, critical)
}

func (t *Tracker) register(name string, critical bool) *ComponentHealth {
	now := time.Now()
	h := &ComponentHealth{
		Name:            name,
		State:           StateHealthy,
		Critical:        critical,
		LastStateChange: now,
		LastHealthCheck: now,
		Metadata:        make(map[string]interface{}),
	}
	t.components[name] = h
	return h
}

// RecordSuccess records a successful call. Unknown components are registered as non-critical.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	health, exists := t.components[component]
	if !exists {
		health = t.register(component, false)
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()

	if health.ConsecutiveErrors > 0 {
		health.ConsecutiveErrors--
		if health.ConsecutiveErrors == 0 && health.State != StateHealthy {
			t.transitionState(health, StateHealthy)
		}
	}

	for _, listener := range t.healthListeners {
		listener.OnHealthCheck(component, true, nil)
	}
	if oldState != health.State {
		t.notifyStateChange(component, oldState, health.State, nil)
	}
}

// RecordError records a failed call. Unknown components are registered as non-critical.
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	health, exists := t.components[component]
	if !exists {
		health = t.register(component, false)
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()
	health.ConsecutiveErrors++
	health.LastError = err
	if err != nil {
		health.LastErrorMessage = err.Error()
	}

	newState := health.State
	switch {
	case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case health.ConsecutiveErrors >= t.config.ErrorThreshold:
		if isWriteError(err) {
			newState = StateReadOnly
		} else {
			newState = StateDegraded
		}
	}
	if newState != oldState {
		t.transitionState(health, newState)
	}

	for _, listener := range t.healthListeners {
		listener.OnHealthCheck(component, false, err)
	}
	if oldState != health.State {
		t.notifyStateChange(component, oldState, health.State, err)
	}
}

// GetState returns the current health state of a component
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of the health of a component
func (t *Tracker) GetComponentHealth(component string) (*ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}
	return health.clone(), nil
}

// GetAllComponents returns a copy of the health of every component
func (t *Tracker) GetAllComponents() map[string]*ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(t.components))
	for name, health := range t.components {
		result[name] = health.clone()
	}
	return result
}

// GetOverallHealth returns the worst state of any component
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overallState := StateHealthy
	for _, health := range t.components {
		if health.State > overallState {
			overallState = health.State
		}
	}
	return overallState
}

// Ready reports whether every critical component can serve reads. Degraded
// cache tiers never make the service unready; lookups fall through them.
func (t *Tracker) Ready() (bool, []string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var failing []string
	for name, health := range t.components {
		if health.Critical && health.State == StateUnavailable {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return len(failing) == 0, failing
}

// IsHealthy returns true if the component is in a healthy state
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// CanRead returns true if the component can perform read operations
func (t *Tracker) CanRead(component string) bool {
	state := t.GetState(component)
	return state == StateHealthy || state == StateDegraded || state == StateReadOnly
}

// CanWrite returns true if the component can perform write operations
func (t *Tracker) CanWrite(component string) bool {
	state := t.GetState(component)
	return state == StateHealthy || state == StateDegraded
}

// AddStateChangeCallback registers a callback for transitions into state
func (t *Tracker) AddStateChangeCallback(state HealthState, callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stateCallbacks[state] = append(t.stateCallbacks[state], callback)
}

// AddHealthListener registers a health listener
func (t *Tracker) AddHealthListener(listener HealthListener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.healthListeners = append(t.healthListeners, listener)
}

// SetComponentMetadata sets metadata for a component
func (t *Tracker) SetComponentMetadata(component, key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if health, exists := t.components[component]; exists {
		health.Metadata[key] = value
	}
}

// Report is the document served by the health endpoint
type Report struct {
	Status     HealthState                 `json:"status"`
	Ready      bool                        `json:"ready"`
	Failing    []string                    `json:"failing,omitempty"`
	Components map[string]*ComponentHealth `json:"components"`
	Timestamp  time.Time                   `json:"timestamp"`
}

// Report builds a snapshot of every component
func (t *Tracker) Report() Report {
	ready, failing := t.Ready()
	return Report{
		Status:     t.GetOverallHealth(),
		Ready:      ready,
		Failing:    failing,
		Components: t.GetAllComponents(),
		Timestamp:  time.Now(),
	}
}

// transitionState moves a component to a new state; the lock must be held
func (t *Tracker) transitionState(health *ComponentHealth, newState HealthState) {
	health.State = newState
	health.LastStateChange = time.Now()

	if newState == StateHealthy {
		health.ConsecutiveErrors = 0
		health.LastError = nil
		health.LastErrorMessage = ""
	}
}

// notifyStateChange runs callbacks and listeners without holding up the caller
func (t *Tracker) notifyStateChange(component string, oldState, newState HealthState, err error) {
	for _, callback := range t.stateCallbacks[newState] {
		go callback(component, oldState, newState, err)
	}
	for _, listener := range t.healthListeners {
		go listener.OnStateChange(component, oldState, newState, err)
	}
}

// isWriteError reports whether err is a failed write while reads may still work
func isWriteError(err error) bool {
	var tileErr *errors.TileError
	if stderr.As(err, &tileErr) {
		return tileErr.Code == errors.ErrCodeStorageWrite
	}
	return false
}

// StartHealthChecks runs checkFn for every component each interval until ctx is done
func (t *Tracker) StartHealthChecks(ctx context.Context, checkFn func(ctx context.Context, component string) error) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.performHealthChecks(ctx, checkFn)
		}
	}
}

func (t *Tracker) performHealthChecks(ctx context.Context, checkFn func(ctx context.Context, component string) error) {
	t.mu.RLock()
	components := make([]string, 0, len(t.components))
	for name := range t.components {
		components = append(components, name)
	}
	t.mu.RUnlock()
	sort.Strings(components)

	for _, component := range components {
		if ctx.Err() != nil {
			return
		}
		err := checkFn(ctx, component)
		switch {
		case stderr.Is(err, ErrNoCheck):
		case err != nil:
			t.RecordError(component, err)
		default:
			t.RecordSuccess(component)
		}
	}
}

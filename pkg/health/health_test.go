package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/holeshot/tilecache/pkg/errors"
)

func TestTracker_RegisterComponent(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentObjectStore, true)

	if state := tracker.GetState(ComponentObjectStore); state != StateHealthy {
		t.Errorf("Expected initial state to be StateHealthy, got %s", state)
	}
	if state := tracker.GetState("never-registered"); state != StateUnavailable {
		t.Errorf("Unknown component should report unavailable, got %s", state)
	}
}

func TestTracker_RecordSuccess(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentObjectStore, true)

	tracker.RecordError(ComponentObjectStore, fmt.Errorf("reset"))
	tracker.RecordError(ComponentObjectStore, fmt.Errorf("reset"))
	tracker.RecordSuccess(ComponentObjectStore)
	tracker.RecordSuccess(ComponentObjectStore)

	health, err := tracker.GetComponentHealth(ComponentObjectStore)
	if err != nil {
		t.Fatalf("Failed to get component health: %v", err)
	}
	if health.ConsecutiveErrors != 0 {
		t.Errorf("Expected ConsecutiveErrors=0 after successes, got %d", health.ConsecutiveErrors)
	}
}

func TestTracker_RecordUnknownRegistersNonCritical(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RecordError(CacheComponent("nats"), fmt.Errorf("no responders"))

	health, err := tracker.GetComponentHealth("cache.nats")
	if err != nil {
		t.Fatalf("component should be registered on first report: %v", err)
	}
	if health.Critical {
		t.Error("implicitly registered components are not critical")
	}
	if health.ConsecutiveErrors != 1 || health.LastErrorMessage != "no responders" {
		t.Errorf("health = %+v", health)
	}
}

func TestTracker_StateThresholds(t *testing.T) {
	tests := []struct {
		name   string
		errors int
		err    error
		want   HealthState
	}{
		{"below threshold", 2, fmt.Errorf("x"), StateHealthy},
		{"degraded", 3, errors.NewError(errors.ErrCodeStorageRead, "x"), StateDegraded},
		{"read only on write failures", 3, errors.NewError(errors.ErrCodeStorageWrite, "x"), StateReadOnly},
		{"unavailable", 10, errors.NewError(errors.ErrCodeConnectionFailed, "x"), StateUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(TrackerConfig{ErrorThreshold: 3, UnavailableThreshold: 10})
			tracker.RegisterComponent(ComponentObjectStore, true)
			for i := 0; i < tt.errors; i++ {
				tracker.RecordError(ComponentObjectStore, tt.err)
			}
			if got := tracker.GetState(ComponentObjectStore); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTracker_GetOverallHealth(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentObjectStore, true)
	tracker.RegisterComponent(CacheComponent("memory"), false)
	tracker.RegisterComponent(CacheComponent("nats"), false)

	if overall := tracker.GetOverallHealth(); overall != StateHealthy {
		t.Errorf("Expected StateHealthy with all healthy components, got %s", overall)
	}

	for i := 0; i < 3; i++ {
		tracker.RecordError(CacheComponent("nats"), fmt.Errorf("error %d", i))
	}
	if overall := tracker.GetOverallHealth(); overall != StateDegraded {
		t.Errorf("Expected StateDegraded with one degraded component, got %s", overall)
	}

	for i := 0; i < 10; i++ {
		tracker.RecordError(CacheComponent("memory"), fmt.Errorf("error %d", i))
	}
	if overall := tracker.GetOverallHealth(); overall != StateUnavailable {
		t.Errorf("Expected StateUnavailable with one unavailable component, got %s", overall)
	}
}

func TestTracker_Ready(t *testing.T) {
	tracker := NewTracker(TrackerConfig{ErrorThreshold: 1, UnavailableThreshold: 2})
	tracker.RegisterComponent(ComponentObjectStore, true)

	for i := 0; i < 5; i++ {
		tracker.RecordError(CacheComponent("nats"), fmt.Errorf("down"))
	}
	if ready, failing := tracker.Ready(); !ready {
		t.Errorf("an unavailable cache tier must not make the service unready, failing=%v", failing)
	}

	tracker.RecordError(ComponentObjectStore, fmt.Errorf("down"))
	tracker.RecordError(ComponentObjectStore, fmt.Errorf("down"))
	ready, failing := tracker.Ready()
	if ready {
		t.Error("unavailable object store should make the service unready")
	}
	if len(failing) != 1 || failing[0] != ComponentObjectStore {
		t.Errorf("failing = %v", failing)
	}

	tracker.RecordSuccess(ComponentObjectStore)
	tracker.RecordSuccess(ComponentObjectStore)
	if ready, _ := tracker.Ready(); !ready {
		t.Error("object store recovered, service should be ready")
	}
}

func TestTracker_CanRead(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentObjectStore, true)

	tests := []struct {
		state    HealthState
		canRead  bool
		canWrite bool
	}{
		{StateHealthy, true, true},
		{StateDegraded, true, true},
		{StateReadOnly, true, false},
		{StateUnavailable, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			tracker.mu.Lock()
			tracker.components[ComponentObjectStore].State = tt.state
			tracker.mu.Unlock()

			if got := tracker.CanRead(ComponentObjectStore); got != tt.canRead {
				t.Errorf("CanRead() = %v, want %v", got, tt.canRead)
			}
			if got := tracker.CanWrite(ComponentObjectStore); got != tt.canWrite {
				t.Errorf("CanWrite() = %v, want %v", got, tt.canWrite)
			}
		})
	}
}

func TestTracker_StateChangeCallback(t *testing.T) {
	tracker := NewTracker(TrackerConfig{ErrorThreshold: 3, UnavailableThreshold: 10})
	tracker.RegisterComponent(ComponentObjectStore, true)

	type change struct {
		component string
		from, to  HealthState
	}
	got := make(chan change, 1)
	tracker.AddStateChangeCallback(StateDegraded, func(component string, oldState, newState HealthState, err error) {
		got <- change{component, oldState, newState}
	})

	for i := 0; i < 3; i++ {
		tracker.RecordError(ComponentObjectStore, fmt.Errorf("error %d", i))
	}

	select {
	case c := <-got:
		if c.component != ComponentObjectStore || c.from != StateHealthy || c.to != StateDegraded {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("State change callback was not called")
	}
}

type testHealthListener struct {
	mu           sync.Mutex
	healthChecks []bool
}

func (l *testHealthListener) OnStateChange(string, HealthState, HealthState, error) {}

func (l *testHealthListener) OnHealthCheck(_ string, healthy bool, _ error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.healthChecks = append(l.healthChecks, healthy)
}

func TestTracker_HealthListener(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentObjectStore, true)

	listener := &testHealthListener{}
	tracker.AddHealthListener(listener)

	tracker.RecordError(ComponentObjectStore, fmt.Errorf("test error"))
	tracker.RecordSuccess(ComponentObjectStore)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.healthChecks) != 2 || listener.healthChecks[0] || !listener.healthChecks[1] {
		t.Errorf("health checks = %v, want [false true]", listener.healthChecks)
	}
}

func TestTracker_SetComponentMetadata(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentObjectStore, true)
	tracker.SetComponentMetadata(ComponentObjectStore, "backend", "s3")

	health, err := tracker.GetComponentHealth(ComponentObjectStore)
	if err != nil {
		t.Fatalf("Failed to get component health: %v", err)
	}
	if health.Metadata["backend"] != "s3" {
		t.Errorf("Expected backend='s3', got '%v'", health.Metadata["backend"])
	}

	health.Metadata["backend"] = "changed"
	again, _ := tracker.GetComponentHealth(ComponentObjectStore)
	if again.Metadata["backend"] != "s3" {
		t.Error("returned health must be a copy")
	}
}

func TestTracker_StartHealthChecks(t *testing.T) {
	tracker := NewTracker(TrackerConfig{ErrorThreshold: 2, UnavailableThreshold: 5, HealthCheckInterval: 20 * time.Millisecond})
	tracker.RegisterComponent(ComponentObjectStore, true)
	tracker.RegisterComponent(CacheComponent("memory"), false)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var checks atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.StartHealthChecks(ctx, func(_ context.Context, component string) error {
			if component == CacheComponent("memory") {
				return ErrNoCheck
			}
			checks.Add(1)
			return fmt.Errorf("bucket unreachable")
		})
	}()
	<-done

	if checks.Load() < 2 {
		t.Errorf("Expected at least 2 health checks, got %d", checks.Load())
	}
	if state := tracker.GetState(ComponentObjectStore); state == StateHealthy {
		t.Errorf("Expected non-healthy state after failed checks, got %s", state)
	}
	health, _ := tracker.GetComponentHealth(CacheComponent("memory"))
	if health.ConsecutiveErrors != 0 || health.State != StateHealthy {
		t.Errorf("skipped component was touched: %+v", health)
	}
}

func TestTracker_Report(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentObjectStore, true)

	data, err := json.Marshal(tracker.Report())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["status"] != "healthy" || doc["ready"] != true {
		t.Errorf("report = %s", data)
	}
}

func TestHealthState_String(t *testing.T) {
	tests := []struct {
		state    HealthState
		expected string
	}{
		{StateHealthy, "healthy"},
		{StateDegraded, "degraded"},
		{StateReadOnly, "read-only"},
		{StateUnavailable, "unavailable"},
		{HealthState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.state.String(); result != tt.expected {
				t.Errorf("String() = %s, want %s", result, tt.expected)
			}
		})
	}
}

func TestTracker_GetComponentHealth_NotRegistered(t *testing.T) {
	tracker := NewTracker(DefaultConfig())
	if _, err := tracker.GetComponentHealth("non-existent"); err == nil {
		t.Error("Expected error for non-existent component")
	}
}

func BenchmarkTracker_RecordSuccess(b *testing.B) {
	tracker := NewTracker(DefaultConfig())
	tracker.RegisterComponent(ComponentObjectStore, true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.RecordSuccess(ComponentObjectStore)
	}
}

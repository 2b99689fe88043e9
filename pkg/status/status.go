// Package status tracks long-running background operations, such as cache
// warming, and reports their progress.
package status

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/health"
)

// OperationStatus represents the status of a long-running operation
type OperationStatus int

const (
	// StatusPending indicates the operation has been queued but not started
	StatusPending OperationStatus = iota

	// StatusInProgress indicates the operation is currently executing
	StatusInProgress

	// StatusCompleted indicates the operation completed successfully
	StatusCompleted

	// StatusFailed indicates the operation failed
	StatusFailed

	// StatusCanceled indicates the operation was canceled
	StatusCanceled
)

// String returns the string representation of an operation status
func (s OperationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON
func (s OperationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Operation represents a tracked operation with progress reporting
type Operation struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Status    OperationStatus        `json:"status"`
	Progress  *Progress              `json:"progress,omitempty"`
	StartTime time.Time              `json:"start_time"`
	EndTime   *time.Time             `json:"end_time,omitempty"`
	Error     *errors.TileError      `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	// Result holds the final outcome reported by the operation
	Result interface{} `json:"result,omitempty"`

	mu          sync.RWMutex
	cancelFunc  context.CancelFunc
	subscribers []chan OperationUpdate
}

// Progress tracks the progress of an operation
type Progress struct {
	Current    int64          `json:"current"`
	Total      int64          `json:"total"`
	Unit       string         `json:"unit"`
	Percentage float64        `json:"percentage"`
	Rate       float64        `json:"rate,omitempty"` // units per second
	ETA        *time.Duration `json:"eta,omitempty"`
	Message    string         `json:"message,omitempty"`

	lastUpdate  time.Time
	lastCurrent int64
}

// OperationUpdate represents an update to an operation's status
type OperationUpdate struct {
	Operation *Operation `json:"operation"`
	Timestamp time.Time  `json:"timestamp"`
	Message   string     `json:"message,omitempty"`
}

// Tracker tracks all operations and provides status information
type Tracker struct {
	mu            sync.RWMutex
	operations    map[string]*Operation
	history       []*Operation
	maxHistory    int
	healthTracker *health.Tracker
}

// TrackerConfig configures operation tracking behavior
type TrackerConfig struct {
	MaxHistorySize int             `json:"max_history_size"`
	HealthTracker  *health.Tracker `json:"-"`
}

// DefaultTrackerConfig returns default configuration
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxHistorySize: 100,
	}
}

// NewTracker creates a new operation tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = DefaultTrackerConfig().MaxHistorySize
	}

	return &Tracker{
		operations:    make(map[string]*Operation),
		history:       make([]*Operation, 0, config.MaxHistorySize),
		maxHistory:    config.MaxHistorySize,
		healthTracker: config.HealthTracker,
	}
}

func notFound(opID string) error {
	return errors.NewError(errors.ErrCodeObjectNotFound, "operation not found").
		WithComponent("status").
		WithContext("operation_id", opID)
}

// StartOperation creates and starts tracking a new operation. The returned
// context is canceled when the operation ends or is canceled.
func (t *Tracker) StartOperation(ctx context.Context, opType string, metadata map[string]interface{}) (*Operation, context.Context) {
	opCtx, cancel := context.WithCancel(ctx)
	op := &Operation{
		ID:         uuid.NewString(),
		Type:       opType,
		Status:     StatusInProgress,
		StartTime:  time.Now(),
		Metadata:   metadata,
		cancelFunc: cancel,
	}

	t.mu.Lock()
	t.operations[op.ID] = op
	t.mu.Unlock()

	return op, opCtx
}

func (t *Tracker) active(opID string) (*Operation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	op, ok := t.operations[opID]
	if !ok {
		return nil, notFound(opID)
	}
	return op, nil
}

// UpdateProgress updates the progress of an operation
func (t *Tracker) UpdateProgress(opID string, current, total int64, unit string) error {
	op, err := t.active(opID)
	if err != nil {
		return err
	}

	op.mu.Lock()
	if op.Progress == nil {
		op.Progress = &Progress{Unit: unit, lastUpdate: op.StartTime}
	}
	op.Progress.Update(current, total)
	op.mu.Unlock()

	t.notifySubscribers(op, "progress updated")
	return nil
}

// SetMessage sets the current status message of an operation
func (t *Tracker) SetMessage(opID string, message string) error {
	op, err := t.active(opID)
	if err != nil {
		return err
	}

	op.mu.Lock()
	if op.Progress == nil {
		op.Progress = &Progress{}
	}
	op.Progress.Message = message
	op.mu.Unlock()

	t.notifySubscribers(op, message)
	return nil
}

// CompleteOperation marks an operation as completed with an optional result
func (t *Tracker) CompleteOperation(opID string, result interface{}) error {
	return t.finish(opID, StatusCompleted, result, nil, "operation completed")
}

// FailOperation marks an operation as failed. A cancellation error marks it canceled instead.
func (t *Tracker) FailOperation(opID string, result interface{}, err error) error {
	if stderrors.Is(err, context.Canceled) {
		return t.finish(opID, StatusCanceled, result, nil, "operation canceled")
	}
	te, ok := errors.AsTileError(err)
	if !ok {
		te = errors.Wrap(errors.ErrCodeInternalError, "operation failed", err)
	}
	return t.finish(opID, StatusFailed, result, te, "operation failed: "+err.Error())
}

// CancelOperation cancels an operation
func (t *Tracker) CancelOperation(opID string) error {
	return t.finish(opID, StatusCanceled, nil, nil, "operation canceled")
}

func (t *Tracker) finish(opID string, status OperationStatus, result interface{}, opErr *errors.TileError, message string) error {
	t.mu.Lock()
	op, ok := t.operations[opID]
	if !ok {
		t.mu.Unlock()
		return notFound(opID)
	}

	op.mu.Lock()
	op.Status = status
	now := time.Now()
	op.EndTime = &now
	op.Error = opErr
	if result != nil {
		op.Result = result
	}
	if op.cancelFunc != nil {
		op.cancelFunc()
	}
	subscribers := op.subscribers
	op.subscribers = nil
	op.mu.Unlock()

	delete(t.operations, opID)
	t.history = append([]*Operation{op.Copy()}, t.history...)
	if len(t.history) > t.maxHistory {
		t.history = t.history[:t.maxHistory]
	}
	t.mu.Unlock()

	// final update, then close so subscribers see the end of the stream
	t.send(op, subscribers, message)
	for _, ch := range subscribers {
		close(ch)
	}
	return nil
}

// GetOperation returns an active or finished operation by ID
func (t *Tracker) GetOperation(opID string) (*Operation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if op, ok := t.operations[opID]; ok {
		return op.Copy(), nil
	}
	for _, op := range t.history {
		if op.ID == opID {
			return op.Copy(), nil
		}
	}
	return nil, notFound(opID)
}

// GetAllOperations returns all active operations
func (t *Tracker) GetAllOperations() []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ops := make([]*Operation, 0, len(t.operations))
	for _, op := range t.operations {
		ops = append(ops, op.Copy())
	}
	return ops
}

// GetHistory returns finished operations, most recent first
func (t *Tracker) GetHistory(limit int) []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	result := make([]*Operation, limit)
	copy(result, t.history[:limit])
	return result
}

// Subscribe subscribes to operation updates. The channel is closed when the operation ends.
func (t *Tracker) Subscribe(opID string) (<-chan OperationUpdate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	op, ok := t.operations[opID]
	if !ok {
		return nil, notFound(opID)
	}

	ch := make(chan OperationUpdate, 10)
	op.mu.Lock()
	op.subscribers = append(op.subscribers, ch)
	op.mu.Unlock()
	return ch, nil
}

// SystemStatus represents the overall system status
type SystemStatus struct {
	Timestamp        time.Time          `json:"timestamp"`
	ActiveOps        int                `json:"active_operations"`
	OperationsByType map[string]int     `json:"operations_by_type"`
	HealthState      health.HealthState `json:"health_state"`
}

// GetSystemStatus returns the active operation counts and the overall health
func (t *Tracker) GetSystemStatus() *SystemStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := &SystemStatus{
		Timestamp:        time.Now(),
		ActiveOps:        len(t.operations),
		OperationsByType: make(map[string]int),
	}
	for _, op := range t.operations {
		status.OperationsByType[op.Type]++
	}
	if t.healthTracker != nil {
		status.HealthState = t.healthTracker.GetOverallHealth()
	}
	return status
}

func (t *Tracker) notifySubscribers(op *Operation, message string) {
	op.mu.RLock()
	subscribers := make([]chan OperationUpdate, len(op.subscribers))
	copy(subscribers, op.subscribers)
	op.mu.RUnlock()

	t.send(op, subscribers, message)
}

// send never blocks; a full subscriber misses the update
func (t *Tracker) send(op *Operation, subscribers []chan OperationUpdate, message string) {
	if len(subscribers) == 0 {
		return
	}
	update := OperationUpdate{
		Operation: op.Copy(),
		Timestamp: time.Now(),
		Message:   message,
	}
	for _, ch := range subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}

// Copy creates a deep copy of an operation
func (o *Operation) Copy() *Operation {
	o.mu.RLock()
	defer o.mu.RUnlock()

	c := &Operation{
		ID:        o.ID,
		Type:      o.Type,
		Status:    o.Status,
		StartTime: o.StartTime,
		EndTime:   o.EndTime,
		Error:     o.Error,
		Result:    o.Result,
		Metadata:  make(map[string]interface{}, len(o.Metadata)),
	}
	for k, v := range o.Metadata {
		c.Metadata[k] = v
	}
	if o.Progress != nil {
		c.Progress = o.Progress.Copy()
	}
	return c
}

// Update updates progress, rate and ETA
func (p *Progress) Update(current, total int64) {
	now := time.Now()
	p.Current = current
	p.Total = total
	if total > 0 {
		p.Percentage = float64(current) / float64(total) * 100
	}

	if !p.lastUpdate.IsZero() && current > p.lastCurrent {
		if elapsed := now.Sub(p.lastUpdate).Seconds(); elapsed > 0 {
			p.Rate = float64(current-p.lastCurrent) / elapsed
		}
		if p.Rate > 0 && total > current {
			eta := time.Duration(float64(total-current) / p.Rate * float64(time.Second))
			p.ETA = &eta
		}
	}

	p.lastUpdate = now
	p.lastCurrent = current
}

// Copy creates a deep copy of progress
func (p *Progress) Copy() *Progress {
	c := *p
	if p.ETA != nil {
		eta := *p.ETA
		c.ETA = &eta
	}
	return &c
}

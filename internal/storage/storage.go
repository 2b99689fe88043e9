// Package storage holds what the object store backends share: error
// construction, range validation and request accounting.
package storage

import (
	"fmt"
	"time"

	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

// Request outcomes reported to a types.StorageRecorder
const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// NotFound builds the error returned when key does not exist
func NotFound(component, key string) *errors.TileError {
	return errors.NewError(errors.ErrCodeObjectNotFound, "object not found").
		WithComponent(component).
		WithContext("key", key)
}

// ReadError wraps a failed read of key
func ReadError(component, op, key string, cause error) *errors.TileError {
	return errors.Wrap(errors.ErrCodeStorageRead, fmt.Sprintf("%s failed", op), cause).
		WithComponent(component).
		WithOperation(op).
		WithContext("key", key)
}

// WriteError wraps a failed write of key
func WriteError(component, key string, cause error) *errors.TileError {
	return errors.Wrap(errors.ErrCodeStorageWrite, "PutObject failed", cause).
		WithComponent(component).
		WithOperation("PutObject").
		WithContext("key", key)
}

// CheckRange rejects negative offsets and non-positive lengths
func CheckRange(key string, offset, length int64) error {
	if offset < 0 || length <= 0 {
		return errors.Newf(errors.ErrCodeMalformedRequest, "invalid range offset=%d length=%d", offset, length).
			WithComponent("storage").
			WithContext("key", key)
	}
	return nil
}

// CheckBounds verifies that [offset, offset+length) lies inside an object of size bytes
func CheckBounds(component, key string, offset, length, size int64) error {
	if offset+length > size {
		return errors.Newf(errors.ErrCodeRangeNotSatisfiable,
			"range %d+%d exceeds object size %d", offset, length, size).
			WithComponent(component).
			WithContext("key", key)
	}
	return nil
}

// StatusOf classifies err for request accounting
func StatusOf(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.IsNotFound(err):
		return StatusNotFound
	default:
		return StatusError
	}
}

// Observe reports one request to rec. A nil recorder is ignored.
func Observe(rec types.StorageRecorder, op string, start time.Time, n int64, err error) {
	if rec == nil {
		return
	}
	rec.RecordStorageRequest(op, StatusOf(err), n, time.Since(start))
}

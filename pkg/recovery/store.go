package recovery

import (
	"context"
	"fmt"

	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

// ObjectStoreComponent is the component name the guarded store reports under
const ObjectStoreComponent = "objectstore"

// Store guards an object store with a Manager. It implements types.ObjectStore,
// types.RangeReader, types.ObjectWriter and types.HealthChecker whatever the
// wrapped store supports; missing capabilities fall back or fail cleanly.
type Store struct {
	inner     types.ObjectStore
	manager   *Manager
	component string
}

// NewStore wraps inner
func NewStore(inner types.ObjectStore, manager *Manager) *Store {
	return &Store{inner: inner, manager: manager, component: ObjectStoreComponent}
}

// FetchRange implements types.ObjectStore
func (s *Store) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	return Call(ctx, s.manager, s.component, "FetchRange", func(ctx context.Context) ([]byte, error) {
		return s.inner.FetchRange(ctx, key, offset, length)
	})
}

// ReadRange implements types.RangeReader. Stores without ReadRange are read
// through FetchRange and copied.
func (s *Store) ReadRange(ctx context.Context, key string, offset int64, dst []byte) error {
	return s.manager.Execute(ctx, s.component, "FetchRange", func(ctx context.Context) error {
		if rr, ok := s.inner.(types.RangeReader); ok {
			return rr.ReadRange(ctx, key, offset, dst)
		}
		data, err := s.inner.FetchRange(ctx, key, offset, int64(len(dst)))
		if err != nil {
			return err
		}
		copy(dst, data)
		return nil
	})
}

// HeadSize implements types.ObjectStore
func (s *Store) HeadSize(ctx context.Context, key string) (int64, error) {
	return Call(ctx, s.manager, s.component, "HeadObject", func(ctx context.Context) (int64, error) {
		return s.inner.HeadSize(ctx, key)
	})
}

// PutObject implements types.ObjectWriter
func (s *Store) PutObject(ctx context.Context, key string, data []byte) error {
	w, ok := s.inner.(types.ObjectWriter)
	if !ok {
		return errors.Newf(errors.ErrCodeStorageWrite, "%s does not accept writes", s.inner).
			WithComponent(s.component).
			WithContext("key", key)
	}
	return s.manager.Execute(ctx, s.component, "PutObject", func(ctx context.Context) error {
		return w.PutObject(ctx, key, data)
	})
}

// HealthCheck implements types.HealthChecker. The check bypasses retries but
// still reports its outcome.
func (s *Store) HealthCheck(ctx context.Context) error {
	hc, ok := s.inner.(types.HealthChecker)
	if !ok {
		return nil
	}
	err := hc.HealthCheck(ctx)
	if s.manager.health != nil {
		if err != nil {
			s.manager.health.RecordError(s.component, err)
		} else {
			s.manager.health.RecordSuccess(s.component)
		}
	}
	return err
}

// Unwrap returns the guarded store
func (s *Store) Unwrap() types.ObjectStore { return s.inner }

func (s *Store) String() string {
	return fmt.Sprintf("guarded(%v)", s.inner)
}

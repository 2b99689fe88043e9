package local

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/holeshot/tilecache/internal/storage"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
	"github.com/holeshot/tilecache/pkg/utils"
)

const directoryComponent = "dirstore"

/*
DirectoryStore serves objects from files under a root directory. Object keys
map to slash separated relative paths. It is meant for development and for
serving pyramids produced by `tilecache pack` without an object store.
*/
type DirectoryStore struct {
	root     string
	recorder types.StorageRecorder
}

// NewDirectoryStore creates a store rooted at root
func NewDirectoryStore(root string) *DirectoryStore {
	return &DirectoryStore{root: root}
}

// SetRecorder attaches a request recorder
func (d *DirectoryStore) SetRecorder(rec types.StorageRecorder) {
	d.recorder = rec
}

// PutObject writes data to the file for key, creating parent directories
func (d *DirectoryStore) PutObject(_ context.Context, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { storage.Observe(d.recorder, "PutObject", start, int64(len(data)), err) }()

	path, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return storage.WriteError(directoryComponent, key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return storage.WriteError(directoryComponent, key, err)
	}
	return nil
}

// FetchRange reads length bytes of key from offset
func (d *DirectoryStore) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := storage.CheckRange(key, offset, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if err := d.ReadRange(ctx, key, offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRange fills dst from key starting at offset
func (d *DirectoryStore) ReadRange(ctx context.Context, key string, offset int64, dst []byte) (err error) {
	start := time.Now()
	defer func() { storage.Observe(d.recorder, "FetchRange", start, int64(len(dst)), err) }()

	if err := storage.CheckRange(key, offset, int64(len(dst))); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := d.path(key)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return d.translate("FetchRange", key, err)
	}
	defer f.Close()

	if _, err := f.ReadAt(dst, offset); err != nil {
		if stderrors.Is(err, io.EOF) {
			info, serr := f.Stat()
			if serr == nil {
				return storage.CheckBounds(directoryComponent, key, offset, int64(len(dst)), info.Size())
			}
		}
		return storage.ReadError(directoryComponent, "FetchRange", key, err)
	}
	return nil
}

// HeadSize returns the size of the file for key
func (d *DirectoryStore) HeadSize(_ context.Context, key string) (size int64, err error) {
	start := time.Now()
	defer func() { storage.Observe(d.recorder, "HeadObject", start, 0, err) }()

	path, err := d.path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, d.translate("HeadObject", key, err)
	}
	if info.IsDir() {
		return 0, storage.NotFound(directoryComponent, key)
	}
	return info.Size(), nil
}

// HealthCheck verifies the root directory exists
func (d *DirectoryStore) HealthCheck(context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return storage.ReadError(directoryComponent, "HealthCheck", d.root, err)
	}
	if !info.IsDir() {
		return errors.Newf(errors.ErrCodeInvalidConfig, "%s is not a directory", d.root).
			WithComponent(directoryComponent)
	}
	return nil
}

// Root returns the directory the store serves from
func (d *DirectoryStore) Root() string { return d.root }

func (d *DirectoryStore) String() string {
	return fmt.Sprintf("directory(%s)", d.root)
}

// path maps key to a file under root, rejecting keys that escape it
func (d *DirectoryStore) path(key string) (string, error) {
	p, err := utils.KeyPath(d.root, key)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeMalformedRequest, fmt.Sprintf("invalid object key %q", key), err).
			WithComponent(directoryComponent)
	}
	return p, nil
}

func (d *DirectoryStore) translate(op, key string, err error) error {
	if stderrors.Is(err, os.ErrNotExist) {
		return storage.NotFound(directoryComponent, key)
	}
	return storage.ReadError(directoryComponent, op, key, err)
}

package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for log rotation
type RotationConfig struct {
	// Filename is the file to write logs to
	Filename string

	// MaxSizeMB is the size in megabytes that triggers rotation (0 = never rotate)
	MaxSizeMB int64

	// MaxBackups is the number of rotated files to keep (0 = keep one)
	MaxBackups int

	// Compress gzips rotated files
	Compress bool
}

// LogRotator is an io.WriteCloser that rotates its file by size. Rotated
// files are named <file>.1 (newest) through <file>.<MaxBackups>, with a .gz
// suffix when compressed.
type LogRotator struct {
	mu sync.Mutex

	config  RotationConfig
	maxSize int64
	file    *os.File
	size    int64
}

// NewLogRotator opens (appending to) the configured file
func NewLogRotator(config RotationConfig) (*LogRotator, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("log filename is required")
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = 1
	}

	lr := &LogRotator{
		config:  config,
		maxSize: config.MaxSizeMB * 1024 * 1024,
	}
	if err := lr.open(); err != nil {
		return nil, err
	}
	return lr, nil
}

// Write implements io.Writer. A single write is never split across files.
func (lr *LogRotator) Write(p []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return 0, os.ErrClosed
	}
	if lr.maxSize > 0 && lr.size > 0 && lr.size+int64(len(p)) > lr.maxSize {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := lr.file.Write(p)
	lr.size += int64(n)
	return n, err
}

// Rotate forces a rotation
func (lr *LogRotator) Rotate() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rotate()
}

// Close closes the log file
func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return nil
	}
	err := lr.file.Close()
	lr.file = nil
	return err
}

func (lr *LogRotator) backupName(n int) string {
	name := fmt.Sprintf("%s.%d", lr.config.Filename, n)
	if lr.config.Compress {
		name += ".gz"
	}
	return name
}

func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return err
		}
		lr.file = nil
	}

	// Shift backups up by one, dropping the oldest
	_ = os.Remove(lr.backupName(lr.config.MaxBackups))
	for i := lr.config.MaxBackups - 1; i >= 1; i-- {
		if err := os.Rename(lr.backupName(i), lr.backupName(i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if lr.config.Compress {
		if err := compressTo(lr.config.Filename, lr.backupName(1)); err != nil {
			return err
		}
		if err := os.Remove(lr.config.Filename); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := os.Rename(lr.config.Filename, lr.backupName(1)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return lr.open()
}

func (lr *LogRotator) open() error {
	if err := os.MkdirAll(filepath.Dir(lr.config.Filename), 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(lr.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	lr.file = file
	lr.size = info.Size()
	return nil
}

func compressTo(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := gzip.NewWriter(out)
	if _, err = io.Copy(zw, in); err != nil {
		return err
	}
	return zw.Close()
}

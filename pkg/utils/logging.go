package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// NewLogger builds a JSON or text slog logger writing to w
func NewLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json", "":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler).With("service", "tilecache"), nil
}

// LogConfig selects the level, format and destination of the process logger
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int64
	MaxBackups int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging builds the process logger and installs it as the slog default.
// Logs go to stderr unless File is set, in which case they go to a rotated file.
// The returned closer releases the file.
func SetupLogging(cfg LogConfig) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotator, err := NewLogRotator(RotationConfig{
			Filename:   cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
		if err != nil {
			return nil, nil, err
		}
		out, closer = rotator, rotator
	}

	logger, err := NewLogger(cfg.Level, cfg.Format, out)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

package utils

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"TRACE", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("INFO", "json", &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Debug("hidden")
	logger.Info("tile served", "key", "c/t/0/1/2/0")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line below debug, got %q", buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "tile served" || entry["key"] != "c/t/0/1/2/0" || entry["service"] != "tilecache" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("DEBUG", "text", &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("tier degraded", "tier", "nats")
	if !strings.Contains(buf.String(), "tier=nats") {
		t.Errorf("output = %q", buf.String())
	}

	if _, err := NewLogger("INFO", "xml", &buf); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewLogger("LOUD", "json", &buf); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSetupLogging_File(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	logFile := filepath.Join(t.TempDir(), "tilecache.log")
	logger, closer, err := SetupLogging(LogConfig{Level: "INFO", Format: "json", File: logFile, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("SetupLogging: %v", err)
	}
	logger.Info("started")
	slog.Info("through default")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "started") || !strings.Contains(string(data), "through default") {
		t.Errorf("log file = %q", data)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{250 << 20, "250.0 MB"},
		{3 << 30, "3.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatBytes(tt.bytes); got != tt.want {
				t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/holeshot/tilecache/pkg/errors"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	TestCapacity   = "2GB"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("Expected Address to be :8080, got %s", cfg.Server.Address)
	}
	if cfg.Cache.Memory.Capacity != "512MB" || cfg.Cache.Memory.Threshold != 0.9 {
		t.Errorf("memory tier = %+v", cfg.Cache.Memory)
	}
	if cfg.Cache.Distributed.Enabled || cfg.Cache.Persistent.Enabled {
		t.Error("optional tiers should be disabled by default")
	}
	if cfg.Cache.Persistent.GCInterval != 5*time.Minute {
		t.Errorf("persistent gc interval = %v", cfg.Cache.Persistent.GCInterval)
	}
	if cfg.Storage.Retry.MaxAttempts != 3 {
		t.Errorf("Expected 3 retry attempts, got %d", cfg.Storage.Retry.MaxAttempts)
	}
	if cfg.Buffers.MaxBuffers != 64 {
		t.Errorf("Expected 64 buffers, got %d", cfg.Buffers.MaxBuffers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration must validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			config: NewDefault,
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "global.log_level",
		},
		{
			name: "unknown backend",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Storage.Backend = "ftp"
				return cfg
			},
			wantErr: true,
			errMsg:  "storage.backend",
		},
		{
			name: "s3 without bucket",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Storage.Backend = "s3"
				return cfg
			},
			wantErr: true,
			errMsg:  "bucket is required",
		},
		{
			name: "minio without endpoint",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Storage.Backend = "minio"
				cfg.Storage.Bucket = "tiles"
				return cfg
			},
			wantErr: true,
			errMsg:  "endpoint is required",
		},
		{
			name: "memory backend needs nothing",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Storage.Backend = "memory"
				cfg.Storage.Root = ""
				return cfg
			},
		},
		{
			name: "threshold above one",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Memory.Threshold = 1.5
				return cfg
			},
			wantErr: true,
			errMsg:  "cache.memory.threshold",
		},
		{
			name: "bad size",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Memory.Capacity = "lots"
				return cfg
			},
			wantErr: true,
			errMsg:  "bytesize",
		},
		{
			name: "nats enabled without url",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.Distributed.Enabled = true
				cfg.Cache.Distributed.URL = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "cache.distributed.url",
		},
		{
			name: "retry max delay below base",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Storage.Retry.BaseDelay = time.Second
				cfg.Storage.Retry.MaxDelay = time.Millisecond
				return cfg
			},
			wantErr: true,
			errMsg:  "storage.retry.max_delay",
		},
		{
			name: "same metrics and server address",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Monitoring.Metrics.Address = cfg.Server.Address
				return cfg
			},
			wantErr: true,
			errMsg:  "cannot be the same",
		},
		{
			name: "profiling on the server address",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Monitoring.Profiling.Enabled = true
				cfg.Monitoring.Profiling.Address = cfg.Server.Address
				return cfg
			},
			wantErr: true,
			errMsg:  "profiling address must differ",
		},
		{
			name: "invalid heap limit",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Monitoring.Profiling.HeapLimit = "huge"
				return cfg
			},
			wantErr: true,
			errMsg:  "bytesize",
		},
		{
			name: "warm without concurrency",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Warm.Concurrency = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "gte",
		},
		{
			name: "fetch timeout below request timeout",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Storage.RequestTimeout = 10 * time.Second
				cfg.Storage.FetchTimeout = time.Second
				return cfg
			},
			wantErr: true,
			errMsg:  "fetch timeout must be at least",
		},
		{
			name: "unknown write policy",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.WritePolicy = "write-behind"
				return cfg
			},
			wantErr: true,
			errMsg:  "cache.write_policy",
		},
		{
			name: "front write policy",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Cache.WritePolicy = "front"
				return cfg
			},
		},
		{
			name: "profiling with heap limit",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Monitoring.Profiling.Enabled = true
				cfg.Monitoring.Profiling.HeapLimit = "2GB"
				return cfg
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil {
				return
			}
			if code, _ := errors.CodeOf(err); code != errors.ErrCodeInvalidConfig {
				t.Errorf("code = %v, want %v", code, errors.ErrCodeInvalidConfig)
			}
			if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestFetchBudget(t *testing.T) {
	tests := []struct {
		name    string
		storage StorageConfig
		want    time.Duration
	}{
		{
			name: "explicit timeout wins",
			storage: StorageConfig{
				RequestTimeout: time.Second,
				FetchTimeout:   7 * time.Second,
				Retry:          RetryConfig{MaxAttempts: 3},
			},
			want: 7 * time.Second,
		},
		{
			name: "single attempt",
			storage: StorageConfig{
				RequestTimeout: 2 * time.Second,
				Retry:          RetryConfig{MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: time.Second},
			},
			want: 2 * time.Second,
		},
		{
			name: "attempts plus jittered backoff",
			storage: StorageConfig{
				RequestTimeout: time.Second,
				Retry:          RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 150 * time.Millisecond},
			},
			// 3s of attempts, then 120ms and 180ms (capped at 150ms) of backoff
			want: 3*time.Second + 300*time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.storage.FetchBudget(); got != tt.want {
				t.Errorf("FetchBudget() = %v, want %v", got, tt.want)
			}
		})
	}

	cfg := NewDefault()
	if cfg.Storage.FetchBudget() <= cfg.Storage.RequestTimeout {
		t.Error("the default budget must leave room for a retry after a timed out attempt")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG

storage:
  backend: s3
  bucket: imagery
  prefix: mrf
  request_timeout: 5s

cache:
  memory:
    capacity: 2GB
    threshold: 0.8
  distributed:
    enabled: true
    url: nats://cache:4222
    bucket: tiles
    ttl: 1h
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Storage.Backend != "s3" || cfg.Storage.Bucket != "imagery" || cfg.Storage.Prefix != "mrf" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Storage.RequestTimeout != 5*time.Second {
		t.Errorf("Expected request timeout 5s, got %v", cfg.Storage.RequestTimeout)
	}
	if cfg.Cache.Memory.Capacity != TestCapacity || cfg.Cache.Memory.Threshold != 0.8 {
		t.Errorf("memory = %+v", cfg.Cache.Memory)
	}
	if !cfg.Cache.Distributed.Enabled || cfg.Cache.Distributed.TTL != time.Hour {
		t.Errorf("distributed = %+v", cfg.Cache.Distributed)
	}
	// Untouched sections keep their defaults
	if cfg.Buffers.MaxBuffers != 64 {
		t.Errorf("Expected default MaxBuffers, got %d", cfg.Buffers.MaxBuffers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("global: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	err := cfg.LoadFromFile(bad)
	if code, _ := errors.CodeOf(err); code != errors.ErrCodeInvalidConfig {
		t.Errorf("err = %v, want INVALID_CONFIG", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TILECACHE_LOG_LEVEL", TestDebugLevel)
	t.Setenv("TILECACHE_STORAGE_BACKEND", "minio")
	t.Setenv("TILECACHE_BUCKET", "imagery")
	t.Setenv("TILECACHE_ENDPOINT", "minio:9000")
	t.Setenv("TILECACHE_MEMORY_CAPACITY", "1GB")
	t.Setenv("TILECACHE_NATS_ENABLED", "true")
	t.Setenv("TILECACHE_NATS_TTL", "15m")
	t.Setenv("TILECACHE_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TILECACHE_MAX_BUFFERS", "128")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Storage.Backend != "minio" || cfg.Storage.Bucket != "imagery" || cfg.Storage.Endpoint != "minio:9000" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Cache.Memory.Capacity != "1GB" {
		t.Errorf("Expected capacity 1GB, got %s", cfg.Cache.Memory.Capacity)
	}
	if !cfg.Cache.Distributed.Enabled || cfg.Cache.Distributed.TTL != 15*time.Minute {
		t.Errorf("distributed = %+v", cfg.Cache.Distributed)
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 2 || cfg.Server.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.Server.CORS.AllowedOrigins)
	}
	if cfg.Buffers.MaxBuffers != 128 {
		t.Errorf("Expected 128 buffers, got %d", cfg.Buffers.MaxBuffers)
	}
}

func TestLoadFromEnv_InvalidValue(t *testing.T) {
	t.Setenv("TILECACHE_POOL_SIZE", "many")

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "TILECACHE_POOL_SIZE") {
		t.Fatalf("err = %v, want mention of the variable", err)
	}
	if cfg.Storage.PoolSize != 8 {
		t.Errorf("bad value must not overwrite the default, got %d", cfg.Storage.PoolSize)
	}
}

func TestSaveToFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "nested", "config.yaml")

	original := NewDefault()
	original.Storage.Bucket = "saved"
	original.Cache.Distributed.TTL = 2 * time.Hour
	if err := original.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Storage.Bucket != "saved" || loaded.Cache.Distributed.TTL != 2*time.Hour {
		t.Errorf("round trip lost values: %+v", loaded.Storage)
	}
}

func TestSizes(t *testing.T) {
	cfg := NewDefault()
	sizes, err := cfg.Sizes()
	if err != nil {
		t.Fatalf("Sizes() error = %v", err)
	}
	if sizes.MemoryCapacity != 512<<20 {
		t.Errorf("memory = %d", sizes.MemoryCapacity)
	}
	if sizes.PersistentCapacity != 10<<30 {
		t.Errorf("persistent = %d", sizes.PersistentCapacity)
	}
	if sizes.IndexCapacity != 256<<20 {
		t.Errorf("index = %d", sizes.IndexCapacity)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"1024", 1024, false},
		{"4KB", 4 << 10, false},
		{"512mb", 512 << 20, false},
		{"2 GB", 2 << 30, false},
		{"1TB", 1 << 40, false},
		{"10B", 10, false},
		{"-1MB", 0, true},
		{"GB", 0, true},
		{"1.5GB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/holeshot/tilecache/pkg/errors"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	Buffers    BufferConfig     `yaml:"buffers"`
	Warm       WarmConfig       `yaml:"warm"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`
	// LogFile redirects logs to a size-rotated file instead of stderr
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int64  `yaml:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int    `yaml:"log_max_backups" validate:"gte=0"`
}

// ServerConfig represents the HTTP listener
type ServerConfig struct {
	Address         string          `yaml:"address" validate:"required"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" validate:"gt=0"`
	RequestTimeout  time.Duration   `yaml:"request_timeout" validate:"gte=0"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig represents cross-origin settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig represents the inbound request limiter
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"required_if=Enabled true,gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// StorageConfig represents the object store holding index and data blobs
type StorageConfig struct {
	Backend         string        `yaml:"backend" validate:"oneof=s3 minio local memory"`
	Bucket          string        `yaml:"bucket"`
	Prefix          string        `yaml:"prefix"`
	Root            string        `yaml:"root"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	PoolSize        int           `yaml:"pool_size" validate:"gte=1,lte=256"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" validate:"gte=0"`
	Retry           RetryConfig   `yaml:"retry"`
}

// FetchBudget bounds one shared origin read including its retries.
// RequestTimeout bounds a single attempt. Without an explicit FetchTimeout
// the budget covers every attempt plus the backoff between them.
func (s StorageConfig) FetchBudget() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	attempts := max(s.Retry.MaxAttempts, 1)
	base, ceiling := s.Retry.BaseDelay, s.Retry.MaxDelay
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = 2 * time.Second
	}

	budget := time.Duration(attempts) * s.RequestTimeout
	delay := base
	for i := 1; i < attempts; i++ {
		// room for +20% jitter
		budget += min(delay, ceiling) * 6 / 5
		delay *= 2
	}
	return budget
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=20"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// CacheConfig represents the tile tiers and the index table
type CacheConfig struct {
	// WritePolicy is "inclusive" (fill every tier) or "front" (fill only the fastest)
	WritePolicy    string                `yaml:"write_policy" validate:"oneof=inclusive front"`
	Memory         MemoryTierConfig      `yaml:"memory"`
	Persistent     PersistentTierConfig  `yaml:"persistent"`
	Distributed    DistributedTierConfig `yaml:"distributed"`
	IndexTable     IndexTableConfig      `yaml:"index_table"`
	CircuitBreaker CircuitBreakerConfig  `yaml:"circuit_breaker"`
}

// MemoryTierConfig represents the in-process LRU tier
type MemoryTierConfig struct {
	Capacity  string  `yaml:"capacity" validate:"bytesize"`
	Threshold float64 `yaml:"threshold" validate:"gt=0,lte=1"`
}

// PersistentTierConfig represents the on-disk Badger tier
type PersistentTierConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Directory string        `yaml:"directory" validate:"required_if=Enabled true"`
	Capacity  string        `yaml:"capacity" validate:"bytesize"`
	Threshold float64       `yaml:"threshold" validate:"gt=0,lte=1"`
	TTL       time.Duration `yaml:"ttl" validate:"gte=0"`

	// GCInterval is how often the Badger value log is compacted; zero disables it
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// DistributedTierConfig represents the shared NATS key-value tier
type DistributedTierConfig struct {
	Enabled   bool          `yaml:"enabled"`
	URL       string        `yaml:"url" validate:"required_if=Enabled true"`
	Bucket    string        `yaml:"bucket" validate:"required_if=Enabled true"`
	TTL       time.Duration `yaml:"ttl" validate:"gte=0"`
	MaxBytes  string        `yaml:"max_bytes" validate:"bytesize"`
	Replicas  int           `yaml:"replicas" validate:"gte=0,lte=5"`
	InMemory  bool          `yaml:"in_memory"`
	OpTimeout time.Duration `yaml:"op_timeout" validate:"gte=0"`
}

// IndexTableConfig represents the per-pyramid index cache
type IndexTableConfig struct {
	Capacity string `yaml:"capacity" validate:"bytesize"`
	// LoadTimeout bounds one index load; zero uses the storage fetch budget
	LoadTimeout time.Duration `yaml:"load_timeout" validate:"gte=0"`
}

// CircuitBreakerConfig represents the breaker guarding remote tiers and the object store
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold" validate:"gte=1"`
	MaxRequests      uint32        `yaml:"max_requests" validate:"gte=1"`
	Interval         time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
}

// BufferConfig represents the transfer buffer pool
type BufferConfig struct {
	MaxBuffers     int64         `yaml:"max_buffers" validate:"gte=1"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" validate:"gt=0"`
}

// WarmConfig represents cache warming, from the CLI or the /admin routes
type WarmConfig struct {
	AdminEnabled bool `yaml:"admin_enabled"`
	BatchSize    int  `yaml:"batch_size" validate:"gte=1"`
	Concurrency  int  `yaml:"concurrency" validate:"gte=1"`
	StopOnError  bool `yaml:"stop_on_error"`
	HistorySize  int  `yaml:"history_size" validate:"gte=1"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Profiling    ProfilingConfig    `yaml:"profiling"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Namespace    string            `yaml:"namespace" validate:"required_if=Enabled true"`
	Address      string            `yaml:"address"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// ProfilingConfig represents the pprof and memory sampling debug listener
type ProfilingConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address" validate:"required_if=Enabled true"`
	SampleInterval time.Duration `yaml:"sample_interval" validate:"gte=0"`
	HeapLimit      string        `yaml:"heap_limit" validate:"omitempty,bytesize"`
	GoroutineLimit int           `yaml:"goroutine_limit" validate:"gte=0"`
}

// HealthChecksConfig represents health check settings
type HealthChecksConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout              time.Duration `yaml:"timeout" validate:"gte=0"`
	ErrorThreshold       int           `yaml:"error_threshold" validate:"gte=1"`
	UnavailableThreshold int           `yaml:"unavailable_threshold" validate:"gtefield=ErrorThreshold"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "json",
			LogMaxSizeMB:  100,
			LogMaxBackups: 5,
		},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
			},
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 500,
				Burst:             1000,
			},
		},
		Storage: StorageConfig{
			Backend:        "local",
			Root:           "/var/lib/tilecache",
			Region:         "us-east-1",
			UseSSL:         true,
			PoolSize:       8,
			RequestTimeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   50 * time.Millisecond,
				MaxDelay:    2 * time.Second,
			},
		},
		Cache: CacheConfig{
			WritePolicy: "inclusive",
			Memory: MemoryTierConfig{
				Capacity:  "512MB",
				Threshold: 0.9,
			},
			Persistent: PersistentTierConfig{
				Enabled:   false,
				Directory: "/var/cache/tilecache",
				Capacity:  "10GB",
				Threshold:  0.95,
				TTL:        7 * 24 * time.Hour,
				GCInterval: 5 * time.Minute,
			},
			Distributed: DistributedTierConfig{
				Enabled:   false,
				URL:       "nats://127.0.0.1:4222",
				Bucket:    "tiles",
				TTL:       24 * time.Hour,
				MaxBytes:  "4GB",
				Replicas:  1,
				OpTimeout: 500 * time.Millisecond,
			},
			IndexTable: IndexTableConfig{
				Capacity: "256MB",
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				MaxRequests:      1,
				Interval:         60 * time.Second,
				Timeout:          30 * time.Second,
			},
		},
		Buffers: BufferConfig{
			MaxBuffers:     64,
			AcquireTimeout: 2 * time.Second,
		},
		Warm: WarmConfig{
			AdminEnabled: true,
			BatchSize:    256,
			Concurrency:  8,
			HistorySize:  100,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "tilecache",
				CustomLabels: map[string]string{
					"service": "tilecache",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:              true,
				Interval:             30 * time.Second,
				Timeout:              5 * time.Second,
				ErrorThreshold:       3,
				UnavailableThreshold: 10,
			},
			Profiling: ProfilingConfig{
				Enabled:        false,
				Address:        "127.0.0.1:6060",
				SampleInterval: 10 * time.Second,
				GoroutineLimit: 10000,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "failed to read config file", err).
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "failed to parse config file", err).
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from TILECACHE_* environment variables.
// Unparseable values are reported rather than silently ignored.
func (c *Configuration) LoadFromEnv() error {
	env := envReader{}

	// Global settings
	env.str("TILECACHE_LOG_LEVEL", &c.Global.LogLevel)
	env.str("TILECACHE_LOG_FORMAT", &c.Global.LogFormat)
	env.str("TILECACHE_LOG_FILE", &c.Global.LogFile)

	// Server settings
	env.str("TILECACHE_ADDRESS", &c.Server.Address)
	env.duration("TILECACHE_REQUEST_TIMEOUT", &c.Server.RequestTimeout)
	env.boolean("TILECACHE_CORS_ENABLED", &c.Server.CORS.Enabled)
	if val := os.Getenv("TILECACHE_CORS_ORIGINS"); val != "" {
		c.Server.CORS.AllowedOrigins = splitList(val)
	}
	env.boolean("TILECACHE_RATE_LIMIT_ENABLED", &c.Server.RateLimit.Enabled)
	env.float("TILECACHE_RATE_LIMIT_RPS", &c.Server.RateLimit.RequestsPerSecond)
	env.integer("TILECACHE_RATE_LIMIT_BURST", &c.Server.RateLimit.Burst)

	// Storage settings
	env.str("TILECACHE_STORAGE_BACKEND", &c.Storage.Backend)
	env.str("TILECACHE_BUCKET", &c.Storage.Bucket)
	env.str("TILECACHE_PREFIX", &c.Storage.Prefix)
	env.str("TILECACHE_STORAGE_ROOT", &c.Storage.Root)
	env.str("TILECACHE_REGION", &c.Storage.Region)
	env.str("TILECACHE_ENDPOINT", &c.Storage.Endpoint)
	env.str("TILECACHE_ACCESS_KEY_ID", &c.Storage.AccessKeyID)
	env.str("TILECACHE_SECRET_ACCESS_KEY", &c.Storage.SecretAccessKey)
	env.boolean("TILECACHE_USE_SSL", &c.Storage.UseSSL)
	env.integer("TILECACHE_POOL_SIZE", &c.Storage.PoolSize)
	env.duration("TILECACHE_FETCH_TIMEOUT", &c.Storage.FetchTimeout)
	env.integer("TILECACHE_RETRY_MAX_ATTEMPTS", &c.Storage.Retry.MaxAttempts)

	// Cache settings
	env.str("TILECACHE_CACHE_WRITE_POLICY", &c.Cache.WritePolicy)
	env.str("TILECACHE_MEMORY_CAPACITY", &c.Cache.Memory.Capacity)
	env.boolean("TILECACHE_PERSISTENT_ENABLED", &c.Cache.Persistent.Enabled)
	env.str("TILECACHE_PERSISTENT_DIR", &c.Cache.Persistent.Directory)
	env.str("TILECACHE_PERSISTENT_CAPACITY", &c.Cache.Persistent.Capacity)
	env.duration("TILECACHE_PERSISTENT_GC_INTERVAL", &c.Cache.Persistent.GCInterval)
	env.boolean("TILECACHE_NATS_ENABLED", &c.Cache.Distributed.Enabled)
	env.str("TILECACHE_NATS_URL", &c.Cache.Distributed.URL)
	env.str("TILECACHE_NATS_BUCKET", &c.Cache.Distributed.Bucket)
	env.duration("TILECACHE_NATS_TTL", &c.Cache.Distributed.TTL)
	env.str("TILECACHE_INDEX_CAPACITY", &c.Cache.IndexTable.Capacity)

	// Buffers
	if val := os.Getenv("TILECACHE_MAX_BUFFERS"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			env.fail("TILECACHE_MAX_BUFFERS", val, err)
		} else {
			c.Buffers.MaxBuffers = n
		}
	}

	// Warming
	env.boolean("TILECACHE_WARM_ADMIN_ENABLED", &c.Warm.AdminEnabled)
	env.integer("TILECACHE_WARM_CONCURRENCY", &c.Warm.Concurrency)

	// Monitoring
	env.boolean("TILECACHE_METRICS_ENABLED", &c.Monitoring.Metrics.Enabled)
	env.str("TILECACHE_METRICS_ADDRESS", &c.Monitoring.Metrics.Address)
	env.boolean("TILECACHE_PPROF_ENABLED", &c.Monitoring.Profiling.Enabled)
	env.str("TILECACHE_PPROF_ADDRESS", &c.Monitoring.Profiling.Address)

	return env.err()
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return translate(err)
	}

	switch c.Storage.Backend {
	case "s3", "minio":
		if c.Storage.Bucket == "" {
			return invalid("storage.bucket", "bucket is required for the %s backend", c.Storage.Backend)
		}
		if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
			return invalid("storage.endpoint", "endpoint is required for the minio backend")
		}
	case "local":
		if c.Storage.Root == "" {
			return invalid("storage.root", "root directory is required for the local backend")
		}
	}

	if c.Storage.FetchTimeout > 0 && c.Storage.FetchTimeout < c.Storage.RequestTimeout {
		return invalid("storage.fetch_timeout", "fetch timeout must be at least the request timeout")
	}

	if c.Monitoring.Metrics.Address != "" && c.Monitoring.Metrics.Address == c.Server.Address {
		return invalid("monitoring.metrics.address", "metrics address and server address cannot be the same")
	}
	if p := c.Monitoring.Profiling; p.Enabled && (p.Address == c.Server.Address || p.Address == c.Monitoring.Metrics.Address) {
		return invalid("monitoring.profiling.address", "profiling address must differ from the server and metrics addresses")
	}

	return nil
}

// Sizes returns the byte sizes configured as strings
func (c *Configuration) Sizes() (Sizes, error) {
	var s Sizes
	var err error
	fields := []struct {
		name string
		raw  string
		dst  *int64
	}{
		{"cache.memory.capacity", c.Cache.Memory.Capacity, &s.MemoryCapacity},
		{"cache.persistent.capacity", c.Cache.Persistent.Capacity, &s.PersistentCapacity},
		{"cache.distributed.max_bytes", c.Cache.Distributed.MaxBytes, &s.DistributedMaxBytes},
		{"cache.index_table.capacity", c.Cache.IndexTable.Capacity, &s.IndexCapacity},
	}
	for _, f := range fields {
		if *f.dst, err = ParseSize(f.raw); err != nil {
			return Sizes{}, invalid(f.name, "%v", err)
		}
	}
	return s, nil
}

// Sizes holds the parsed byte sizes of a Configuration
type Sizes struct {
	MemoryCapacity      int64
	PersistentCapacity  int64
	DistributedMaxBytes int64
	IndexCapacity       int64
}

var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseSize parses a human readable size such as "512MB". A bare number is bytes;
// an empty string is zero.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	multiplier := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * multiplier, nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("bytesize", func(fl validator.FieldLevel) bool {
			_, err := ParseSize(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

func translate(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "invalid configuration", err)
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Configuration.")
		if fe.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			messages = append(messages, fmt.Sprintf("%s failed %s (got %v)", field, fe.Tag(), fe.Value()))
		}
	}
	first := strings.TrimPrefix(verrs[0].Namespace(), "Configuration.")
	return errors.NewError(errors.ErrCodeInvalidConfig, strings.Join(messages, "; ")).
		WithContext("field", first)
}

func invalid(field, format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeInvalidConfig, format, args...).WithContext("field", field)
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envReader applies environment overrides and remembers the first bad value
type envReader struct {
	first error
}

func (e *envReader) fail(name, val string, err error) {
	if e.first == nil {
		e.first = errors.Wrap(errors.ErrCodeInvalidConfig, fmt.Sprintf("invalid %s=%q", name, val), err).
			WithContext("variable", name)
	}
}

func (e *envReader) err() error { return e.first }

func (e *envReader) str(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(name string, dst *float64) {
	if val := os.Getenv(name); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = d
	}
}

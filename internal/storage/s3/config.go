package s3

import (
	"time"
)

// Config represents S3 backend configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Anonymous skips request signing, for public buckets and local fakes
	Anonymous bool `yaml:"anonymous"`

	// Performance settings
	MaxRetries     int           `yaml:"max_retries"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PoolSize       int           `yaml:"pool_size"`

	// HealthCheckInterval is how often idle pooled clients are checked; zero disables the checks
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// SkipStartupCheck leaves the bucket unverified until the first health check
	SkipStartupCheck bool `yaml:"skip_startup_check"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:              "us-east-1",
		MaxRetries:          3,
		ConnectTimeout:      10 * time.Second,
		RequestTimeout:      30 * time.Second,
		PoolSize:            8,
		HealthCheckInterval: 30 * time.Second,
	}
}

// withDefaults fills zero fields from NewDefaultConfig
func (c Config) withDefaults() Config {
	d := NewDefaultConfig()
	if c.Region == "" {
		c.Region = d.Region
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	return c
}

package s3

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientManager handles S3 client creation and management
type ClientManager struct {
	awsCfg aws.Config
	bucket string
	pool   *ConnectionPool
	config Config
	logger *slog.Logger
}

// NewClientManager loads AWS configuration and prepares the client pool
func NewClientManager(ctx context.Context, bucket string, cfg Config, logger *slog.Logger) (*ClientManager, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cm := &ClientManager{
		awsCfg: awsCfg,
		bucket: bucket,
		config: cfg,
		logger: logger,
	}

	pool, err := NewConnectionPool(cfg.PoolSize, cm.newClient, cm.check, cfg.HealthCheckInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	cm.pool = pool
	return cm, nil
}

// LoadAWSConfig resolves region, retry policy, credentials and transport timeouts
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	httpClient := awshttp.NewBuildableClient().WithDialerOptions(func(d *net.Dialer) {
		d.Timeout = cfg.ConnectTimeout
	}).WithTransportOptions(func(t *http.Transport) {
		t.MaxIdleConnsPerHost = cfg.PoolSize * 4
	})

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
		config.WithHTTPClient(httpClient),
	}
	switch {
	case cfg.Anonymous:
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case cfg.AccessKeyID != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

func (cm *ClientManager) newClient() (*s3.Client, error) {
	return s3.NewFromConfig(cm.awsCfg, func(o *s3.Options) {
		if cm.config.Endpoint != "" {
			o.BaseEndpoint = aws.String(cm.config.Endpoint)
		}
		if cm.config.ForcePathStyle {
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	}), nil
}

func (cm *ClientManager) check(ctx context.Context, client *s3.Client) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cm.bucket)})
	return err
}

// Acquire takes a client from the pool; the caller must Release it
func (cm *ClientManager) Acquire(ctx context.Context) (*s3.Client, error) {
	return cm.pool.Get(ctx)
}

// Release returns a client to the pool
func (cm *ClientManager) Release(client *s3.Client) {
	cm.pool.Put(client)
}

// GetPool returns the connection pool for statistics
func (cm *ClientManager) GetPool() *ConnectionPool {
	return cm.pool
}

// HealthCheck verifies the bucket is reachable
func (cm *ClientManager) HealthCheck(ctx context.Context) error {
	client, err := cm.Acquire(ctx)
	if err != nil {
		return err
	}
	defer cm.Release(client)

	if err := cm.check(ctx, client); err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

// Close closes all client resources
func (cm *ClientManager) Close() error {
	return cm.pool.Close()
}

// GetStats returns connection pool statistics
func (cm *ClientManager) GetStats() PoolStats {
	return cm.pool.Stats()
}

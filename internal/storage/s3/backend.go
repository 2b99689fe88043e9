package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/holeshot/tilecache/internal/storage"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

const component = "s3"

// operation names reported to metrics
const (
	opRange = "FetchRange"
	opHead  = "HeadObject"
	opPut   = "PutObject"
)

// Backend serves index and data blobs from an S3 bucket with ranged reads
type Backend struct {
	bucket   string
	clients  *ClientManager
	config   Config
	logger   *slog.Logger
	metrics  *MetricsCollector
	recorder types.StorageRecorder
}

// NewBackend creates a new S3 backend instance and verifies the bucket is reachable
func NewBackend(ctx context.Context, bucket string, cfg *Config, logger *slog.Logger) (*Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "s3-backend", "bucket", bucket)

	clients, err := NewClientManager(ctx, bucket, *cfg, logger)
	if err != nil {
		return nil, err
	}

	backend := &Backend{
		bucket:  bucket,
		clients: clients,
		config:  clients.config,
		logger:  logger,
		metrics: NewMetricsCollector(),
	}

	logger.Info("S3 backend configured",
		"region", backend.config.Region,
		"endpoint", backend.config.Endpoint,
		"path_style", backend.config.ForcePathStyle,
		"pool_size", backend.config.PoolSize)

	if !cfg.SkipStartupCheck {
		if err := backend.HealthCheck(ctx); err != nil {
			_ = clients.Close()
			return nil, fmt.Errorf("S3 backend health check failed: %w", err)
		}
	}

	return backend, nil
}

// SetRecorder attaches a request recorder
func (b *Backend) SetRecorder(rec types.StorageRecorder) {
	b.recorder = rec
}

// FetchRange reads length bytes of key starting at offset
func (b *Backend) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := storage.CheckRange(key, offset, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if err := b.ReadRange(ctx, key, offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRange fills dst with the bytes of key starting at offset using one ranged GetObject
func (b *Backend) ReadRange(ctx context.Context, key string, offset int64, dst []byte) (err error) {
	length := int64(len(dst))
	if err := storage.CheckRange(key, offset, length); err != nil {
		return err
	}

	start := time.Now()
	defer func() { b.observe(opRange, start, length, err) }()

	client, err := b.clients.Acquire(ctx)
	if err != nil {
		return err
	}
	defer b.clients.Release(client)

	rctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	result, err := client.GetObject(rctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return b.translateError(err, "GetObject", key)
	}
	defer result.Body.Close()

	if n := aws.ToInt64(result.ContentLength); n != 0 && n < length {
		return errors.Newf(errors.ErrCodeRangeNotSatisfiable,
			"range %d+%d exceeds object, got %d bytes", offset, length, n).
			WithComponent(component).
			WithContext("key", key)
	}
	if _, err := io.ReadFull(result.Body, dst); err != nil {
		return b.translateError(err, "GetObject", key)
	}

	return nil
}

// HeadSize returns the size of key
func (b *Backend) HeadSize(ctx context.Context, key string) (int64, error) {
	info, err := b.HeadObject(ctx, key)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// HeadObject retrieves metadata about an object
func (b *Backend) HeadObject(ctx context.Context, key string) (info *types.ObjectInfo, err error) {
	start := time.Now()
	defer func() { b.observe(opHead, start, 0, err) }()

	client, err := b.clients.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer b.clients.Release(client)

	rctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	result, err := client.HeadObject(rctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.translateError(err, "HeadObject", key)
	}

	info = &types.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		LastModified: aws.ToTime(result.LastModified),
		ETag:         aws.ToString(result.ETag),
		ContentType:  aws.ToString(result.ContentType),
		Metadata:     make(map[string]string, len(result.Metadata)),
	}
	for k, v := range result.Metadata {
		info.Metadata[k] = v
	}
	return info, nil
}

// PutObject stores an object in S3
func (b *Backend) PutObject(ctx context.Context, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { b.observe(opPut, start, int64(len(data)), err) }()

	client, err := b.clients.Acquire(ctx)
	if err != nil {
		return err
	}
	defer b.clients.Release(client)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(detectContentType(key)),
	})
	if err != nil {
		b.logger.Error("put failed", "key", key, "error", err)
		return storage.WriteError(component, key, err)
	}

	return nil
}

// HealthCheck verifies the backend connection
func (b *Backend) HealthCheck(ctx context.Context) error {
	if err := b.clients.HealthCheck(ctx); err != nil {
		return b.translateError(err, "HeadBucket", "")
	}
	return nil
}

// GetMetrics returns current backend metrics
func (b *Backend) GetMetrics() BackendMetrics {
	return b.metrics.GetMetrics()
}

// GetPoolStats returns client pool statistics
func (b *Backend) GetPoolStats() PoolStats {
	return b.clients.GetStats()
}

// Bucket returns the bucket name
func (b *Backend) Bucket() string { return b.bucket }

// Close closes the backend and releases resources
func (b *Backend) Close() error {
	return b.clients.Close()
}

func (b *Backend) String() string {
	return fmt.Sprintf("s3(%s)", b.bucket)
}

// Helper methods

func (b *Backend) observe(op string, start time.Time, n int64, err error) {
	b.metrics.Record(op, time.Since(start), n, err)
	storage.Observe(b.recorder, op, start, n, err)
}

func (b *Backend) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return storage.NotFound(component, key)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Newf(errors.ErrCodeInvalidConfig, "bucket not found: %s", b.bucket).
			WithComponent(component).
			WithCause(err)
	case apiCode(err) == "InvalidRange":
		return errors.Wrap(errors.ErrCodeRangeNotSatisfiable, "range not satisfiable", err).
			WithComponent(component).
			WithContext("key", key)
	case httpStatus(err) == http.StatusNotFound:
		return storage.NotFound(component, key)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.ErrCodeConnectionTimeout, operation+" timed out", err).
			WithComponent(component).
			WithOperation(operation).
			WithContext("key", key)
	case stderrors.Is(err, context.Canceled):
		return err
	}

	var te *errors.TileError
	if stderrors.As(err, &te) {
		return err
	}
	return storage.ReadError(component, operation, key, err)
}

func apiCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func httpStatus(err error) int {
	var re *awshttp.ResponseError
	if stderrors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

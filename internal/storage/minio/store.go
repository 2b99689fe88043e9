// Package minio serves tile pyramids from S3 compatible object storage through
// the minio client library.
package minio

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/holeshot/tilecache/internal/storage"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

const component = "minio"

// Config holds the connection settings of a minio store
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	Region          string `yaml:"region"`
	Secure          bool   `yaml:"secure"`
}

// Store reads and writes objects of one bucket
type Store struct {
	mc       *minio.Client
	bucket   string
	logger   *slog.Logger
	recorder types.StorageRecorder
}

// NewClient builds a minio client from cfg
func NewClient(cfg Config) (*minio.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: cfg.Secure,
		Region: region,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "create minio client", err).WithComponent(component)
	}
	return mc, nil
}

// NewStore wraps an existing client
func NewStore(mc *minio.Client, bucket string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		mc:     mc,
		bucket: bucket,
		logger: logger.With("component", "minio-store", "bucket", bucket),
	}
}

// SetRecorder attaches a request recorder
func (s *Store) SetRecorder(rec types.StorageRecorder) {
	s.recorder = rec
}

// FetchRange reads length bytes of key starting at offset
func (s *Store) FetchRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := storage.CheckRange(key, offset, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if err := s.ReadRange(ctx, key, offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadRange fills dst from key starting at offset with one ranged GET
func (s *Store) ReadRange(ctx context.Context, key string, offset int64, dst []byte) (err error) {
	length := int64(len(dst))
	if err := storage.CheckRange(key, offset, length); err != nil {
		return err
	}
	start := time.Now()
	defer func() { storage.Observe(s.recorder, "FetchRange", start, length, err) }()

	req := minio.GetObjectOptions{}
	if err := req.SetRange(offset, offset+length-1); err != nil {
		return errors.Wrap(errors.ErrCodeMalformedRequest, "failed to set range", err).WithComponent(component)
	}
	obj, err := s.mc.GetObject(ctx, s.bucket, key, req)
	if err != nil {
		return s.translate(err, "GetObject", key)
	}
	defer obj.Close()

	if _, err := io.ReadFull(obj, dst); err != nil {
		if stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, io.EOF) {
			return errors.Newf(errors.ErrCodeRangeNotSatisfiable, "range %d+%d exceeds object", offset, length).
				WithComponent(component).
				WithContext("key", key)
		}
		return s.translate(err, "GetObject", key)
	}
	return nil
}

// HeadSize returns the size of key
func (s *Store) HeadSize(ctx context.Context, key string) (size int64, err error) {
	start := time.Now()
	defer func() { storage.Observe(s.recorder, "HeadObject", start, 0, err) }()

	info, err := s.mc.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, s.translate(err, "StatObject", key)
	}
	return info.Size, nil
}

// PutObject stores data under key
func (s *Store) PutObject(ctx context.Context, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { storage.Observe(s.recorder, "PutObject", start, int64(len(data)), err) }()

	_, err = s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		s.logger.Error("put failed", "key", key, "error", err)
		return storage.WriteError(component, key, err)
	}
	return nil
}

// HealthCheck verifies the bucket exists
func (s *Store) HealthCheck(ctx context.Context) error {
	ok, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return s.translate(err, "BucketExists", "")
	}
	if !ok {
		return errors.Newf(errors.ErrCodeInvalidConfig, "bucket not found: %s", s.bucket).WithComponent(component)
	}
	return nil
}

func (s *Store) String() string {
	return fmt.Sprintf("minio(%s)", s.bucket)
}

func (s *Store) translate(err error, op, key string) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket":
		return storage.NotFound(component, key)
	case resp.Code == "NoSuchBucket":
		return errors.Newf(errors.ErrCodeInvalidConfig, "bucket not found: %s", s.bucket).
			WithComponent(component).
			WithCause(err)
	case resp.Code == "InvalidRange":
		return errors.Wrap(errors.ErrCodeRangeNotSatisfiable, "range not satisfiable", err).
			WithComponent(component).
			WithContext("key", key)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.ErrCodeConnectionTimeout, op+" timed out", err).
			WithComponent(component).
			WithOperation(op).
			WithContext("key", key)
	case stderrors.Is(err, context.Canceled):
		return err
	}
	return storage.ReadError(component, op, key, err)
}

package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holeshot/tilecache/internal/rangeheader"
	"github.com/holeshot/tilecache/pkg/errors"
)

// fakeS3 answers the path-style HeadBucket, HeadObject, GetObject and PutObject requests the backend issues
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	ranges  []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if len(parts) == 1 || parts[1] == "" {
		w.WriteHeader(http.StatusOK) // HeadBucket
		return
	}
	key := parts[1]

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key></Error>`, key)
			return
		}
		header := r.Header.Get("Range")
		f.ranges = append(f.ranges, header)
		br, err := rangeheader.ParseSingle(header, int64(len(data)))
		if err != nil {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>InvalidRange</Code><Message>The requested range is not satisfiable</Message></Error>`)
			return
		}
		w.Header().Set("Content-Range", br.ContentRange(int64(len(data))))
		w.Header().Set("Content-Length", strconv.FormatInt(br.Length(), 10))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(data[br.Start : br.End+1])
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestBackend(t *testing.T, fake *fakeS3) *Backend {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := NewDefaultConfig()
	cfg.Endpoint = srv.URL
	cfg.ForcePathStyle = true
	cfg.Anonymous = true
	cfg.MaxRetries = 1
	cfg.PoolSize = 2
	cfg.HealthCheckInterval = 0

	b, err := NewBackend(context.Background(), "tiles", cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewBackend_EmptyBucket(t *testing.T) {
	backend, err := NewBackend(context.Background(), "", &Config{Region: "us-east-1"}, nil)
	assert.Error(t, err)
	assert.Nil(t, backend)
	assert.Contains(t, err.Error(), "bucket name cannot be empty")
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 8, cfg.PoolSize)
}

func TestBackend_RangedReads(t *testing.T) {
	fake := newFakeS3()
	fake.objects["landsat/t1/image.ppg"] = []byte("0123456789abcdef")
	b := newTestBackend(t, fake)
	ctx := context.Background()

	size, err := b.HeadSize(ctx, "landsat/t1/image.ppg")
	require.NoError(t, err)
	assert.Equal(t, int64(16), size)

	data, err := b.FetchRange(ctx, "landsat/t1/image.ppg", 10, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	buf := make([]byte, 3)
	require.NoError(t, b.ReadRange(ctx, "landsat/t1/image.ppg", 0, buf))
	assert.Equal(t, []byte("012"), buf)

	fake.mu.Lock()
	assert.Equal(t, []string{"bytes=10-13", "bytes=0-2"}, fake.ranges)
	fake.mu.Unlock()

	m := b.GetMetrics()
	assert.Equal(t, int64(3), m.Requests)
	assert.Equal(t, int64(7), m.BytesDownloaded)
	assert.Equal(t, int64(0), m.Errors)
}

func TestBackend_NotFound(t *testing.T) {
	b := newTestBackend(t, newFakeS3())
	ctx := context.Background()

	_, err := b.HeadSize(ctx, "missing/image.idx")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err), "head: %v", err)

	_, err = b.FetchRange(ctx, "missing/image.idx", 0, 16)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err), "get: %v", err)

	m := b.GetMetrics()
	assert.Equal(t, int64(2), m.NotFound)
	assert.Equal(t, int64(0), m.Errors)
}

func TestBackend_RangeBeyondObject(t *testing.T) {
	fake := newFakeS3()
	fake.objects["k"] = []byte("0123")
	b := newTestBackend(t, fake)

	_, err := b.FetchRange(context.Background(), "k", 10, 4)
	require.Error(t, err)
	code, _ := errors.CodeOf(err)
	assert.Equal(t, errors.ErrCodeRangeNotSatisfiable, code)
}

func TestBackend_InvalidRange(t *testing.T) {
	b := newTestBackend(t, newFakeS3())
	_, err := b.FetchRange(context.Background(), "k", -1, 4)
	assert.True(t, errors.IsMalformed(err))
}

func TestBackend_PutObject(t *testing.T) {
	fake := newFakeS3()
	b := newTestBackend(t, fake)
	ctx := context.Background()

	require.NoError(t, b.PutObject(ctx, "c/t/metadata.json", []byte(`{"width":1}`)))
	fake.mu.Lock()
	assert.Equal(t, []byte(`{"width":1}`), fake.objects["c/t/metadata.json"])
	fake.mu.Unlock()

	size, err := b.HeadSize(ctx, "c/t/metadata.json")
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
	assert.Equal(t, int64(11), b.GetMetrics().BytesUploaded)
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"c/t/metadata.json", "application/json"},
		{"tile.png", "image/png"},
		{"tile.jpg", "image/jpeg"},
		{"c/t/image.idx", "application/octet-stream"},
		{"c/t/image.ppg", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectContentType(tt.key))
		})
	}
}

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector()
	mc.Record(opRange, 10*time.Millisecond, 1024, nil)
	mc.Record(opRange, 20*time.Millisecond, 512, fmt.Errorf("boom"))
	mc.Record(opHead, 20*time.Millisecond, 0, errors.NewError(errors.ErrCodeObjectNotFound, "missing"))
	mc.Record(opPut, 10*time.Millisecond, 64, nil)

	m := mc.GetMetrics()
	assert.Equal(t, int64(4), m.Requests)
	assert.Equal(t, int64(1), m.Errors)
	assert.Equal(t, int64(1), m.NotFound)
	assert.Equal(t, "boom", m.LastError)
	assert.Equal(t, int64(1), m.RangeReads)
	assert.Equal(t, int64(1024), m.BytesDownloaded)
	assert.Equal(t, int64(1024), m.AverageRangeSize())
	assert.Equal(t, int64(64), m.BytesUploaded)
	assert.Equal(t, map[string]int64{opRange: 2, opHead: 1, opPut: 1}, m.ByOperation)
	assert.InDelta(t, 0.25, m.ErrorRate(), 1e-9)

	m.ByOperation[opRange] = 99
	assert.Equal(t, int64(2), mc.GetMetrics().ByOperation[opRange], "snapshot must not alias")

	mc.Reset()
	assert.Equal(t, BackendMetrics{}, mc.GetMetrics())
}

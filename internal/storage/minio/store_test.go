package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
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

const testBucket = "tiles"

// fakeBucket is a single-bucket, path-style S3 endpoint
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	ranges  []string
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != testBucket {
		writeError(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	if key == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Last-Modified", time.Unix(1700000000, 0).UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", `"0123456789abcdef0123456789abcdef"`)

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
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		header := r.Header.Get("Range")
		f.ranges = append(f.ranges, header)
		br, err := rangeheader.ParseSingle(header, int64(len(data)))
		if err != nil {
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "InvalidRange")
			return
		}
		w.Header().Set("Content-Range", br.ContentRange(int64(len(data))))
		w.Header().Set("Content-Length", strconv.FormatInt(br.Length(), 10))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(data[br.Start : br.End+1])
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}

func newTestStore(t *testing.T, objects map[string][]byte) (*Store, *fakeBucket) {
	t.Helper()
	fake := &fakeBucket{objects: objects}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	mc, err := NewClient(Config{Endpoint: u.Host})
	require.NoError(t, err)
	return NewStore(mc, testBucket, nil), fake
}

func TestStore_ReadsRanges(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t, map[string][]byte{"c/t/image.ppg": []byte("0123456789")})

	size, err := s.HeadSize(ctx, "c/t/image.ppg")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	data, err := s.FetchRange(ctx, "c/t/image.ppg", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("23456"), data)

	fake.mu.Lock()
	assert.Equal(t, []string{"bytes=2-6"}, fake.ranges)
	fake.mu.Unlock()
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, map[string][]byte{})

	_, err := s.HeadSize(ctx, "nope")
	assert.True(t, errors.IsNotFound(err), "stat: %v", err)

	_, err = s.FetchRange(ctx, "nope", 0, 4)
	assert.True(t, errors.IsNotFound(err), "get: %v", err)
}

func TestStore_RangeBeyondObject(t *testing.T) {
	s, _ := newTestStore(t, map[string][]byte{"k": []byte("abc")})
	_, err := s.FetchRange(context.Background(), "k", 1, 10)
	require.Error(t, err)
	code, _ := errors.CodeOf(err)
	assert.Equal(t, errors.ErrCodeRangeNotSatisfiable, code)
}

func TestStore_PutAndHealth(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t, map[string][]byte{})

	require.NoError(t, s.HealthCheck(ctx))
	require.NoError(t, s.PutObject(ctx, "c/t/image.idx", make([]byte, 64)))

	fake.mu.Lock()
	assert.Len(t, fake.objects["c/t/image.idx"], 64)
	fake.mu.Unlock()
}

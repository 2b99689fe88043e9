package local_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holeshot/tilecache/internal/storage/local"
	"github.com/holeshot/tilecache/pkg/errors"
	"github.com/holeshot/tilecache/pkg/types"
)

type store interface {
	types.ObjectStore
	types.ObjectWriter
	types.RangeReader
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	stores := map[string]store{
		"memory":    local.NewMemoryStore(),
		"directory": local.NewDirectoryStore(t.TempDir()),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutObject(ctx, "coll/ts/image.ppg", []byte("0123456789")))

			t.Run("head size", func(t *testing.T) {
				size, err := s.HeadSize(ctx, "coll/ts/image.ppg")
				require.NoError(t, err)
				assert.Equal(t, int64(10), size)
			})

			t.Run("fetch range", func(t *testing.T) {
				data, err := s.FetchRange(ctx, "coll/ts/image.ppg", 3, 4)
				require.NoError(t, err)
				assert.Equal(t, []byte("3456"), data)
			})

			t.Run("read range into buffer", func(t *testing.T) {
				buf := make([]byte, 2)
				require.NoError(t, s.ReadRange(ctx, "coll/ts/image.ppg", 8, buf))
				assert.Equal(t, []byte("89"), buf)
			})

			t.Run("missing object", func(t *testing.T) {
				_, err := s.FetchRange(ctx, "coll/ts/missing", 0, 1)
				require.Error(t, err)
				assert.True(t, errors.IsNotFound(err))

				_, err = s.HeadSize(ctx, "coll/ts/missing")
				assert.True(t, errors.IsNotFound(err))
			})

			t.Run("range past the end", func(t *testing.T) {
				_, err := s.FetchRange(ctx, "coll/ts/image.ppg", 8, 5)
				require.Error(t, err)
				code, _ := errors.CodeOf(err)
				assert.Equal(t, errors.ErrCodeRangeNotSatisfiable, code)
			})

			t.Run("invalid range", func(t *testing.T) {
				_, err := s.FetchRange(ctx, "coll/ts/image.ppg", -1, 5)
				assert.True(t, errors.IsMalformed(err))
				_, err = s.FetchRange(ctx, "coll/ts/image.ppg", 0, 0)
				assert.True(t, errors.IsMalformed(err))
			})
		})
	}
}

func TestMemoryStore_CountsCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := local.NewMemoryStore()
	require.NoError(t, s.PutObject(ctx, "a", []byte("abcdef")))

	_, err := s.HeadSize(ctx, "a")
	require.NoError(t, err)
	_, err = s.FetchRange(ctx, "a", 1, 2)
	require.NoError(t, err)
	_, err = s.FetchRange(ctx, "a", 0, 6)
	require.NoError(t, err)

	assert.Equal(t, 1, s.HeadCount("a"))
	assert.Equal(t, 2, s.FetchCount("a"))
	assert.Equal(t, []local.RangeCall{{Key: "a", Offset: 1, Length: 2}, {Key: "a", Offset: 0, Length: 6}}, s.RangeCalls())

	s.ResetCounts()
	assert.Equal(t, 0, s.FetchCount("a"))
	assert.Equal(t, 0, s.HeadCount("a"))
}

func TestMemoryStore_PutCopiesData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := local.NewMemoryStore()
	data := []byte("abc")
	require.NoError(t, s.PutObject(ctx, "k", data))
	data[0] = 'z'

	got, err := s.FetchRange(ctx, "k", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestMemoryStore_FailKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := local.NewMemoryStore()
	require.NoError(t, s.PutObject(ctx, "k", []byte("abc")))

	s.FailKey("k", fmt.Errorf("connection reset"))
	_, err := s.FetchRange(ctx, "k", 0, 1)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, errors.IsNotFound(err))

	s.FailKey("k", nil)
	_, err = s.FetchRange(ctx, "k", 0, 1)
	assert.NoError(t, err)
}

func TestDirectoryStore_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()
	s := local.NewDirectoryStore(t.TempDir())
	_, err := s.HeadSize(context.Background(), "../etc/passwd")
	assert.True(t, errors.IsMalformed(err))
	assert.NoError(t, s.HealthCheck(context.Background()))
}

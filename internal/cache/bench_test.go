package cache

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/holeshot/tilecache/pkg/types"
)

func tileKey(i int) string {
	return fmt.Sprintf("landsat/2024-01-01/0/%d/%d/0", i%64, i/64)
}

func benchPayload(b *testing.B) []byte {
	data := make([]byte, 16<<10)
	if _, err := rand.Read(data); err != nil {
		b.Fatal(err)
	}
	return data
}

func BenchmarkMemoryTierGet(b *testing.B) {
	ctx := context.Background()
	tier := NewMemoryTier("memory", 64<<20, 0.9, nil)
	data := benchPayload(b)
	for i := 0; i < 1000; i++ {
		_ = tier.Put(ctx, tileKey(i), types.NewCacheEntry(tileKey(i), data))
	}

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _, _ = tier.Get(ctx, tileKey(i%1000))
			i++
		}
	})
}

func BenchmarkMemoryTierPut(b *testing.B) {
	ctx := context.Background()
	tier := NewMemoryTier("memory", 64<<20, 0.9, nil)
	data := benchPayload(b)

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := tileKey(i)
			_ = tier.Put(ctx, key, types.NewCacheEntry(key, data))
			i++
		}
	})
}

// BenchmarkTieredCacheMiss walks every tier before giving up
func BenchmarkTieredCacheMiss(b *testing.B) {
	ctx := context.Background()
	c := NewTieredCache([]types.TierCache{
		NewMemoryTier("memory", 1<<20, 0.9, nil),
		NewMemoryTier("second", 1<<20, 0.9, nil),
	})

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Get(ctx, fmt.Sprintf("missing/%d", i))
			i++
		}
	})
}

// BenchmarkTieredCacheMixed is 70% reads, 25% writes and 5% evictions over a hot set
func BenchmarkTieredCacheMixed(b *testing.B) {
	ctx := context.Background()
	c := NewTieredCache([]types.TierCache{
		NewMemoryTier("memory", 1<<20, 0.9, nil),
		NewMemoryTier("second", 8<<20, 0.9, nil),
	})
	data := benchPayload(b)

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := tileKey(i % 100)
			switch i % 20 {
			case 0:
				c.Evict(ctx, key)
			case 1, 2, 3, 4, 5:
				c.Put(ctx, key, types.NewCacheEntry(key, data))
			default:
				c.Get(ctx, key)
			}
			i++
		}
	})
}

package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcogenualdo/authorize/internal/config"
)

func newBackends(t *testing.T) map[string]Cache {
	t.Helper()

	mem := NewMemoryCache()
	t.Cleanup(func() { mem.Close() })

	mr := miniredis.RunT(t)
	rc, err := New(config.CacheConfig{
		Type:  "redis",
		Redis: &config.RedisConfig{Address: mr.Addr(), PoolSize: 4, MaxRetries: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	return map[string]Cache{"memory": mem, "redis": rc}
}

func TestCacheRoundTrip(t *testing.T) {
	for name, c := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := c.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

			got, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), got)

			exists, err := c.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, c.Delete(ctx, "k"))
			exists, err = c.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, c.Ping(ctx))
		})
	}
}

func TestCachePopIsSingleUse(t *testing.T) {
	for name, c := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "state", []byte("pending"), time.Minute))

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := c.Pop(ctx, "state"); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			_, err := c.Get(ctx, "state")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "short", []byte("x"), time.Millisecond))
	require.NoError(t, mc.Set(ctx, "forever", []byte("y"), 0))
	time.Sleep(5 * time.Millisecond)

	_, err := mc.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mc.Pop(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	mc.cleanup()
	got, err := mc.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	value := []byte("abc")
	require.NoError(t, mc.Set(ctx, "k", value, time.Minute))
	value[0] = 'z'

	got, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'z'

	again, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestRedisCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, rc.Set(ctx, "short", []byte("x"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err = rc.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(config.CacheConfig{Type: "memcached"})
	require.Error(t, err)

	_, err = New(config.CacheConfig{Type: "redis"})
	require.Error(t, err)
}

func TestMemoryCacheConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			assert.NoError(t, mc.Set(ctx, key, []byte(key), time.Minute))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i)
		got, err := mc.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, string(got))
	}
}

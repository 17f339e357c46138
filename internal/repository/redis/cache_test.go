package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTieredCacheReadThrough(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewTieredCacheRepository(client, 50*time.Millisecond)
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "mode")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, cache.Set(ctx, "mode", "STANDARD", time.Minute))

	value, found, err := cache.Get(ctx, "mode")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "STANDARD", value)
}

func TestTieredCacheWriteInvalidatesLocalLayer(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewTieredCacheRepository(client, time.Minute)
	ctx := context.Background()

	assert.NoError(t, cache.Set(ctx, "mode", "STANDARD", time.Minute))
	_, _, _ = cache.Get(ctx, "mode") // 预热本地层

	// 写入使本地层失效，下一次读取回源拿到新值
	assert.NoError(t, cache.Set(ctx, "mode", "MINIMAL", time.Minute))
	value, found, err := cache.Get(ctx, "mode")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "MINIMAL", value)
}

func TestTieredCacheDelete(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewTieredCacheRepository(client, time.Minute)
	ctx := context.Background()

	assert.NoError(t, cache.Set(ctx, "mode", "STANDARD", time.Minute))
	assert.NoError(t, cache.Delete(ctx, "mode"))

	_, found, err := cache.Get(ctx, "mode")
	assert.NoError(t, err)
	assert.False(t, found)
}

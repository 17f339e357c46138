package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockMutualExclusion(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewLockRepository(client)
	ctx := context.Background()

	ok, err := repo.TryAcquire(ctx, "check", "owner-a", 30*time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)

	// 持有期间其他实例抢不到
	ok, err = repo.TryAcquire(ctx, "check", "owner-b", 30*time.Second)
	assert.NoError(t, err)
	assert.False(t, ok)

	// 非持有者释放无效
	assert.NoError(t, repo.Release(ctx, "check", "owner-b"))
	ok, err = repo.TryAcquire(ctx, "check", "owner-b", 30*time.Second)
	assert.NoError(t, err)
	assert.False(t, ok)

	// 持有者释放后可重新获取
	assert.NoError(t, repo.Release(ctx, "check", "owner-a"))
	ok, err = repo.TryAcquire(ctx, "check", "owner-b", 30*time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)

	// TTL到期自动解锁
	mr.FastForward(31 * time.Second)
	ok, err = repo.TryAcquire(ctx, "check", "owner-c", 30*time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)
}

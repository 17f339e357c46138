/*
 * 分布式锁仓库层:基于Redis的TTL互斥锁
 * @author: sun977
 * @date: 2025.11.21
 * @description: SetNX + TTL实现的轻量互斥，用于心跳检测等单实例任务防并发
 */

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// lockKeyPrefix 锁键前缀
const lockKeyPrefix = "neotasker:lock:"

// releaseScript 只释放自己持有的锁，避免误删他人获取的新锁
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// LockRepository 分布式锁仓库结构体
type LockRepository struct {
	client *redis.Client // Redis客户端
}

// NewLockRepository 创建分布式锁仓库实例
func NewLockRepository(client *redis.Client) *LockRepository {
	return &LockRepository{
		client: client,
	}
}

// TryAcquire 尝试获取锁
// 返回true表示获取成功；锁在TTL后自动过期，持有者崩溃不会造成死锁
func (r *LockRepository) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+name, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// Release 释放锁，仅当owner匹配时生效
func (r *LockRepository) Release(ctx context.Context, name, owner string) error {
	if err := r.client.Eval(ctx, releaseScript, []string{lockKeyPrefix + name}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

/*
 * 两级缓存仓库层:本地内存 + Redis
 * @author: sun977
 * @date: 2025.11.21
 * @description: 读多写少数据的两级缓存。
 * 一致性约定：本地层只做短TTL兜底（默认5秒），写入时同时更新Redis并使本地失效，
 * 跨实例在本地TTL窗口内可能读到旧值，调用方不得将其用于强一致场景。
 */

package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// cacheKeyPrefix 缓存键前缀
const cacheKeyPrefix = "neotasker:cache:"

// localEntry 本地缓存条目
type localEntry struct {
	value     string
	expiresAt time.Time
}

// TieredCacheRepository 两级缓存仓库结构体
type TieredCacheRepository struct {
	client   *redis.Client // Redis客户端
	localTTL time.Duration // 本地层TTL

	mu    sync.RWMutex
	local map[string]localEntry
}

// NewTieredCacheRepository 创建两级缓存仓库实例
func NewTieredCacheRepository(client *redis.Client, localTTL time.Duration) *TieredCacheRepository {
	if localTTL <= 0 {
		localTTL = 5 * time.Second
	}
	return &TieredCacheRepository{
		client:   client,
		localTTL: localTTL,
		local:    make(map[string]localEntry),
	}
}

// Get 读取缓存值，优先本地层，未命中回源Redis
// 两级均未命中时返回空串和false
func (r *TieredCacheRepository) Get(ctx context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	entry, ok := r.local[key]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, true, nil
	}

	value, err := r.client.Get(ctx, cacheKeyPrefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	r.mu.Lock()
	r.local[key] = localEntry{value: value, expiresAt: time.Now().Add(r.localTTL)}
	r.mu.Unlock()
	return value, true, nil
}

// Set 写入缓存值，同时更新Redis并使本地失效
func (r *TieredCacheRepository) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, cacheKeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}

	r.mu.Lock()
	delete(r.local, key)
	r.mu.Unlock()
	return nil
}

// Delete 删除缓存值
func (r *TieredCacheRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, cacheKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key %s: %w", key, err)
	}

	r.mu.Lock()
	delete(r.local, key)
	r.mu.Unlock()
	return nil
}

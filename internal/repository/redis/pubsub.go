/*
 * 事件发布订阅仓库层:Redis Pub/Sub访问
 * @author: sun977
 * @date: 2025.11.21
 * @description: 单纯数据访问,不应该包含业务逻辑
 * @func:
 * 1.按频道发布事件
 * 2.模式订阅事件流
 */

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// ChannelPrefix 事件频道前缀，所有系统事件频道均以此开头
const ChannelPrefix = "neotasker:events:"

// 事件频道，后端组件发布，广播桥接层订阅后转发到WebSocket
const (
	ChannelTasks  = ChannelPrefix + "tasks"  // 任务生命周期事件
	ChannelAgents = ChannelPrefix + "agents" // Agent状态变更事件
	ChannelAlerts = ChannelPrefix + "alerts" // 告警事件
	ChannelSystem = ChannelPrefix + "system" // 系统级事件(模式切换等)
)

// PubSubRepository 事件发布订阅仓库结构体
type PubSubRepository struct {
	client *redis.Client // Redis客户端
}

// NewPubSubRepository 创建事件发布订阅仓库实例
func NewPubSubRepository(client *redis.Client) *PubSubRepository {
	return &PubSubRepository{
		client: client,
	}
}

// Publish 发布事件到指定频道
// payload会被JSON编码，订阅方收到原始JSON字节
func (r *PubSubRepository) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", channel, err)
	}
	return nil
}

// PSubscribe 按模式订阅事件频道
// 调用方通过返回的PubSub对象接收消息并负责关闭
func (r *PubSubRepository) PSubscribe(ctx context.Context, pattern string) *redis.PubSub {
	return r.client.PSubscribe(ctx, pattern)
}

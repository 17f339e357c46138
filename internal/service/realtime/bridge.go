/*
 * 事件广播桥
 * @author: sun977
 * @date: 2025.11.26
 * @description: Redis Pub/Sub到WebSocket的单向桥接。
 * 模式订阅全部事件频道，按频道后缀映射到房间后原样转发JSON，
 * 后端多实例各自发布，桥接层保证所有实例的事件都到达前端。
 */

package realtime

import (
	"context"
	"strings"
	"sync"

	"neotasker/internal/pkg/logger"
	redisrepo "neotasker/internal/repository/redis"

	"github.com/sirupsen/logrus"
)

// Bridge 事件广播桥
type Bridge struct {
	pubsubRepo *redisrepo.PubSubRepository
	hub        *Hub

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBridge 创建事件广播桥
func NewBridge(pubsubRepo *redisrepo.PubSubRepository, hub *Hub) *Bridge {
	return &Bridge{
		pubsubRepo: pubsubRepo,
		hub:        hub,
	}
}

// Start 启动桥接循环
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.loop(runCtx)

	logger.LogSystemEvent("bridge", "started",
		"Event bridge started", logrus.InfoLevel, map[string]interface{}{
			"pattern": redisrepo.ChannelPrefix + "*",
		})
	return nil
}

// loop 订阅事件流并转发
func (b *Bridge) loop(ctx context.Context) {
	defer b.wg.Done()

	pubsub := b.pubsubRepo.PSubscribe(ctx, redisrepo.ChannelPrefix+"*")
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				logger.LogSystemEvent("bridge", "subscription_closed",
					"Event subscription closed", logrus.WarnLevel, nil)
				return
			}
			// 映射不到房间的频道对全部客户端扇出
			b.hub.BroadcastToRoom(roomFromChannel(msg.Channel), []byte(msg.Payload))
		}
	}
}

// roomFromChannel 按频道后缀映射房间
// neotasker:events:tasks -> tasks；未知后缀映射为空串(全量扇出)
func roomFromChannel(channel string) string {
	suffix := strings.TrimPrefix(channel, redisrepo.ChannelPrefix)
	if suffix == channel || !validRooms[suffix] {
		return ""
	}
	return suffix
}

// Stop 停止桥接
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	b.cancel()
	b.wg.Wait()

	logger.LogSystemEvent("bridge", "stopped",
		"Event bridge stopped", logrus.InfoLevel, nil)
}

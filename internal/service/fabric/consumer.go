/*
 * 消息消费服务
 * @author: sun977
 * @date: 2025.11.22
 * @description: 队列消费的统一封装。
 * 每个消费者独占一个通道(prefetch=1)，单goroutine串行处理保证公平分发：
 * 处理成功ack，处理失败nack且不重回原队列(消息经死信交换机汇入死信队列)。
 * @func:
 * 1.启动串行消费循环
 * 2.ack/nack语义统一处理
 * 3.消费者取消与通道关闭
 */

package fabric

import (
	"context"
	"fmt"
	"sync"

	"neotasker/internal/pkg/logger"
	"neotasker/internal/pkg/mq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// DeliveryHandler 消息处理回调
// 返回nil表示处理成功(ack)，返回错误表示处理失败(nack不重回队列)
type DeliveryHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer 队列消费者
// 一个消费者绑定一个队列，持有独立通道
type Consumer struct {
	queue   string
	tag     string
	handler DeliveryHandler

	mqManager *mq.RabbitMQManager
	channel   *amqp.Channel

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewConsumer 创建队列消费者
func NewConsumer(mqManager *mq.RabbitMQManager, queue, tag string, handler DeliveryHandler) *Consumer {
	return &Consumer{
		queue:     queue,
		tag:       tag,
		handler:   handler,
		mqManager: mqManager,
	}
}

// Start 启动消费循环
// 独立通道上prefetch=1，未ack前Broker不会投递下一条，实现公平分发
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("consumer %s already running", c.tag)
	}

	ch, err := c.mqManager.NewConsumeChannel()
	if err != nil {
		return fmt.Errorf("failed to create consume channel for %s: %w", c.queue, err)
	}

	deliveries, err := ch.Consume(c.queue, c.tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consuming %s: %w", c.queue, err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	c.channel = ch
	c.cancel = cancel
	c.running = true

	go c.loop(consumeCtx, deliveries)

	logger.LogSystemEvent("consumer", "started",
		fmt.Sprintf("Consumer started on queue %s", c.queue), logrus.InfoLevel,
		map[string]interface{}{
			"queue": c.queue,
			"tag":   c.tag,
		})
	return nil
}

// loop 串行消费循环，单goroutine保证同一队列消息顺序处理
func (c *Consumer) loop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				// 通道关闭(连接断开或主动停止)，重连后由上层重建消费者
				logger.LogSystemEvent("consumer", "channel_closed",
					fmt.Sprintf("Delivery channel closed for queue %s", c.queue), logrus.WarnLevel,
					map[string]interface{}{"queue": c.queue})
				c.markStopped()
				return
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery 处理单条消息，统一ack/nack语义
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	correlationID := delivery.CorrelationId

	if err := c.handler(ctx, delivery); err != nil {
		logger.LogError(err, correlationID, "consumer", c.queue, map[string]interface{}{
			"tag": c.tag,
		})
		// 不重回原队列，消息经死信交换机进入死信队列
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			logger.LogError(fmt.Errorf("failed to nack delivery: %w", nackErr),
				correlationID, "consumer", c.queue, nil)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		logger.LogError(fmt.Errorf("failed to ack delivery: %w", ackErr),
			correlationID, "consumer", c.queue, nil)
	}
}

// markStopped 标记消费者已停止
func (c *Consumer) markStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

// IsRunning 判断消费者是否在运行
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Queue 返回消费的队列名
func (c *Consumer) Queue() string {
	return c.queue
}

// Stop 停止消费并关闭通道
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	if c.cancel != nil {
		c.cancel()
	}
	if c.channel != nil {
		if err := c.channel.Cancel(c.tag, false); err != nil {
			logger.LogError(fmt.Errorf("failed to cancel consumer: %w", err), "", "consumer", c.queue, nil)
		}
		if err := c.channel.Close(); err != nil {
			return fmt.Errorf("failed to close consume channel: %w", err)
		}
		c.channel = nil
	}

	logger.LogSystemEvent("consumer", "stopped",
		fmt.Sprintf("Consumer stopped on queue %s", c.queue), logrus.InfoLevel,
		map[string]interface{}{"queue": c.queue, "tag": c.tag})
	return nil
}

/*
 * 消息发布服务
 * @author: sun977
 * @date: 2025.11.22
 * @description: 统一的消息发布出口。
 * 所有消息持久化投递(delivery mode 2)、JSON编码，并携带correlationId，
 * 消费侧与日志链路依赖该ID做全链路追踪。
 * @func:
 * 1.任务消息发布(task.<role>.<priority>)
 * 2.结果消息发布(result.<taskId>.<success|failure>)
 * 3.重试消息发布(按档位头进入TTL队列)
 */

package fabric

import (
	"context"
	"encoding/json"
	"fmt"

	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"
	"neotasker/internal/pkg/mq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher 消息发布接口
type Publisher interface {
	// PublishTask 发布任务消息到任务交换机
	PublishTask(ctx context.Context, msg *model.TaskMessage, role model.AgentRole) error
	// PublishResult 发布结果消息到结果交换机
	PublishResult(ctx context.Context, msg *model.ResultMessage) error
	// PublishRetry 将任务消息送入对应档位的TTL重试队列
	PublishRetry(ctx context.Context, msg *model.TaskMessage, role model.AgentRole) error
}

// publisher 消息发布服务实现
type publisher struct {
	mqManager *mq.RabbitMQManager // 连接管理器
}

// NewPublisher 创建消息发布服务实例
func NewPublisher(mqManager *mq.RabbitMQManager) Publisher {
	return &publisher{
		mqManager: mqManager,
	}
}

// publish 底层发布：持久化投递、JSON编码、correlationId头
func (p *publisher) publish(ctx context.Context, exchange, routingKey, correlationID string, headers amqp.Table, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch, err := p.mqManager.GetChannel()
	if err != nil {
		return fmt.Errorf("failed to get publish channel: %w", err)
	}

	if headers == nil {
		headers = amqp.Table{}
	}
	headers["correlationId"] = correlationID

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		Headers:       headers,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s with key %s: %w", exchange, routingKey, err)
	}
	return nil
}

// PublishTask 发布任务消息
// 路由键 task.<role-key>.<priority> 命中目标角色队列
func (p *publisher) PublishTask(ctx context.Context, msg *model.TaskMessage, role model.AgentRole) error {
	routingKey := TaskRoutingKey(role, msg.Priority)
	if err := p.publish(ctx, ExchangeTasks, routingKey, msg.CorrelationID, nil, msg); err != nil {
		return err
	}

	logger.LogBusinessOperation("task.published", msg.CorrelationID, role.String(), "success",
		"Task message published", map[string]interface{}{
			"task_id":     msg.TaskID,
			"routing_key": routingKey,
			"attempt":     msg.Attempt,
		})
	return nil
}

// PublishResult 发布结果消息
// 路由键 result.<taskId>.<success|failure>，结局可直接从键上读出
func (p *publisher) PublishResult(ctx context.Context, msg *model.ResultMessage) error {
	routingKey := ResultRoutingKey(msg.TaskID, msg.Success)
	if err := p.publish(ctx, ExchangeResults, routingKey, msg.CorrelationID, nil, msg); err != nil {
		return err
	}

	result := "success"
	if !msg.Success {
		result = "failed"
	}
	logger.LogBusinessOperation("result.published", msg.CorrelationID, msg.AgentRole.String(), result,
		"Result message published", map[string]interface{}{
			"task_id":     msg.TaskID,
			"routing_key": routingKey,
		})
	return nil
}

// PublishRetry 将任务送入TTL重试队列
// 保留原任务路由键，档位由消息头决定；TTL到期后消息回流任务交换机重新投递
func (p *publisher) PublishRetry(ctx context.Context, msg *model.TaskMessage, role model.AgentRole) error {
	tier := RetryTier(msg.Attempt)
	headers := amqp.Table{
		RetryTierHeader: tier,
	}
	routingKey := TaskRoutingKey(role, msg.Priority)
	if err := p.publish(ctx, ExchangeRetry, routingKey, msg.CorrelationID, headers, msg); err != nil {
		return err
	}

	logger.LogBusinessOperation("task.retry_scheduled", msg.CorrelationID, role.String(), "success",
		"Task scheduled for retry", map[string]interface{}{
			"task_id": msg.TaskID,
			"tier":    tier,
			"attempt": msg.Attempt,
		})
	return nil
}

/*
 * 消息拓扑定义与声明
 * @author: sun977
 * @date: 2025.11.22
 * @description: 声明任务编排所需的全部交换机、队列与绑定。
 * 所有交换机与队列均为durable，Broker重启后拓扑与积压消息保留。
 * @func:
 * 1.4个交换机: 任务/结果/死信/重试
 * 2.12个角色队列(挂死信交换机) + 结果队列 + 死信队列
 * 3.3个TTL重试队列(30s/60s/300s)，到期消息回流任务交换机
 */

package fabric

import (
	"fmt"

	"neotasker/internal/model"

	amqp "github.com/rabbitmq/amqp091-go"
)

// 交换机
const (
	ExchangeTasks   = "agent.tasks"   // 任务交换机(topic)，按 task.<role>.<priority> 路由
	ExchangeResults = "agent.results" // 结果交换机(topic)，按 result.<taskId>.<outcome> 路由
	ExchangeDLX     = "agent.dlx"     // 死信交换机(fanout)，被拒绝的消息汇入
	ExchangeRetry   = "agent.retry"   // 重试交换机(headers)，按延迟档位头路由
)

// RetryTierHeader 重试档位消息头
// 重试交换机为headers类型：按档位头选择TTL队列，消息保留原路由键，
// 到期经死信机制回流任务交换机后仍能命中原角色队列
const RetryTierHeader = "x-retry-tier"

// 队列
const (
	QueueResults     = "agent.results.master" // 主编排者结果队列
	QueueDeadLetters = "agent.dead-letters"   // 死信汇总队列
)

// 重试档位：队列持有消息到TTL后经死信机制回流任务交换机
var retryTiers = []struct {
	Queue     string
	Tier      string
	TTLMillis int32
}{
	{"agent.retry.30s", "30s", 30_000},
	{"agent.retry.60s", "60s", 60_000},
	{"agent.retry.300s", "300s", 300_000},
}

// RoleQueueName 构造角色队列名：agent.<role-key>
func RoleQueueName(role model.AgentRole) string {
	return "agent." + role.Key()
}

// TaskRoutingKey 构造任务路由键：task.<role-key>.<priority>
func TaskRoutingKey(role model.AgentRole, priority model.TaskPriority) string {
	return fmt.Sprintf("task.%s.%s", role.Key(), priority.Key())
}

// taskBindingKey 角色队列的绑定键，匹配该角色任意优先级
func taskBindingKey(role model.AgentRole) string {
	return fmt.Sprintf("task.%s.*", role.Key())
}

// ResultBindingKey 结果队列绑定键，匹配任意任务的任意结果
const ResultBindingKey = "result.#"

// ResultRoutingKey 构造结果路由键：result.<taskId>.<success|failure>
// 结局编码进路由键，主编排者队列按 result.# 全量接收
func ResultRoutingKey(taskID string, success bool) string {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	return fmt.Sprintf("result.%s.%s", taskID, outcome)
}

// DeadLetterRoutingKey 构造死信路由键：dlx.<role-key>
// 角色队列的x-dead-letter-routing-key，死信中可辨来源角色
func DeadLetterRoutingKey(role model.AgentRole) string {
	return "dlx." + role.Key()
}

// RetryTier 按尝试次数选择重试档位
// 第1次失败30s后重试，第2次60s，之后一律300s
func RetryTier(attempt int) string {
	switch {
	case attempt <= 1:
		return "30s"
	case attempt == 2:
		return "60s"
	default:
		return "300s"
	}
}

// AssertTopology 在给定通道上声明全部拓扑
// 声明是幂等的，连接重建后重复执行保证拓扑存在
func AssertTopology(ch *amqp.Channel) error {
	// 交换机
	for _, exchange := range []string{ExchangeTasks, ExchangeResults} {
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}
	if err := ch.ExchangeDeclare(ExchangeDLX, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", ExchangeDLX, err)
	}
	if err := ch.ExchangeDeclare(ExchangeRetry, "headers", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", ExchangeRetry, err)
	}

	// 12个角色队列，被拒绝的消息以 dlx.<role> 为键进入死信交换机
	for _, role := range model.AllAgentRoles() {
		queue := RoleQueueName(role)
		args := amqp.Table{
			"x-dead-letter-exchange":    ExchangeDLX,
			"x-dead-letter-routing-key": DeadLetterRoutingKey(role),
		}
		if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, taskBindingKey(role), ExchangeTasks, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", queue, err)
		}
	}

	// 结果队列
	if _, err := ch.QueueDeclare(QueueResults, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", QueueResults, err)
	}
	if err := ch.QueueBind(QueueResults, ResultBindingKey, ExchangeResults, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", QueueResults, err)
	}

	// 死信汇总队列，fanout交换机绑定键无意义，留空
	if _, err := ch.QueueDeclare(QueueDeadLetters, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", QueueDeadLetters, err)
	}
	if err := ch.QueueBind(QueueDeadLetters, "", ExchangeDLX, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", QueueDeadLetters, err)
	}

	// TTL重试队列：消息停留到期后经死信机制回流任务交换机，保留原路由键
	for _, tier := range retryTiers {
		args := amqp.Table{
			"x-message-ttl":          tier.TTLMillis,
			"x-dead-letter-exchange": ExchangeTasks,
		}
		if _, err := ch.QueueDeclare(tier.Queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", tier.Queue, err)
		}
		bindArgs := amqp.Table{
			"x-match":       "all",
			RetryTierHeader: tier.Tier,
		}
		if err := ch.QueueBind(tier.Queue, "", ExchangeRetry, false, bindArgs); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", tier.Queue, err)
		}
	}

	return nil
}

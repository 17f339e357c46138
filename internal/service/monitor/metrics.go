/*
 * 指标收集器
 * @author: sun977
 * @date: 2025.11.25
 * @description: 汇聚任务库、Agent状态与队列深度的指标快照，供告警规则求值。
 */

package monitor

import (
	"context"
	"fmt"
	"time"

	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"
	"neotasker/internal/pkg/mq"
	mysqlrepo "neotasker/internal/repository/mysql"
	redisrepo "neotasker/internal/repository/redis"

	"neotasker/internal/service/fabric"
)

// 指标名，告警规则通过这些名字引用指标
const (
	MetricTasksFailed1h    = "tasks_failed_1h"         // 近1小时终态失败任务数
	MetricTasksCompleted1h = "tasks_completed_1h"      // 近1小时完成任务数
	MetricFailureRate      = "failure_rate"            // 近1小时失败率(0~1)
	MetricPendingTasks     = "pending_tasks"           // 待执行任务数(PENDING/QUEUED/RETRYING)
	MetricAvgDurationMs    = "avg_task_duration_ms"    // 近1小时完成任务的平均耗时
	MetricAgentsActive     = "agents_active"           // 活跃Agent数(IDLE/BUSY/OVERLOADED)
	MetricAgentsOffline    = "agents_offline"          // 离线Agent数
	MetricAgentsError      = "agents_error"            // 异常Agent数
	MetricDeadLetterDepth  = "dead_letter_depth"       // 死信队列积压深度
)

// Collector 指标收集器接口
type Collector interface {
	// Snapshot 采集一次指标快照
	Snapshot(ctx context.Context) (map[string]float64, error)
}

// collector 指标收集器实现
type collector struct {
	taskRepo   *mysqlrepo.TaskRepository
	statusRepo *redisrepo.AgentStatusRepository
	mqManager  *mq.RabbitMQManager
}

// NewCollector 创建指标收集器实例
func NewCollector(
	taskRepo *mysqlrepo.TaskRepository,
	statusRepo *redisrepo.AgentStatusRepository,
	mqManager *mq.RabbitMQManager,
) Collector {
	return &collector{
		taskRepo:   taskRepo,
		statusRepo: statusRepo,
		mqManager:  mqManager,
	}
}

// Snapshot 采集一次指标快照
// 单项指标采集失败不阻断整体快照，缺失项记日志后跳过
func (c *collector) Snapshot(ctx context.Context) (map[string]float64, error) {
	metrics := make(map[string]float64)
	since := time.Now().Add(-time.Hour)

	failed, err := c.taskRepo.CountTasksByStatusSince(ctx, model.TaskStatusFailed, since)
	if err != nil {
		return nil, fmt.Errorf("failed to collect task metrics: %w", err)
	}
	completed, err := c.taskRepo.CountTasksByStatusSince(ctx, model.TaskStatusCompleted, since)
	if err != nil {
		return nil, fmt.Errorf("failed to collect task metrics: %w", err)
	}

	metrics[MetricTasksFailed1h] = float64(failed)
	metrics[MetricTasksCompleted1h] = float64(completed)
	if total := failed + completed; total > 0 {
		metrics[MetricFailureRate] = float64(failed) / float64(total)
	} else {
		metrics[MetricFailureRate] = 0
	}

	pending, err := c.taskRepo.CountTasksInStatuses(ctx, []model.TaskStatus{
		model.TaskStatusPending, model.TaskStatusQueued, model.TaskStatusRetrying,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect task metrics: %w", err)
	}
	metrics[MetricPendingTasks] = float64(pending)

	if avg, err := c.avgDurationMs(ctx, since); err != nil {
		logger.LogError(err, "", "metrics", "", nil)
	} else {
		metrics[MetricAvgDurationMs] = avg
	}

	statuses, err := c.statusRepo.GetAllStatuses(ctx)
	if err != nil {
		logger.LogError(err, "", "metrics", "", nil)
	} else {
		var active, offline, errored float64
		for _, info := range statuses {
			switch info.Status {
			case model.AgentStatusIdle, model.AgentStatusBusy, model.AgentStatusOverloaded:
				active++
			case model.AgentStatusOffline:
				offline++
			case model.AgentStatusError:
				errored++
			}
		}
		metrics[MetricAgentsActive] = active
		metrics[MetricAgentsOffline] = offline
		metrics[MetricAgentsError] = errored
	}

	if depth, err := c.deadLetterDepth(); err != nil {
		logger.LogError(err, "", "metrics", fabric.QueueDeadLetters, nil)
	} else {
		metrics[MetricDeadLetterDepth] = depth
	}

	return metrics, nil
}

// avgDurationMs 计算近1小时完成任务的平均耗时
// 在应用侧求平均，避免对时间差函数的方言依赖
func (c *collector) avgDurationMs(ctx context.Context, since time.Time) (float64, error) {
	tasks, err := c.taskRepo.ListCompletedSince(ctx, since, 1000)
	if err != nil {
		return 0, err
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	var totalMs float64
	for _, task := range tasks {
		if task.CompletedAt == nil {
			continue
		}
		totalMs += float64(task.CompletedAt.Sub(task.CreatedAt).Milliseconds())
	}
	return totalMs / float64(len(tasks)), nil
}

// deadLetterDepth 查询死信队列积压深度
func (c *collector) deadLetterDepth() (float64, error) {
	ch, err := c.mqManager.GetChannel()
	if err != nil {
		return 0, err
	}

	queue, err := ch.QueueDeclarePassive(fabric.QueueDeadLetters, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect dead letter queue: %w", err)
	}
	return float64(queue.Messages), nil
}

/*
 * 主编排者服务
 * @author: sun977
 * @date: 2025.11.24
 * @description: 任务的受理、委派与结果处置。
 * 委派流程：解析目标角色 -> 发布任务消息 -> 幂等写入委派记录 -> 更新任务状态 -> 审计 -> 广播。
 * 结果流程：成功落库完结；失败且有剩余尝试次数则送入TTL重试队列，否则终态FAILED。
 * @func:
 * 1.CreateTask 受理任务
 * 2.DelegateTask 委派任务
 * 3.HandleResult 处置结果消息
 */

package agent

import (
	"context"
	"fmt"
	"time"

	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"
	"neotasker/internal/pkg/utils"
	mysqlrepo "neotasker/internal/repository/mysql"
	redisrepo "neotasker/internal/repository/redis"
	"neotasker/internal/service/fabric"
	"neotasker/internal/service/realtime"
)

// MasterService 主编排者服务接口
type MasterService interface {
	// CreateTask 受理新任务并立即委派
	CreateTask(ctx context.Context, task *model.Task) error
	// DelegateTask 将任务委派给目标角色
	DelegateTask(ctx context.Context, task *model.Task) error
	// HandleResult 处置一条结果消息
	HandleResult(ctx context.Context, result *model.ResultMessage) error
	// CancelTask 取消一个未终态的任务
	CancelTask(ctx context.Context, taskID string) error
}

// masterService 主编排者服务实现
type masterService struct {
	taskRepo       *mysqlrepo.TaskRepository
	assignmentRepo *mysqlrepo.AssignmentRepository
	auditRepo      *mysqlrepo.AuditRepository
	statusRepo     *redisrepo.AgentStatusRepository
	pubsubRepo     *redisrepo.PubSubRepository
	publisher      fabric.Publisher
	registry       Registry
}

// NewMasterService 创建主编排者服务实例
func NewMasterService(
	taskRepo *mysqlrepo.TaskRepository,
	assignmentRepo *mysqlrepo.AssignmentRepository,
	auditRepo *mysqlrepo.AuditRepository,
	statusRepo *redisrepo.AgentStatusRepository,
	pubsubRepo *redisrepo.PubSubRepository,
	publisher fabric.Publisher,
	registry Registry,
) MasterService {
	return &masterService{
		taskRepo:       taskRepo,
		assignmentRepo: assignmentRepo,
		auditRepo:      auditRepo,
		statusRepo:     statusRepo,
		pubsubRepo:     pubsubRepo,
		publisher:      publisher,
		registry:       registry,
	}
}

// CreateTask 受理新任务并立即委派
func (m *masterService) CreateTask(ctx context.Context, task *model.Task) error {
	if task.TaskID == "" {
		task.TaskID = utils.GenerateTaskID()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}
	if !task.Priority.IsValid() {
		task.Priority = model.PriorityMedium
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = m.registry.GetProfile(ResolveRole(task.Type)).Retry.MaxAttempts
	}
	// 受理时生成关联ID，此后委派/重试/审计/广播全程沿用同一个
	if task.CorrelationID == "" {
		task.CorrelationID = utils.GenerateCorrelationID()
	}

	if err := m.taskRepo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to persist task: %w", err)
	}

	m.broadcast(ctx, redisrepo.ChannelTasks, realtime.EventTaskCreated, map[string]interface{}{
		"taskId":    task.TaskID,
		"projectId": task.ProjectID,
		"type":      task.Type,
		"priority":  task.Priority,
	}, task.CorrelationID)

	return m.DelegateTask(ctx, task)
}

// DelegateTask 将任务委派给目标角色
// 同一任务重复委派是幂等的：委派记录按(task_id, agent_role)覆盖更新
func (m *masterService) DelegateTask(ctx context.Context, task *model.Task) error {
	role := ResolveRole(task.Type)
	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = utils.GenerateCorrelationID()
		task.CorrelationID = correlationID
	}
	attempt := task.Attempt + 1

	msg := &model.TaskMessage{
		TaskID:        task.TaskID,
		ProjectID:     task.ProjectID,
		Title:         task.Title,
		Description:   task.Description,
		Type:          task.Type,
		Input:         task.Input,
		Priority:      task.Priority,
		ParentTaskID:  task.ParentTaskID,
		CorrelationID: correlationID,
		Attempt:       attempt,
		DelegatedBy:   model.RoleMasterOrchestrator.String(),
		DelegatedAt:   time.Now(),
	}

	if err := m.publisher.PublishTask(ctx, msg, role); err != nil {
		return fmt.Errorf("failed to publish task %s: %w", task.TaskID, err)
	}

	assignment := &model.AgentAssignment{
		TaskID:      task.TaskID,
		AgentRole:   role,
		ProjectID:   task.ProjectID,
		RoutingKey:  fabric.TaskRoutingKey(role, task.Priority),
		Priority:    task.Priority,
		DelegatedBy: msg.DelegatedBy,
		DelegatedAt: msg.DelegatedAt,
		Attempt:     attempt,
	}
	if err := m.assignmentRepo.UpsertAssignment(ctx, assignment); err != nil {
		return fmt.Errorf("failed to record assignment: %w", err)
	}

	if err := m.taskRepo.UpdateTaskAssignment(ctx, task.TaskID, role, attempt); err != nil {
		return fmt.Errorf("failed to update task assignment: %w", err)
	}

	// 路由决策审计
	audit := &model.AuditLog{
		Action:        "task.delegated",
		Resource:      "task",
		ResourceID:    task.TaskID,
		CorrelationID: correlationID,
		Actor:         model.RoleMasterOrchestrator.String(),
		Detail: model.JSONMap{
			"role":       role.String(),
			"routingKey": assignment.RoutingKey,
			"attempt":    attempt,
		},
	}
	if err := m.auditRepo.CreateAuditLog(ctx, audit); err != nil {
		logger.LogError(fmt.Errorf("failed to write delegation audit: %w", err),
			correlationID, "master", "", map[string]interface{}{"task_id": task.TaskID})
	}

	logger.LogAuditOperation("task.delegated", "task", task.TaskID, correlationID,
		map[string]interface{}{
			"role":     role.String(),
			"priority": string(task.Priority),
			"attempt":  attempt,
		})

	m.broadcast(ctx, redisrepo.ChannelTasks, realtime.EventTaskDelegated, map[string]interface{}{
		"taskId":   task.TaskID,
		"role":     role,
		"priority": task.Priority,
		"attempt":  attempt,
	}, correlationID)

	return nil
}

// HandleResult 处置一条结果消息
func (m *masterService) HandleResult(ctx context.Context, result *model.ResultMessage) error {
	task, err := m.taskRepo.GetTaskByTaskID(ctx, result.TaskID)
	if err != nil {
		return fmt.Errorf("failed to load task for result: %w", err)
	}
	if task == nil {
		// 未知任务的结果记日志后丢弃，不阻塞消费
		logger.LogError(fmt.Errorf("result for unknown task %s", result.TaskID),
			result.CorrelationID, "master", fabric.QueueResults, nil)
		return nil
	}

	// 终态任务(含已取消)的迟到结果不再处置
	if task.Status.IsTerminal() {
		logger.LogBusinessOperation("result.ignored", result.CorrelationID,
			result.AgentRole.String(), "skipped", "Task already finished",
			map[string]interface{}{
				"task_id": task.TaskID,
				"status":  string(task.Status),
			})
		return nil
	}

	// 主编排者自身的委派回执只做记账，不改任务终态
	if result.AgentRole == model.RoleMasterOrchestrator {
		logger.LogBusinessOperation("result.processed", result.CorrelationID,
			result.AgentRole.String(), "success", "Delegation acknowledged",
			map[string]interface{}{
				"task_id": task.TaskID,
				"output":  result.Output,
			})
		return nil
	}

	if result.Success {
		return m.handleSuccess(ctx, task, result)
	}
	return m.handleFailure(ctx, task, result)
}

// handleSuccess 成功结果：落库完结并广播
func (m *masterService) handleSuccess(ctx context.Context, task *model.Task, result *model.ResultMessage) error {
	if err := m.taskRepo.UpdateTaskResult(ctx, task.TaskID, model.TaskStatusCompleted, result.Output, ""); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}

	if err := m.statusRepo.IncrTasksHandled(ctx, result.AgentRole); err != nil {
		logger.LogError(err, result.CorrelationID, "master", "", nil)
	}

	logger.LogBusinessOperation("result.processed", result.CorrelationID, result.AgentRole.String(),
		"success", "Task completed", map[string]interface{}{"task_id": task.TaskID})

	m.broadcast(ctx, redisrepo.ChannelTasks, realtime.EventTaskCompleted, map[string]interface{}{
		"taskId": task.TaskID,
		"role":   result.AgentRole,
	}, result.CorrelationID)
	return nil
}

// handleFailure 失败结果：有剩余尝试次数则重试，否则终态FAILED
func (m *masterService) handleFailure(ctx context.Context, task *model.Task, result *model.ResultMessage) error {
	if err := m.statusRepo.IncrTasksFailed(ctx, result.AgentRole); err != nil {
		logger.LogError(err, result.CorrelationID, "master", "", nil)
	}

	if task.CanRetry() {
		return m.scheduleRetry(ctx, task, result)
	}

	if err := m.taskRepo.UpdateTaskResult(ctx, task.TaskID, model.TaskStatusFailed, result.Output, result.Error); err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}

	logger.LogBusinessOperation("result.processed", result.CorrelationID, result.AgentRole.String(),
		"failed", "Task failed permanently", map[string]interface{}{
			"task_id": task.TaskID,
			"attempt": task.Attempt,
			"error":   result.Error,
		})

	m.broadcast(ctx, redisrepo.ChannelTasks, realtime.EventTaskFailed, map[string]interface{}{
		"taskId": task.TaskID,
		"role":   result.AgentRole,
		"error":  result.Error,
	}, result.CorrelationID)
	return nil
}

// scheduleRetry 将失败任务送入TTL重试队列
// 重试消息沿用原路由键，TTL到期后回流任务交换机重新投递给原角色
func (m *masterService) scheduleRetry(ctx context.Context, task *model.Task, result *model.ResultMessage) error {
	role := ResolveRole(task.Type)
	attempt := task.Attempt + 1

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = result.CorrelationID
	}

	msg := &model.TaskMessage{
		TaskID:        task.TaskID,
		ProjectID:     task.ProjectID,
		Title:         task.Title,
		Description:   task.Description,
		Type:          task.Type,
		Input:         task.Input,
		Priority:      task.Priority,
		ParentTaskID:  task.ParentTaskID,
		CorrelationID: correlationID,
		Attempt:       attempt,
		DelegatedBy:   model.RoleMasterOrchestrator.String(),
		DelegatedAt:   time.Now(),
	}

	if err := m.publisher.PublishRetry(ctx, msg, role); err != nil {
		return fmt.Errorf("failed to schedule retry for task %s: %w", task.TaskID, err)
	}

	// 先落委派信息再置RETRYING，避免状态被委派更新覆盖
	if err := m.taskRepo.UpdateTaskAssignment(ctx, task.TaskID, role, attempt); err != nil {
		return fmt.Errorf("failed to bump task attempt: %w", err)
	}
	if err := m.taskRepo.UpdateTaskResult(ctx, task.TaskID, model.TaskStatusRetrying, nil, result.Error); err != nil {
		return fmt.Errorf("failed to mark task retrying: %w", err)
	}

	m.broadcast(ctx, redisrepo.ChannelTasks, realtime.EventTaskRetrying, map[string]interface{}{
		"taskId":  task.TaskID,
		"role":    role,
		"attempt": attempt,
	}, correlationID)
	return nil
}

// CancelTask 取消一个未终态的任务
// 终态任务不可取消；执行中的消息不召回，其结果回流时因任务已终态而被忽略
func (m *masterService) CancelTask(ctx context.Context, taskID string) error {
	task, err := m.taskRepo.GetTaskByTaskID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task for cancel: %w", err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	cancelled, err := m.taskRepo.CancelTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	if !cancelled {
		return fmt.Errorf("task %s already finished", taskID)
	}

	audit := &model.AuditLog{
		Action:        "task.cancelled",
		Resource:      "task",
		ResourceID:    task.TaskID,
		CorrelationID: task.CorrelationID,
		Actor:         model.RoleMasterOrchestrator.String(),
		Detail: model.JSONMap{
			"previousStatus": string(task.Status),
		},
	}
	if err := m.auditRepo.CreateAuditLog(ctx, audit); err != nil {
		logger.LogError(fmt.Errorf("failed to write cancel audit: %w", err),
			task.CorrelationID, "master", "", map[string]interface{}{"task_id": task.TaskID})
	}

	m.broadcast(ctx, redisrepo.ChannelTasks, realtime.EventTaskCancelled, map[string]interface{}{
		"taskId": task.TaskID,
	}, task.CorrelationID)
	return nil
}

// broadcast 发布实时事件，失败只记日志
func (m *masterService) broadcast(ctx context.Context, channel, eventType string, data map[string]interface{}, correlationID string) {
	event := realtime.NewEvent(eventType, data, correlationID)
	if err := m.pubsubRepo.Publish(ctx, channel, event); err != nil {
		logger.LogError(fmt.Errorf("failed to broadcast event %s: %w", eventType, err),
			correlationID, "master", "", nil)
	}
}

/*
 * 任务仓库层:任务数据访问
 * @author: sun977
 * @date: 2025.11.20
 * @description: 单纯数据访问,不应该包含业务逻辑
 * @func:
 * 1.创建任务
 * 2.更新任务状态与执行结果
 * 3.任务查询
 */

package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"neotasker/internal/model"

	"gorm.io/gorm"
)

// TaskRepository 任务仓库结构体
// 负责处理任务相关的数据访问，不包含业务逻辑
type TaskRepository struct {
	db *gorm.DB // 数据库连接
}

// NewTaskRepository 创建任务仓库实例
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{
		db: db,
	}
}

// CreateTask 创建任务（纯数据访问）
func (r *TaskRepository) CreateTask(ctx context.Context, task *model.Task) error {
	result := r.db.WithContext(ctx).Create(task)
	if result.Error != nil {
		return fmt.Errorf("failed to create task: %w", result.Error)
	}
	return nil
}

// GetTaskByTaskID 根据任务ID获取任务
// 未找到时返回 nil 而不是错误，由业务层处理
func (r *TaskRepository) GetTaskByTaskID(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task by task_id: %w", err)
	}
	return &task, nil
}

// UpdateTaskStatus 更新任务状态
func (r *TaskRepository) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	result := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("task_id = ?", taskID).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update task status: %w", result.Error)
	}
	return nil
}

// UpdateTaskAssignment 更新任务的委派信息
// 委派成功后记录目标角色、状态和尝试次数
func (r *TaskRepository) UpdateTaskAssignment(ctx context.Context, taskID string, role model.AgentRole, attempt int) error {
	result := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{
			"assigned_role": role,
			"status":        model.TaskStatusQueued,
			"attempt":       attempt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update task assignment: %w", result.Error)
	}
	return nil
}

// UpdateTaskResult 更新任务的执行结果
// 成功时写入输出，失败时写入失败原因；进入终态时记录完成时间
func (r *TaskRepository) UpdateTaskResult(ctx context.Context, taskID string, status model.TaskStatus, output model.JSONMap, errMsg string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
	}
	if output != nil {
		updates["output"] = output
	}
	if status.IsTerminal() {
		updates["completed_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("task_id = ?", taskID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update task result: %w", result.Error)
	}
	return nil
}

// GetTasksByProject 获取项目下的任务列表（分页）
func (r *TaskRepository) GetTasksByProject(ctx context.Context, projectID string, offset, limit int) ([]*model.Task, int64, error) {
	var tasks []*model.Task
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Task{}).Where("project_id = ?", projectID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count project tasks: %w", err)
	}

	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&tasks).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list project tasks: %w", err)
	}
	return tasks, total, nil
}

// GetTasksByStatus 按状态获取任务列表
func (r *TaskRepository) GetTasksByStatus(ctx context.Context, status model.TaskStatus, limit int) ([]*model.Task, error) {
	var tasks []*model.Task
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by status: %w", err)
	}
	return tasks, nil
}

// CountTasksByStatusSince 统计指定时间之后各状态的任务数
// 供指标收集器计算失败率
func (r *TaskRepository) CountTasksByStatusSince(ctx context.Context, status model.TaskStatus, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("status = ? AND updated_at >= ?", status, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	return count, nil
}

// CountTasksInStatuses 统计处于给定状态集合的任务总数
func (r *TaskRepository) CountTasksInStatuses(ctx context.Context, statuses []model.TaskStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("status IN ?", statuses).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks in statuses: %w", err)
	}
	return count, nil
}

// ListCompletedSince 列出指定时间之后完结的任务
// 供指标收集器计算平均执行耗时
func (r *TaskRepository) ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*model.Task, error) {
	var tasks []*model.Task
	err := r.db.WithContext(ctx).
		Where("status = ? AND completed_at >= ?", model.TaskStatusCompleted, since).
		Order("completed_at DESC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list completed tasks: %w", err)
	}
	return tasks, nil
}

// CancelTask 取消任务
// 仅对尚未进入终态的任务生效，返回是否实际发生了取消
func (r *TaskRepository) CancelTask(ctx context.Context, taskID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("task_id = ? AND status NOT IN ?", taskID, []model.TaskStatus{
			model.TaskStatusCompleted, model.TaskStatusFailed, model.TaskStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusCancelled,
			"completed_at": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to cancel task: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

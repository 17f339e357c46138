/*
 * 委派记录仓库层:任务委派数据访问
 * @author: sun977
 * @date: 2025.11.20
 * @description: 单纯数据访问,不应该包含业务逻辑
 * @func:
 * 1.幂等写入委派记录
 * 2.委派记录查询
 */

package mysql

import (
	"context"
	"errors"
	"fmt"

	"neotasker/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssignmentRepository 委派记录仓库结构体
type AssignmentRepository struct {
	db *gorm.DB // 数据库连接
}

// NewAssignmentRepository 创建委派记录仓库实例
func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{
		db: db,
	}
}

// UpsertAssignment 幂等写入委派记录
// (task_id, agent_role) 冲突时更新委派时间、路由键和尝试次数，
// 同一任务重复委派到同一角色不会产生重复行
func (r *AssignmentRepository) UpsertAssignment(ctx context.Context, assignment *model.AgentAssignment) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "task_id"}, {Name: "agent_role"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"routing_key", "priority", "delegated_by", "delegated_at", "attempt",
		}),
	}).Create(assignment)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert assignment: %w", result.Error)
	}
	return nil
}

// GetAssignmentByTask 获取任务的委派记录
// 未找到时返回 nil 而不是错误
func (r *AssignmentRepository) GetAssignmentByTask(ctx context.Context, taskID string) (*model.AgentAssignment, error) {
	var assignment model.AgentAssignment
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get assignment by task: %w", err)
	}
	return &assignment, nil
}

// GetAssignmentsByRole 获取某角色的委派记录列表（分页）
func (r *AssignmentRepository) GetAssignmentsByRole(ctx context.Context, role model.AgentRole, offset, limit int) ([]*model.AgentAssignment, int64, error) {
	var assignments []*model.AgentAssignment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AgentAssignment{}).Where("agent_role = ?", role)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count assignments: %w", err)
	}

	err := query.Order("delegated_at DESC").Offset(offset).Limit(limit).Find(&assignments).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list assignments by role: %w", err)
	}
	return assignments, total, nil
}

/*
 * Agent仓库层:Agent登记记录数据访问
 * @author: sun977
 * @date: 2026.08.31
 * @description: 单纯数据访问,不应该包含业务逻辑
 * @func:
 * 1.按角色幂等登记Agent
 * 2.心跳时间回写
 * 3.状态更新与查询
 */

package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"neotasker/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AgentRepository Agent仓库结构体
type AgentRepository struct {
	db *gorm.DB // 数据库连接
}

// NewAgentRepository 创建Agent仓库实例
func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{
		db: db,
	}
}

// UpsertAgent 按角色幂等登记Agent
// 角色唯一，重复登记覆盖状态与心跳时间
func (r *AgentRepository) UpsertAgent(ctx context.Context, agent *model.Agent) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "role"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "current_task_id", "last_heartbeat"}),
	}).Create(agent)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert agent: %w", result.Error)
	}
	return nil
}

// TouchHeartbeat 回写心跳时间
// 记录不存在时先登记一条IDLE记录
func (r *AgentRepository) TouchHeartbeat(ctx context.Context, role model.AgentRole, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&model.Agent{}).
		Where("role = ?", role).
		Update("last_heartbeat", at)
	if result.Error != nil {
		return fmt.Errorf("failed to touch agent heartbeat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.UpsertAgent(ctx, &model.Agent{
			Role:          role,
			Status:        model.AgentStatusIdle,
			LastHeartbeat: &at,
		})
	}
	return nil
}

// UpdateAgentStatus 更新Agent状态
func (r *AgentRepository) UpdateAgentStatus(ctx context.Context, role model.AgentRole, status model.AgentStatus) error {
	result := r.db.WithContext(ctx).Model(&model.Agent{}).
		Where("role = ?", role).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update agent status: %w", result.Error)
	}
	return nil
}

// GetAgentByRole 按角色获取Agent记录
// 未找到时返回 nil 而不是错误，由业务层处理
func (r *AgentRepository) GetAgentByRole(ctx context.Context, role model.AgentRole) (*model.Agent, error) {
	var agent model.Agent
	err := r.db.WithContext(ctx).Where("role = ?", role).First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get agent by role: %w", err)
	}
	return &agent, nil
}

// ListAgents 列出全部Agent登记记录
func (r *AgentRepository) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	var agents []*model.Agent
	err := r.db.WithContext(ctx).Order("role ASC").Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

/*
 * 审计日志仓库层:审计数据访问
 * @author: sun977
 * @date: 2025.11.20
 * @description: 单纯数据访问,不应该包含业务逻辑
 */

package mysql

import (
	"context"
	"fmt"

	"neotasker/internal/model"

	"gorm.io/gorm"
)

// AuditRepository 审计日志仓库结构体
type AuditRepository struct {
	db *gorm.DB // 数据库连接
}

// NewAuditRepository 创建审计日志仓库实例
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{
		db: db,
	}
}

// CreateAuditLog 写入一条审计记录
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *model.AuditLog) error {
	result := r.db.WithContext(ctx).Create(log)
	if result.Error != nil {
		return fmt.Errorf("failed to create audit log: %w", result.Error)
	}
	return nil
}

// GetAuditLogsByResource 按资源查询审计记录（分页）
func (r *AuditRepository) GetAuditLogsByResource(ctx context.Context, resource, resourceID string, offset, limit int) ([]*model.AuditLog, int64, error) {
	var logs []*model.AuditLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AuditLog{}).
		Where("resource = ? AND resource_id = ?", resource, resourceID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, total, nil
}

// GetAuditLogsByCorrelation 按关联追踪ID查询审计记录
// 返回同一任务链路上的全部路由决策
func (r *AuditRepository) GetAuditLogsByCorrelation(ctx context.Context, correlationID string) ([]*model.AuditLog, error) {
	var logs []*model.AuditLog
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs by correlation: %w", err)
	}
	return logs, nil
}

/*
 * 告警仓库层:告警数据访问
 * @author: sun977
 * @date: 2025.11.21
 * @description: 单纯数据访问,不应该包含业务逻辑
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

// AlertRepository 告警仓库结构体
type AlertRepository struct {
	db *gorm.DB // 数据库连接
}

// NewAlertRepository 创建告警仓库实例
func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{
		db: db,
	}
}

// CreateAlert 写入一条告警记录
func (r *AlertRepository) CreateAlert(ctx context.Context, alert *model.Alert) error {
	result := r.db.WithContext(ctx).Create(alert)
	if result.Error != nil {
		return fmt.Errorf("failed to create alert: %w", result.Error)
	}
	return nil
}

// GetAlertByAlertID 根据告警ID获取告警
func (r *AlertRepository) GetAlertByAlertID(ctx context.Context, alertID string) (*model.Alert, error) {
	var alert model.Alert
	err := r.db.WithContext(ctx).Where("alert_id = ?", alertID).First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &alert, nil
}

// ResolveAlert 将告警标记为已解除
func (r *AlertRepository) ResolveAlert(ctx context.Context, alertID string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&model.Alert{}).
		Where("alert_id = ? AND resolved = ?", alertID, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to resolve alert: %w", result.Error)
	}
	return nil
}

// GetActiveAlerts 获取未解除的告警列表
func (r *AlertRepository) GetActiveAlerts(ctx context.Context, limit int) ([]*model.Alert, error) {
	var alerts []*model.Alert
	err := r.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	return alerts, nil
}

// GetLastAlertByRule 获取某规则最近一次触发的告警
// 供冷却判断使用
func (r *AlertRepository) GetLastAlertByRule(ctx context.Context, ruleName string) (*model.Alert, error) {
	var alert model.Alert
	err := r.db.WithContext(ctx).
		Where("rule_name = ?", ruleName).
		Order("created_at DESC").
		First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last alert by rule: %w", err)
	}
	return &alert, nil
}

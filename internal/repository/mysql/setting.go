/*
 * 系统设置仓库层:设置键值数据访问
 * @author: sun977
 * @date: 2025.11.21
 * @description: 单纯数据访问,不应该包含业务逻辑
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

// SettingRepository 系统设置仓库结构体
type SettingRepository struct {
	db *gorm.DB // 数据库连接
}

// NewSettingRepository 创建系统设置仓库实例
func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{
		db: db,
	}
}

// GetSetting 获取设置值
// 未找到时返回空字符串，由业务层回退到默认值
func (r *SettingRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var setting model.SystemSetting
	err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return setting.Value, nil
}

// SetSetting 写入设置值，键冲突时覆盖旧值
func (r *SettingRepository) SetSetting(ctx context.Context, key, value, description string) error {
	setting := &model.SystemSetting{
		Key:         key,
		Value:       value,
		Description: description,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description"}),
	}).Create(setting)
	if result.Error != nil {
		return fmt.Errorf("failed to set setting: %w", result.Error)
	}
	return nil
}

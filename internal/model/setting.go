// 系统设置模型
package model

import (
	basemodel "neotasker/internal/model/basemodel"
)

// SystemSetting 系统设置键值对
// 消费模式等运行参数的持久化存储，重启后恢复
type SystemSetting struct {
	basemodel.BaseModel
	Key         string `json:"key" gorm:"uniqueIndex;size:64;not null;comment:设置键"`
	Value       string `json:"value" gorm:"type:text;not null;comment:设置值"`
	Description string `json:"description" gorm:"size:255;comment:设置说明"`
}

// TableName 指定表名
func (SystemSetting) TableName() string {
	return "system_settings"
}

// 系统设置键
const (
	SettingConsumptionMode = "consumption_mode" // 当前消费模式
)

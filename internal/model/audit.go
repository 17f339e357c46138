// 审计日志模型
package model

import (
	basemodel "neotasker/internal/model/basemodel"
)

// AuditLog 审计日志记录
// 记录任务委派、状态变更等需要追溯的路由决策
type AuditLog struct {
	basemodel.BaseModel
	Action        string  `json:"action" gorm:"index;size:64;not null;comment:操作动作"`
	Resource      string  `json:"resource" gorm:"size:32;not null;comment:资源类型"`
	ResourceID    string  `json:"resource_id" gorm:"index;size:64;not null;comment:资源ID"`
	CorrelationID string  `json:"correlation_id" gorm:"index;size:64;comment:关联追踪ID"`
	Actor         string  `json:"actor" gorm:"size:64;comment:操作主体"`
	Detail        JSONMap `json:"detail" gorm:"type:json;comment:操作详情"`
}

// TableName 指定表名
func (AuditLog) TableName() string {
	return "audit_logs"
}

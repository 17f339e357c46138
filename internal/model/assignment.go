// 任务委派记录模型
package model

import (
	"time"

	basemodel "neotasker/internal/model/basemodel"
)

// AgentAssignment 任务委派记录
// (task_id, agent_role) 唯一，重复委派时更新已有记录，保证幂等
type AgentAssignment struct {
	basemodel.BaseModel
	TaskID      string       `json:"task_id" gorm:"uniqueIndex:uk_task_role;size:64;not null;comment:任务ID"`
	AgentRole   AgentRole    `json:"agent_role" gorm:"uniqueIndex:uk_task_role;size:32;not null;comment:目标角色"`
	ProjectID   string       `json:"project_id" gorm:"index;size:64;not null;comment:项目ID"`
	RoutingKey  string       `json:"routing_key" gorm:"size:64;not null;comment:发布使用的路由键"`
	Priority    TaskPriority `json:"priority" gorm:"size:16;not null;comment:委派时的优先级"`
	DelegatedBy string       `json:"delegated_by" gorm:"size:32;not null;comment:委派来源角色"`
	DelegatedAt time.Time    `json:"delegated_at" gorm:"not null;comment:委派时间"`
	Attempt     int          `json:"attempt" gorm:"not null;default:1;comment:第几次委派"`
}

// TableName 指定表名
func (AgentAssignment) TableName() string {
	return "agent_assignments"
}

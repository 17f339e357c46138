// 任务模型
package model

import (
	"time"

	basemodel "neotasker/internal/model/basemodel"
)

// TaskStatus 任务状态枚举
// 生命周期: PENDING -> QUEUED -> IN_PROGRESS -> COMPLETED|FAILED|CANCELLED，
// 失败后经RETRYING可重新回到QUEUED
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"     // 已创建，等待委派
	TaskStatusQueued     TaskStatus = "QUEUED"      // 已委派，消息在目标角色队列中
	TaskStatusInProgress TaskStatus = "IN_PROGRESS" // 专家正在执行
	TaskStatusCompleted  TaskStatus = "COMPLETED"   // 执行成功
	TaskStatusFailed     TaskStatus = "FAILED"      // 执行失败且重试耗尽
	TaskStatusCancelled  TaskStatus = "CANCELLED"   // 终态前被取消
	TaskStatusRetrying   TaskStatus = "RETRYING"    // 执行失败，等待重试
)

// IsTerminal 判断状态是否为终态
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskPriority 任务优先级枚举
// 优先级参与路由键构造：task.<role>.<priority>
type TaskPriority string

const (
	PriorityLow      TaskPriority = "LOW"
	PriorityMedium   TaskPriority = "MEDIUM"
	PriorityHigh     TaskPriority = "HIGH"
	PriorityCritical TaskPriority = "CRITICAL"
)

// IsValid 判断优先级是否合法
func (p TaskPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Key 返回优先级的小写形式，用于路由键
func (p TaskPriority) Key() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "medium"
	}
}

// TaskType 任务类型枚举
// 委派时通过类型到角色映射表决定目标角色
type TaskType string

const (
	TaskTypeCodeGeneration  TaskType = "CODE_GENERATION"
	TaskTypeCodeReview      TaskType = "CODE_REVIEW"
	TaskTypeUIDesign        TaskType = "UI_DESIGN"
	TaskTypeDeployment      TaskType = "DEPLOYMENT"
	TaskTypeInfrastructure  TaskType = "INFRASTRUCTURE"
	TaskTypeTesting         TaskType = "TESTING"
	TaskTypeSecurityAudit   TaskType = "SECURITY_AUDIT"
	TaskTypeDataPipeline    TaskType = "DATA_PIPELINE"
	TaskTypeOptimization    TaskType = "OPTIMIZATION"
	TaskTypeDocumentation   TaskType = "DOCUMENTATION"
	TaskTypeRequirements    TaskType = "REQUIREMENTS"
	TaskTypeArchitecture    TaskType = "ARCHITECTURE"
	TaskTypeTechnicalReview TaskType = "TECHNICAL_REVIEW"
)

// Task 任务记录
type Task struct {
	basemodel.BaseModel
	TaskID       string       `json:"task_id" gorm:"uniqueIndex;size:64;not null;comment:任务ID"`
	ProjectID    string       `json:"project_id" gorm:"index;size:64;not null;comment:项目ID"`
	ParentTaskID string       `json:"parent_task_id" gorm:"index;size:64;comment:父任务ID"`
	Title        string       `json:"title" gorm:"size:255;not null;comment:任务标题"`
	Description  string       `json:"description" gorm:"type:text;comment:任务描述"`
	Type         TaskType     `json:"type" gorm:"size:32;not null;comment:任务类型"`
	Status       TaskStatus   `json:"status" gorm:"size:16;index;not null;default:PENDING;comment:任务状态"`
	Priority     TaskPriority `json:"priority" gorm:"size:16;not null;default:MEDIUM;comment:任务优先级"`
	Input        JSONMap      `json:"input" gorm:"type:json;comment:任务输入参数"`
	Output       JSONMap      `json:"output" gorm:"type:json;comment:任务执行输出"`
	ErrorMessage string       `json:"error_message" gorm:"type:text;comment:失败原因"`
	AssignedRole  AgentRole  `json:"assigned_role" gorm:"size:32;index;comment:委派的目标角色"`
	CorrelationID string     `json:"correlation_id" gorm:"index;size:64;comment:关联追踪ID，贯穿日志/审计/消息"`
	Attempt       int        `json:"attempt" gorm:"not null;default:0;comment:已尝试次数"`
	MaxAttempts   int        `json:"max_attempts" gorm:"not null;default:3;comment:最大尝试次数"`
	CompletedAt   *time.Time `json:"completed_at" gorm:"comment:进入终态的时间"`
}

// TableName 指定表名
func (Task) TableName() string {
	return "tasks"
}

// CanRetry 判断任务是否还有剩余重试机会
func (t *Task) CanRetry() bool {
	return t.Attempt < t.MaxAttempts
}

// Agent角色与运行状态模型
package model

import (
	"strings"
	"time"

	basemodel "neotasker/internal/model/basemodel"
)

// AgentRole Agent角色枚举
// 每个角色对应一个专属任务队列和一类职责
type AgentRole string

const (
	RoleMasterOrchestrator AgentRole = "MASTER_ORCHESTRATOR" // 主编排者，负责任务委派与结果汇总
	RoleBackendDev         AgentRole = "BACKEND_DEV"         // 后端开发
	RoleFrontendDev        AgentRole = "FRONTEND_DEV"        // 前端开发
	RoleDevOps             AgentRole = "DEVOPS"              // 运维部署
	RoleQA                 AgentRole = "QA"                  // 质量保障
	RoleSecurity           AgentRole = "SECURITY"            // 安全审计
	RoleDataEngineer       AgentRole = "DATA_ENGINEER"       // 数据工程
	RolePerformance        AgentRole = "PERFORMANCE"         // 性能优化
	RoleDocumentation      AgentRole = "DOCUMENTATION"       // 文档编写
	RoleProductManager     AgentRole = "PRODUCT_MANAGER"     // 产品管理
	RoleSolutionsArchitect AgentRole = "SOLUTIONS_ARCHITECT" // 方案架构
	RoleTechLead           AgentRole = "TECH_LEAD"           // 技术负责人
)

// AllAgentRoles 返回全部12个角色，顺序固定
func AllAgentRoles() []AgentRole {
	return []AgentRole{
		RoleMasterOrchestrator,
		RoleBackendDev,
		RoleFrontendDev,
		RoleDevOps,
		RoleQA,
		RoleSecurity,
		RoleDataEngineer,
		RolePerformance,
		RoleDocumentation,
		RoleProductManager,
		RoleSolutionsArchitect,
		RoleTechLead,
	}
}

// SpecialistRoles 返回除主编排者之外的11个专家角色
func SpecialistRoles() []AgentRole {
	var roles []AgentRole
	for _, role := range AllAgentRoles() {
		if role != RoleMasterOrchestrator {
			roles = append(roles, role)
		}
	}
	return roles
}

// IsValid 判断角色是否合法
func (r AgentRole) IsValid() bool {
	for _, role := range AllAgentRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// Key 返回角色的小写短横线形式，用于队列名和Redis键
// 例如 BACKEND_DEV -> backend-dev
func (r AgentRole) Key() string {
	return strings.ReplaceAll(strings.ToLower(string(r)), "_", "-")
}

// String 返回角色字符串
func (r AgentRole) String() string {
	return string(r)
}

// AgentStatus Agent运行状态枚举
type AgentStatus string

const (
	AgentStatusIdle        AgentStatus = "IDLE"        // 心跳正常，空闲待命
	AgentStatusBusy        AgentStatus = "BUSY"        // 正在执行任务
	AgentStatusOverloaded  AgentStatus = "OVERLOADED"  // 在途任务达到并发上限
	AgentStatusError       AgentStatus = "ERROR"       // 心跳标记存在但已过期
	AgentStatusOffline     AgentStatus = "OFFLINE"     // 心跳标记缺失
	AgentStatusMaintenance AgentStatus = "MAINTENANCE" // 人工下线维护，监控跳过
)

// Agent Agent登记记录
// 角色唯一，心跳回写为尽力而为，权威活性仍以Redis心跳标记为准
type Agent struct {
	basemodel.BaseModel
	Role          AgentRole   `json:"role" gorm:"uniqueIndex;size:32;not null;comment:Agent角色"`
	Status        AgentStatus `json:"status" gorm:"size:16;index;not null;default:OFFLINE;comment:运行状态"`
	CurrentTaskID string      `json:"current_task_id" gorm:"size:64;comment:正在执行的任务ID"`
	LastHeartbeat *time.Time  `json:"last_heartbeat" gorm:"comment:最近一次心跳时间"`
}

// TableName 指定表名
func (Agent) TableName() string {
	return "agents"
}

// ConsumptionMode 消费模式枚举
// 决定监督器启动的专家消费者数量上限
type ConsumptionMode string

const (
	ModeMinimal         ConsumptionMode = "MINIMAL"          // 最小模式：2个专家消费者
	ModeStandard        ConsumptionMode = "STANDARD"         // 标准模式：6个专家消费者
	ModeHighPerformance ConsumptionMode = "HIGH_PERFORMANCE" // 高性能模式：全部专家消费者
)

// IsValid 判断消费模式是否合法
func (m ConsumptionMode) IsValid() bool {
	switch m {
	case ModeMinimal, ModeStandard, ModeHighPerformance:
		return true
	}
	return false
}

// SpecialistLimit 返回该模式下专家消费者数量上限
// 高性能模式的上限大于专家角色总数，等效于全量启动
func (m ConsumptionMode) SpecialistLimit() int {
	switch m {
	case ModeMinimal:
		return 2
	case ModeHighPerformance:
		return 20
	default:
		return 6
	}
}

// AgentRuntimeInfo Agent运行时状态
// 写入Redis状态哈希，供监控与前端展示
type AgentRuntimeInfo struct {
	Role          AgentRole   `json:"role"`                    // Agent角色
	Status        AgentStatus `json:"status"`                  // 当前状态
	CurrentTaskID string      `json:"currentTaskId,omitempty"` // 正在执行的任务ID
	LastHeartbeat string      `json:"lastHeartbeat"`           // 最近一次心跳时间
	TasksHandled  int64       `json:"tasksHandled"`            // 累计处理任务数
	TasksFailed   int64       `json:"tasksFailed"`             // 累计失败任务数
	StartedAt     string      `json:"startedAt,omitempty"`     // 消费者启动时间
}

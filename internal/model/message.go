// 消息总线线格式定义
// 任务消息与结果消息均以JSON编码，字段名与前端约定保持驼峰
package model

import "time"

// TaskMessage 任务消息
// 主编排者发布到任务交换机，专家消费者从角色队列接收
type TaskMessage struct {
	TaskID        string       `json:"taskId"`                 // 任务ID
	ProjectID     string       `json:"projectId"`              // 项目ID
	Title         string       `json:"title"`                  // 任务标题
	Description   string       `json:"description,omitempty"`  // 任务描述
	Type          TaskType     `json:"type"`                   // 任务类型
	Input         JSONMap      `json:"input"`                  // 任务输入参数
	Priority      TaskPriority `json:"priority"`               // 任务优先级
	ParentTaskID  string       `json:"parentTaskId,omitempty"` // 父任务ID
	CorrelationID string       `json:"correlationId"`          // 关联追踪ID
	Attempt       int          `json:"attempt"`                // 当前尝试次数，从1开始
	DelegatedBy   string       `json:"delegatedBy"`            // 委派来源角色
	DelegatedAt   time.Time    `json:"delegatedAt"`            // 委派时间
}

// ResultMessage 结果消息
// 专家执行完毕后发布到结果交换机，主编排者从结果队列接收
type ResultMessage struct {
	TaskID        string    `json:"taskId"`             // 任务ID
	ProjectID     string    `json:"projectId"`          // 项目ID
	AgentRole     AgentRole `json:"agentRole"`          // 执行角色
	Success       bool      `json:"success"`            // 是否执行成功
	Output        JSONMap   `json:"output,omitempty"`   // 执行输出
	Error         string    `json:"error,omitempty"`    // 失败原因
	Metadata      JSONMap   `json:"metadata,omitempty"` // 执行元数据(耗时等)
	CorrelationID string    `json:"correlationId"`      // 关联追踪ID
	CompletedAt   time.Time `json:"completedAt"`        // 完成时间
}

// HeartbeatMark 心跳标记
// 以角色为键写入Redis并携带TTL，过期即视为心跳缺失
type HeartbeatMark struct {
	Role      AgentRole `json:"role"`      // Agent角色
	Timestamp time.Time `json:"timestamp"` // 发布时间
	TaskCount int64     `json:"taskCount"` // 累计处理任务数
}

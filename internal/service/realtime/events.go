/*
 * 实时事件定义
 * @author: sun977
 * @date: 2025.11.23
 * @description: 后端组件经Redis Pub/Sub发布、前端经WebSocket接收的事件信封。
 * 事件类型与前端约定保持点分命名，信封结构全系统统一。
 */

package realtime

import "time"

// 事件类型
const (
	EventTaskCreated   = "task.created"    // 任务已创建
	EventTaskDelegated = "task.delegated"  // 任务已委派
	EventTaskCompleted = "task.completed"  // 任务执行成功
	EventTaskFailed    = "task.failed"     // 任务最终失败
	EventTaskRetrying  = "task.retrying"   // 任务进入重试
	EventTaskCancelled = "task.cancelled"  // 任务被取消
	EventAgentStatus   = "agent.status"    // Agent状态变更
	EventAgentOffline  = "agent.offline"   // Agent离线
	EventAlertFired    = "alert.triggered" // 告警触发
	EventModeChanged   = "system.mode_changed" // 消费模式变更
)

// Event 事件信封
type Event struct {
	Type          string      `json:"type"`                    // 事件类型
	Data          interface{} `json:"data"`                    // 事件载荷
	Timestamp     time.Time   `json:"timestamp"`               // 产生时间
	CorrelationID string      `json:"correlationId,omitempty"` // 关联追踪ID
}

// NewEvent 构造事件信封
func NewEvent(eventType string, data interface{}, correlationID string) *Event {
	return &Event{
		Type:          eventType,
		Data:          data,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

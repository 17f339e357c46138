// 结构化日志辅助函数
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// FormatTimestamp 格式化时间戳为统一的毫秒精度格式
// 返回格式："2006-01-02 15:04:05.000"
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.000")
}

// NowFormatted 返回当前时间的格式化字符串
func NowFormatted() string {
	return FormatTimestamp(time.Now())
}

// LogType 日志类型枚举
type LogType string

const (
	// BusinessLog 业务日志 - 记录任务委派、结果处理等业务操作
	BusinessLog LogType = "business"
	// ErrorLog 错误日志 - 记录系统错误和异常
	ErrorLog LogType = "error"
	// SystemLog 系统日志 - 记录组件启动、关闭等运行状态
	SystemLog LogType = "system"
	// DebugLog 调试日志 - 记录开发调试信息
	DebugLog LogType = "debug"
	// AuditLog 审计日志 - 记录路由决策等需要追溯的操作
	AuditLog LogType = "audit"
)

// LogSystemEvent 记录系统事件日志
// component: 系统组件（rabbitmq, redis, supervisor, websocket等）
// event: 事件类型（startup, shutdown, reconnect, error等）
func LogSystemEvent(component, event, message string, level logrus.Level, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := logrus.Fields{
		"type":      SystemLog,
		"component": component,
		"event":     event,
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	entry := LoggerInstance.logger.WithFields(fields)
	switch level {
	case logrus.DebugLevel:
		entry.Debug(message)
	case logrus.WarnLevel:
		entry.Warn(message)
	case logrus.ErrorLevel:
		entry.Error(message)
	default:
		entry.Info(message)
	}
}

// LogBusinessOperation 记录业务操作日志
// operation: 操作类型（task.delegated, result.processed, mode.changed等）
// correlationID: 关联追踪ID，贯穿同一任务的所有日志
// role: 相关的Agent角色，可为空
// result: 操作结果（success, failed）
func LogBusinessOperation(operation, correlationID, role, result, message string, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := logrus.Fields{
		"type":           BusinessLog,
		"operation":      operation,
		"correlation_id": correlationID,
		"result":         result,
	}
	if role != "" {
		fields["role"] = role
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	if result == "failed" {
		LoggerInstance.logger.WithFields(fields).Warn(message)
	} else {
		LoggerInstance.logger.WithFields(fields).Info(message)
	}
}

// LogError 记录错误日志
// component: 发生错误的组件，queue: 相关队列(可为空)
func LogError(err error, correlationID, component, queue string, extraFields map[string]interface{}) {
	if LoggerInstance == nil || err == nil {
		return
	}

	fields := logrus.Fields{
		"type":           ErrorLog,
		"error":          err.Error(),
		"component":      component,
		"correlation_id": correlationID,
	}
	if queue != "" {
		fields["queue"] = queue
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	LoggerInstance.logger.WithFields(fields).Error(err.Error())
}

// LogAuditOperation 记录审计日志
// action: 操作动作（task.delegated等）
// resource: 操作资源（task/agent/alert）
func LogAuditOperation(action, resource, resourceID, correlationID string, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := logrus.Fields{
		"type":           AuditLog,
		"action":         action,
		"resource":       resource,
		"resource_id":    resourceID,
		"correlation_id": correlationID,
	}
	for k, v := range extraFields {
		fields[k] = v
	}

	LoggerInstance.logger.WithFields(fields).Info(action)
}

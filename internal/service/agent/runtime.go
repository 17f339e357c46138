/*
 * Agent运行时契约
 * @author: sun977
 * @date: 2025.11.23
 * @description: 角色运行时的统一执行契约。
 * 执行信封保证：无论钩子返回错误还是panic，一条任务消息恰好产出一条结果消息，
 * panic被捕获并转换为失败结果，消费循环不会因单个任务崩溃。
 * @func:
 * 1.RoleRuntime接口(BeforeExecute/Execute/AfterExecute)
 * 2.执行信封(超时控制+panic恢复)
 * 3.通用专家运行时实现
 */

package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"
)

// RuntimeHealth 运行时健康探针结果
type RuntimeHealth struct {
	Healthy bool    `json:"healthy"` // 是否健康
	Load    float64 `json:"load"`    // 归一化负载，0~1
}

// RoleRuntime 角色运行时接口
// 三段式钩子替代继承层次：实现方只需提供差异化的执行逻辑，
// 超时、panic恢复和结果装配由执行信封统一承担
type RoleRuntime interface {
	// Role 返回该运行时服务的角色
	Role() model.AgentRole
	// BeforeExecute 执行前置校验与准备，返回错误则跳过Execute直接产出失败结果
	BeforeExecute(ctx context.Context, msg *model.TaskMessage) error
	// Execute 执行任务主体，返回结构化输出
	Execute(ctx context.Context, msg *model.TaskMessage) (model.JSONMap, error)
	// AfterExecute 执行后清理，错误只记日志不影响已产出的结果
	AfterExecute(ctx context.Context, msg *model.TaskMessage, result *model.ResultMessage) error
	// Health 健康探针，默认实现返回健康且零负载
	Health(ctx context.Context) RuntimeHealth
}

// Envelope 执行信封
// 包裹RoleRuntime完成一次任务执行的完整生命周期
type Envelope struct {
	runtime RoleRuntime
	timeout time.Duration // 单任务执行超时
}

// NewEnvelope 创建执行信封
func NewEnvelope(runtime RoleRuntime, timeout time.Duration) *Envelope {
	return &Envelope{
		runtime: runtime,
		timeout: timeout,
	}
}

// Run 执行一条任务消息，恰好返回一条结果消息
// 任何失败路径(前置校验失败/执行错误/panic/超时)都转换为失败结果而非丢失
func (e *Envelope) Run(ctx context.Context, msg *model.TaskMessage) *model.ResultMessage {
	start := time.Now()
	role := e.runtime.Role()

	// 尝试次数从1起算，缺失时按首次执行处理
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}

	result := &model.ResultMessage{
		TaskID:        msg.TaskID,
		ProjectID:     msg.ProjectID,
		AgentRole:     role,
		CorrelationID: msg.CorrelationID,
	}

	execCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	output, err := e.execute(execCtx, msg)
	duration := time.Since(start)

	result.CompletedAt = time.Now()
	result.Metadata = model.JSONMap{
		"durationMs": duration.Milliseconds(),
		"attempt":    msg.Attempt,
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		logger.LogBusinessOperation("task.executed", msg.CorrelationID, role.String(), "failed",
			"Task execution failed", map[string]interface{}{
				"task_id":     msg.TaskID,
				"duration_ms": duration.Milliseconds(),
				"error":       err.Error(),
			})
	} else {
		result.Success = true
		result.Output = output
		logger.LogBusinessOperation("task.executed", msg.CorrelationID, role.String(), "success",
			"Task execution completed", map[string]interface{}{
				"task_id":     msg.TaskID,
				"duration_ms": duration.Milliseconds(),
			})
	}

	// 后置钩子失败不改变结果
	if hookErr := e.runtime.AfterExecute(ctx, msg, result); hookErr != nil {
		logger.LogError(fmt.Errorf("after execute hook failed: %w", hookErr),
			msg.CorrelationID, "runtime", "", map[string]interface{}{
				"role":    role.String(),
				"task_id": msg.TaskID,
			})
	}

	return result
}

// execute 执行前置钩子与任务主体，捕获panic
func (e *Envelope) execute(ctx context.Context, msg *model.TaskMessage) (output model.JSONMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task execution panicked: %v", r)
			logger.LogError(err, msg.CorrelationID, "runtime", "", map[string]interface{}{
				"role":    e.runtime.Role().String(),
				"task_id": msg.TaskID,
				"stack":   string(debug.Stack()),
			})
		}
	}()

	if err = e.runtime.BeforeExecute(ctx, msg); err != nil {
		return nil, fmt.Errorf("before execute failed: %w", err)
	}

	output, err = e.runtime.Execute(ctx, msg)
	if err != nil {
		return nil, err
	}

	// 超时场景下Execute可能正常返回，以上下文状态为准
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("task execution timed out: %w", ctxErr)
	}
	return output, nil
}

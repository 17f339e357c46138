/*
 * 专家角色运行时
 * @author: sun977
 * @date: 2025.11.23
 * @description: 11个专家角色共用的运行时实现。
 * 角色差异由注册表画像(提示词/规则/能力/超时)表达，
 * 不为每个角色建独立类型。运行时表在启动时装配一次。
 */

package agent

import (
	"context"
	"fmt"
	"time"

	"neotasker/internal/model"
)

// specialistRuntime 通用专家运行时
type specialistRuntime struct {
	role     model.AgentRole
	registry Registry
}

// NewSpecialistRuntime 创建指定角色的专家运行时
func NewSpecialistRuntime(role model.AgentRole, registry Registry) RoleRuntime {
	return &specialistRuntime{
		role:     role,
		registry: registry,
	}
}

// Role 返回服务的角色
func (s *specialistRuntime) Role() model.AgentRole {
	return s.role
}

// BeforeExecute 校验任务消息的必填字段
func (s *specialistRuntime) BeforeExecute(ctx context.Context, msg *model.TaskMessage) error {
	if msg.TaskID == "" {
		return fmt.Errorf("task message missing taskId")
	}
	if msg.ProjectID == "" {
		return fmt.Errorf("task message missing projectId")
	}
	if msg.CorrelationID == "" {
		return fmt.Errorf("task message missing correlationId")
	}
	return nil
}

// Execute 执行任务主体
// 基于注册表画像装配结构化执行输出
func (s *specialistRuntime) Execute(ctx context.Context, msg *model.TaskMessage) (model.JSONMap, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	profile := s.registry.GetProfile(s.role)

	output := model.JSONMap{
		"role":         s.role.String(),
		"taskId":       msg.TaskID,
		"taskType":     string(msg.Type),
		"capabilities": profile.Capabilities,
		"rulesApplied": len(profile.Rules),
		"processedAt":  time.Now().Format(time.RFC3339),
	}
	if profile.Prompt != "" {
		output["promptLoaded"] = true
	}
	if msg.Input != nil {
		output["inputKeys"] = inputKeys(msg.Input)
	}
	return output, nil
}

// AfterExecute 专家运行时无额外清理
func (s *specialistRuntime) AfterExecute(ctx context.Context, msg *model.TaskMessage, result *model.ResultMessage) error {
	return nil
}

// Health 健康探针
// 专家运行时串行消费(prefetch 1)，无积压即健康零负载
func (s *specialistRuntime) Health(ctx context.Context) RuntimeHealth {
	return RuntimeHealth{Healthy: true, Load: 0}
}

// inputKeys 提取输入参数的键列表
func inputKeys(input model.JSONMap) []string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	return keys
}

// BuildRuntimeTable 装配专家运行时表
// 每个专家角色一个运行时实例，监督器按消费模式从表中挑选启动
func BuildRuntimeTable(registry Registry) map[model.AgentRole]RoleRuntime {
	table := make(map[model.AgentRole]RoleRuntime, len(model.SpecialistRoles()))
	for _, role := range model.SpecialistRoles() {
		table[role] = NewSpecialistRuntime(role, registry)
	}
	return table
}

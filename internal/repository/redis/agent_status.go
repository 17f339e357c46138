/*
 * Agent状态仓库层:心跳标记与状态哈希的Redis访问
 * @author: sun977
 * @date: 2025.11.21
 * @description: 单纯数据访问,不应该包含业务逻辑
 * @func:
 * 1.写入带TTL的心跳标记
 * 2.读写Agent状态哈希
 * 3.状态批量查询
 */

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"neotasker/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	// heartbeatKeyPrefix 心跳标记键前缀，值为JSON编码的心跳内容，带TTL
	heartbeatKeyPrefix = "agent:heartbeat:"
	// statusKeyPrefix 状态哈希键前缀，长期存在，记录Agent最近已知状态
	statusKeyPrefix = "agent:status:"
)

// AgentStatusRepository Agent状态仓库结构体
type AgentStatusRepository struct {
	client *redis.Client // Redis客户端
}

// NewAgentStatusRepository 创建Agent状态仓库实例
func NewAgentStatusRepository(client *redis.Client) *AgentStatusRepository {
	return &AgentStatusRepository{
		client: client,
	}
}

// heartbeatKey 构造心跳标记键：agent:heartbeat:<role-key>
func heartbeatKey(role model.AgentRole) string {
	return heartbeatKeyPrefix + role.Key()
}

// statusKey 构造状态哈希键：agent:status:<role-key>
func statusKey(role model.AgentRole) string {
	return statusKeyPrefix + role.Key()
}

// SetHeartbeat 写入心跳标记并设置TTL
// 标记过期即代表该角色心跳缺失
func (r *AgentStatusRepository) SetHeartbeat(ctx context.Context, mark *model.HeartbeatMark, ttl time.Duration) error {
	data, err := json.Marshal(mark)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat mark: %w", err)
	}

	if err := r.client.Set(ctx, heartbeatKey(mark.Role), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat mark: %w", err)
	}
	return nil
}

// GetHeartbeat 读取心跳标记
// 标记不存在（过期或从未写入）时返回 nil
func (r *AgentStatusRepository) GetHeartbeat(ctx context.Context, role model.AgentRole) (*model.HeartbeatMark, error) {
	data, err := r.client.Get(ctx, heartbeatKey(role)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get heartbeat mark: %w", err)
	}

	var mark model.HeartbeatMark
	if err := json.Unmarshal(data, &mark); err != nil {
		return nil, fmt.Errorf("failed to unmarshal heartbeat mark: %w", err)
	}
	return &mark, nil
}

// SetStatus 写入Agent状态哈希
// 状态哈希不带TTL，保留最近已知状态供监控比对
func (r *AgentStatusRepository) SetStatus(ctx context.Context, info *model.AgentRuntimeInfo) error {
	fields := map[string]interface{}{
		"role":          string(info.Role),
		"status":        string(info.Status),
		"currentTaskId": info.CurrentTaskID,
		"lastHeartbeat": info.LastHeartbeat,
		"tasksHandled":  info.TasksHandled,
		"tasksFailed":   info.TasksFailed,
		"startedAt":     info.StartedAt,
	}
	if err := r.client.HSet(ctx, statusKey(info.Role), fields).Err(); err != nil {
		return fmt.Errorf("failed to set agent status: %w", err)
	}
	return nil
}

// UpdateStatusField 更新状态哈希中的单个字段
func (r *AgentStatusRepository) UpdateStatusField(ctx context.Context, role model.AgentRole, field string, value interface{}) error {
	if err := r.client.HSet(ctx, statusKey(role), field, value).Err(); err != nil {
		return fmt.Errorf("failed to update agent status field: %w", err)
	}
	return nil
}

// GetStatus 读取Agent状态哈希
// 哈希不存在时返回 nil
func (r *AgentStatusRepository) GetStatus(ctx context.Context, role model.AgentRole) (*model.AgentRuntimeInfo, error) {
	values, err := r.client.HGetAll(ctx, statusKey(role)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get agent status: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	info := &model.AgentRuntimeInfo{
		Role:          model.AgentRole(values["role"]),
		Status:        model.AgentStatus(values["status"]),
		CurrentTaskID: values["currentTaskId"],
		LastHeartbeat: values["lastHeartbeat"],
		StartedAt:     values["startedAt"],
	}
	fmt.Sscanf(values["tasksHandled"], "%d", &info.TasksHandled)
	fmt.Sscanf(values["tasksFailed"], "%d", &info.TasksFailed)
	return info, nil
}

// GetAllStatuses 批量读取全部角色的状态
func (r *AgentStatusRepository) GetAllStatuses(ctx context.Context) (map[model.AgentRole]*model.AgentRuntimeInfo, error) {
	statuses := make(map[model.AgentRole]*model.AgentRuntimeInfo)
	for _, role := range model.AllAgentRoles() {
		info, err := r.GetStatus(ctx, role)
		if err != nil {
			return nil, err
		}
		if info != nil {
			statuses[role] = info
		}
	}
	return statuses, nil
}

// IncrTasksHandled 累加已处理任务计数
func (r *AgentStatusRepository) IncrTasksHandled(ctx context.Context, role model.AgentRole) error {
	if err := r.client.HIncrBy(ctx, statusKey(role), "tasksHandled", 1).Err(); err != nil {
		return fmt.Errorf("failed to incr tasks handled: %w", err)
	}
	return nil
}

// IncrTasksFailed 累加失败任务计数
func (r *AgentStatusRepository) IncrTasksFailed(ctx context.Context, role model.AgentRole) error {
	if err := r.client.HIncrBy(ctx, statusKey(role), "tasksFailed", 1).Err(); err != nil {
		return fmt.Errorf("failed to incr tasks failed: %w", err)
	}
	return nil
}

// DeleteStatus 删除Agent状态哈希
func (r *AgentStatusRepository) DeleteStatus(ctx context.Context, role model.AgentRole) error {
	if err := r.client.Del(ctx, statusKey(role)).Err(); err != nil {
		return fmt.Errorf("failed to delete agent status: %w", err)
	}
	return nil
}

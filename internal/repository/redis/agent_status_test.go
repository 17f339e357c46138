package redis

import (
	"context"
	"testing"
	"time"

	"neotasker/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestHeartbeatMarkExpiresWithTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewAgentStatusRepository(client)
	ctx := context.Background()

	mark := &model.HeartbeatMark{
		Role:      model.RoleBackendDev,
		Timestamp: time.Now(),
		TaskCount: 3,
	}
	assert.NoError(t, repo.SetHeartbeat(ctx, mark, 30*time.Second))

	stored, err := repo.GetHeartbeat(ctx, model.RoleBackendDev)
	assert.NoError(t, err)
	assert.NotNil(t, stored)
	assert.Equal(t, model.RoleBackendDev, stored.Role)
	assert.Equal(t, int64(3), stored.TaskCount)

	// TTL过期后标记消失，视为心跳缺失
	mr.FastForward(31 * time.Second)
	stored, err = repo.GetHeartbeat(ctx, model.RoleBackendDev)
	assert.NoError(t, err)
	assert.Nil(t, stored)
}

func TestAgentStatusHashRoundTrip(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewAgentStatusRepository(client)
	ctx := context.Background()

	info := &model.AgentRuntimeInfo{
		Role:          model.RoleQA,
		Status:        model.AgentStatusIdle,
		LastHeartbeat: time.Now().Format(time.RFC3339),
		TasksHandled:  7,
	}
	assert.NoError(t, repo.SetStatus(ctx, info))

	stored, err := repo.GetStatus(ctx, model.RoleQA)
	assert.NoError(t, err)
	assert.NotNil(t, stored)
	assert.Equal(t, model.AgentStatusIdle, stored.Status)
	assert.Equal(t, int64(7), stored.TasksHandled)

	// 状态哈希不存在时返回nil
	missing, err := repo.GetStatus(ctx, model.RoleDevOps)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIncrTaskCounters(t *testing.T) {
	_, client := newTestRedis(t)
	repo := NewAgentStatusRepository(client)
	ctx := context.Background()

	assert.NoError(t, repo.SetStatus(ctx, &model.AgentRuntimeInfo{
		Role:   model.RoleSecurity,
		Status: model.AgentStatusIdle,
	}))

	assert.NoError(t, repo.IncrTasksHandled(ctx, model.RoleSecurity))
	assert.NoError(t, repo.IncrTasksHandled(ctx, model.RoleSecurity))
	assert.NoError(t, repo.IncrTasksFailed(ctx, model.RoleSecurity))

	stored, err := repo.GetStatus(ctx, model.RoleSecurity)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), stored.TasksHandled)
	assert.Equal(t, int64(1), stored.TasksFailed)
}

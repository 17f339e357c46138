package monitor

import (
	"context"
	"testing"
	"time"

	"neotasker/internal/config"
	"neotasker/internal/model"
	redisrepo "neotasker/internal/repository/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

type heartbeatFixture struct {
	mr         *miniredis.Miniredis
	statusRepo *redisrepo.AgentStatusRepository
	monitor    HeartbeatMonitor
}

func newHeartbeatFixture(t *testing.T) *heartbeatFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.AgentConfig{
		HeartbeatInterval: 15 * time.Second,
		HeartbeatTimeout:  30 * time.Second,
	}
	statusRepo := redisrepo.NewAgentStatusRepository(client)
	monitor := NewHeartbeatMonitor(cfg, 30*time.Second, "test-instance",
		statusRepo, redisrepo.NewPubSubRepository(client), redisrepo.NewLockRepository(client))

	return &heartbeatFixture{mr: mr, statusRepo: statusRepo, monitor: monitor}
}

func (f *heartbeatFixture) status(t *testing.T, role model.AgentRole) model.AgentStatus {
	t.Helper()
	info, err := f.statusRepo.GetStatus(context.Background(), role)
	assert.NoError(t, err)
	if info == nil {
		return ""
	}
	return info.Status
}

func TestMissingHeartbeatMarkGoesOffline(t *testing.T) {
	f := newHeartbeatFixture(t)
	ctx := context.Background()

	// 最后心跳早已是10分钟前，标记已过期消失
	stale := time.Now().Add(-10 * time.Minute).Format(time.RFC3339)
	assert.NoError(t, f.statusRepo.SetStatus(ctx, &model.AgentRuntimeInfo{
		Role:          model.RoleBackendDev,
		Status:        model.AgentStatusIdle,
		LastHeartbeat: stale,
	}))

	assert.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, model.AgentStatusOffline, f.status(t, model.RoleBackendDev))

	// 已离线的角色不再重复迁移
	assert.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, model.AgentStatusOffline, f.status(t, model.RoleBackendDev))
}

func TestStaleHeartbeatMarkDegradesToError(t *testing.T) {
	f := newHeartbeatFixture(t)
	ctx := context.Background()

	// 标记仍在，但心跳时间已超过30s超时阈值
	assert.NoError(t, f.statusRepo.SetStatus(ctx, &model.AgentRuntimeInfo{
		Role:          model.RoleQA,
		Status:        model.AgentStatusBusy,
		LastHeartbeat: time.Now().Format(time.RFC3339),
	}))
	assert.NoError(t, f.statusRepo.SetHeartbeat(ctx, &model.HeartbeatMark{
		Role:      model.RoleQA,
		Timestamp: time.Now().Add(-2 * time.Minute),
	}, 30*time.Second))

	assert.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, model.AgentStatusError, f.status(t, model.RoleQA))
}

func TestHeartbeatRecoveryRestoresIdle(t *testing.T) {
	f := newHeartbeatFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.statusRepo.SetStatus(ctx, &model.AgentRuntimeInfo{
		Role:          model.RoleDevOps,
		Status:        model.AgentStatusOffline,
		LastHeartbeat: time.Now().Format(time.RFC3339),
	}))
	assert.NoError(t, f.statusRepo.SetHeartbeat(ctx, &model.HeartbeatMark{
		Role:      model.RoleDevOps,
		Timestamp: time.Now(),
	}, 30*time.Second))

	assert.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, model.AgentStatusIdle, f.status(t, model.RoleDevOps))
}

func TestMaintenanceRoleIsUntouched(t *testing.T) {
	f := newHeartbeatFixture(t)
	ctx := context.Background()

	// 人工维护中的角色即使心跳缺失也不改判
	assert.NoError(t, f.statusRepo.SetStatus(ctx, &model.AgentRuntimeInfo{
		Role:   model.RoleSecurity,
		Status: model.AgentStatusMaintenance,
	}))

	assert.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, model.AgentStatusMaintenance, f.status(t, model.RoleSecurity))
}

func TestNeverStartedRoleIsIgnored(t *testing.T) {
	f := newHeartbeatFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.monitor.CheckOnce(ctx))
	assert.Equal(t, model.AgentStatus(""), f.status(t, model.RoleTechLead))
}

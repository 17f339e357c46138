package mysql

import (
	"context"
	"testing"
	"time"

	"neotasker/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestUpsertAgentIsIdempotentPerRole(t *testing.T) {
	db := newTestDB(t)
	repo := NewAgentRepository(db)
	ctx := context.Background()

	now := time.Now()
	assert.NoError(t, repo.UpsertAgent(ctx, &model.Agent{
		Role:          model.RoleBackendDev,
		Status:        model.AgentStatusIdle,
		LastHeartbeat: &now,
	}))

	// 同一角色重复登记覆盖状态，不产生重复行
	assert.NoError(t, repo.UpsertAgent(ctx, &model.Agent{
		Role:          model.RoleBackendDev,
		Status:        model.AgentStatusBusy,
		CurrentTaskID: "task-1",
		LastHeartbeat: &now,
	}))

	var count int64
	assert.NoError(t, db.Model(&model.Agent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := repo.GetAgentByRole(ctx, model.RoleBackendDev)
	assert.NoError(t, err)
	assert.NotNil(t, stored)
	assert.Equal(t, model.AgentStatusBusy, stored.Status)
	assert.Equal(t, "task-1", stored.CurrentTaskID)
}

func TestTouchHeartbeatCreatesMissingRecord(t *testing.T) {
	db := newTestDB(t)
	repo := NewAgentRepository(db)
	ctx := context.Background()

	// 未登记的角色首次心跳回写自动登记为IDLE
	first := time.Now().Add(-time.Minute)
	assert.NoError(t, repo.TouchHeartbeat(ctx, model.RoleQA, first))

	stored, err := repo.GetAgentByRole(ctx, model.RoleQA)
	assert.NoError(t, err)
	assert.NotNil(t, stored)
	assert.Equal(t, model.AgentStatusIdle, stored.Status)
	assert.WithinDuration(t, first, *stored.LastHeartbeat, time.Second)

	second := time.Now()
	assert.NoError(t, repo.TouchHeartbeat(ctx, model.RoleQA, second))

	stored, err = repo.GetAgentByRole(ctx, model.RoleQA)
	assert.NoError(t, err)
	assert.WithinDuration(t, second, *stored.LastHeartbeat, time.Second)

	var count int64
	assert.NoError(t, db.Model(&model.Agent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpdateAgentStatusAndList(t *testing.T) {
	db := newTestDB(t)
	repo := NewAgentRepository(db)
	ctx := context.Background()

	for _, role := range []model.AgentRole{model.RoleBackendDev, model.RoleDevOps} {
		assert.NoError(t, repo.UpsertAgent(ctx, &model.Agent{
			Role:   role,
			Status: model.AgentStatusIdle,
		}))
	}

	assert.NoError(t, repo.UpdateAgentStatus(ctx, model.RoleDevOps, model.AgentStatusMaintenance))

	agents, err := repo.ListAgents(ctx)
	assert.NoError(t, err)
	assert.Len(t, agents, 2)

	stored, err := repo.GetAgentByRole(ctx, model.RoleDevOps)
	assert.NoError(t, err)
	assert.Equal(t, model.AgentStatusMaintenance, stored.Status)

	missing, err := repo.GetAgentByRole(ctx, model.RoleSecurity)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

package mysql

import (
	"context"
	"testing"
	"time"

	"neotasker/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(
		&model.Task{},
		&model.Agent{},
		&model.AgentAssignment{},
		&model.AuditLog{},
		&model.Alert{},
		&model.SystemSetting{},
	); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestUpsertAssignmentIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewAssignmentRepository(db)
	ctx := context.Background()

	first := &model.AgentAssignment{
		TaskID:      "task-1",
		AgentRole:   model.RoleBackendDev,
		ProjectID:   "project-1",
		RoutingKey:  "task.backend-dev.medium",
		Priority:    model.PriorityMedium,
		DelegatedBy: "MASTER_ORCHESTRATOR",
		DelegatedAt: time.Now(),
		Attempt:     1,
	}
	assert.NoError(t, repo.UpsertAssignment(ctx, first))

	// 同一(task_id, agent_role)重复委派不产生重复行，字段被覆盖更新
	second := &model.AgentAssignment{
		TaskID:      "task-1",
		AgentRole:   model.RoleBackendDev,
		ProjectID:   "project-1",
		RoutingKey:  "task.backend-dev.high",
		Priority:    model.PriorityHigh,
		DelegatedBy: "MASTER_ORCHESTRATOR",
		DelegatedAt: time.Now(),
		Attempt:     2,
	}
	assert.NoError(t, repo.UpsertAssignment(ctx, second))

	var count int64
	assert.NoError(t, db.Model(&model.AgentAssignment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := repo.GetAssignmentByTask(ctx, "task-1")
	assert.NoError(t, err)
	assert.NotNil(t, stored)
	assert.Equal(t, 2, stored.Attempt)
	assert.Equal(t, "task.backend-dev.high", stored.RoutingKey)
	assert.Equal(t, model.PriorityHigh, stored.Priority)
}

func TestUpsertAssignmentDifferentRolesCoexist(t *testing.T) {
	db := newTestDB(t)
	repo := NewAssignmentRepository(db)
	ctx := context.Background()

	for _, role := range []model.AgentRole{model.RoleBackendDev, model.RoleQA} {
		assert.NoError(t, repo.UpsertAssignment(ctx, &model.AgentAssignment{
			TaskID:      "task-1",
			AgentRole:   role,
			ProjectID:   "project-1",
			RoutingKey:  "task." + role.Key() + ".medium",
			Priority:    model.PriorityMedium,
			DelegatedBy: "MASTER_ORCHESTRATOR",
			DelegatedAt: time.Now(),
			Attempt:     1,
		}))
	}

	var count int64
	assert.NoError(t, db.Model(&model.AgentAssignment{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestGetAssignmentByTaskNotFoundReturnsNil(t *testing.T) {
	repo := NewAssignmentRepository(newTestDB(t))

	stored, err := repo.GetAssignmentByTask(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, stored)
}

package monitor

import (
	"context"
	"testing"
	"time"

	"neotasker/internal/config"
	"neotasker/internal/model"
	"neotasker/internal/pkg/mq"
	mysqlrepo "neotasker/internal/repository/mysql"
	redisrepo "neotasker/internal/repository/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newMetricsFixture(t *testing.T) (*mysqlrepo.TaskRepository, *redisrepo.AgentStatusRepository, Collector) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Task{}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	taskRepo := mysqlrepo.NewTaskRepository(db)
	statusRepo := redisrepo.NewAgentStatusRepository(client)
	// 未连接的MQ管理器：死信深度采集失败被跳过，不阻断快照
	mqManager := mq.NewRabbitMQManager(&config.RabbitMQConfig{})
	return taskRepo, statusRepo, NewCollector(taskRepo, statusRepo, mqManager)
}

func TestSnapshotCountsPendingTasks(t *testing.T) {
	taskRepo, _, coll := newMetricsFixture(t)
	ctx := context.Background()

	for _, status := range []model.TaskStatus{
		model.TaskStatusPending, model.TaskStatusQueued,
		model.TaskStatusRetrying, model.TaskStatusCompleted,
	} {
		assert.NoError(t, taskRepo.CreateTask(ctx, &model.Task{
			TaskID:    "task-" + string(status),
			ProjectID: "p1",
			Title:     "t",
			Type:      model.TaskTypeTesting,
			Status:    status,
			Priority:  model.PriorityMedium,
		}))
	}

	metrics, err := coll.Snapshot(ctx)
	assert.NoError(t, err)
	// 完结任务不计入待执行
	assert.Equal(t, 3.0, metrics[MetricPendingTasks])
}

func TestSnapshotAverageTaskDuration(t *testing.T) {
	taskRepo, _, coll := newMetricsFixture(t)
	ctx := context.Background()

	assert.NoError(t, taskRepo.CreateTask(ctx, &model.Task{
		TaskID:    "task-done",
		ProjectID: "p1",
		Title:     "t",
		Type:      model.TaskTypeTesting,
		Status:    model.TaskStatusInProgress,
		Priority:  model.PriorityMedium,
	}))
	assert.NoError(t, taskRepo.UpdateTaskResult(ctx, "task-done",
		model.TaskStatusCompleted, model.JSONMap{"ok": true}, ""))

	metrics, err := coll.Snapshot(ctx)
	assert.NoError(t, err)

	// 创建到完结之间的耗时非负且已落入快照
	avg, ok := metrics[MetricAvgDurationMs]
	assert.True(t, ok)
	assert.GreaterOrEqual(t, avg, 0.0)
}

func TestSnapshotCountsActiveAgents(t *testing.T) {
	_, statusRepo, coll := newMetricsFixture(t)
	ctx := context.Background()

	entries := map[model.AgentRole]model.AgentStatus{
		model.RoleBackendDev:  model.AgentStatusIdle,
		model.RoleQA:          model.AgentStatusBusy,
		model.RoleDevOps:      model.AgentStatusOverloaded,
		model.RoleSecurity:    model.AgentStatusOffline,
		model.RolePerformance: model.AgentStatusError,
	}
	for role, status := range entries {
		assert.NoError(t, statusRepo.SetStatus(ctx, &model.AgentRuntimeInfo{
			Role:          role,
			Status:        status,
			LastHeartbeat: time.Now().Format(time.RFC3339),
		}))
	}

	metrics, err := coll.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3.0, metrics[MetricAgentsActive])
	assert.Equal(t, 1.0, metrics[MetricAgentsOffline])
	assert.Equal(t, 1.0, metrics[MetricAgentsError])
}

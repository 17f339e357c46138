package agent

import (
	"context"
	"sync"
	"testing"

	"neotasker/internal/model"
	mysqlrepo "neotasker/internal/repository/mysql"
	redisrepo "neotasker/internal/repository/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// recordingPublisher 记录发布调用的发布器
type recordingPublisher struct {
	mu      sync.Mutex
	tasks   []*model.TaskMessage
	results []*model.ResultMessage
	retries []*model.TaskMessage
	roles   []model.AgentRole
}

func (p *recordingPublisher) PublishTask(ctx context.Context, msg *model.TaskMessage, role model.AgentRole) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, msg)
	p.roles = append(p.roles, role)
	return nil
}

func (p *recordingPublisher) PublishResult(ctx context.Context, msg *model.ResultMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, msg)
	return nil
}

func (p *recordingPublisher) PublishRetry(ctx context.Context, msg *model.TaskMessage, role model.AgentRole) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = append(p.retries, msg)
	p.roles = append(p.roles, role)
	return nil
}

// stubRegistry 固定画像的注册表
type stubRegistry struct{}

func (s *stubRegistry) GetProfile(role model.AgentRole) *AgentProfile {
	return &AgentProfile{
		Role:    role,
		MaxLoad: fallbackMaxLoad,
		Retry:   RetryPolicy{MaxAttempts: 3, BackoffMultiplier: 2.0},
	}
}

func (s *stubRegistry) Reload() error { return nil }

type masterFixture struct {
	service   MasterService
	publisher *recordingPublisher
	taskRepo  *mysqlrepo.TaskRepository
	auditRepo *mysqlrepo.AuditRepository
}

func newMasterFixture(t *testing.T) *masterFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Task{}, &model.AgentAssignment{}, &model.AuditLog{}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	publisher := &recordingPublisher{}
	taskRepo := mysqlrepo.NewTaskRepository(db)
	auditRepo := mysqlrepo.NewAuditRepository(db)
	service := NewMasterService(
		taskRepo,
		mysqlrepo.NewAssignmentRepository(db),
		auditRepo,
		redisrepo.NewAgentStatusRepository(client),
		redisrepo.NewPubSubRepository(client),
		publisher,
		&stubRegistry{},
	)
	return &masterFixture{service: service, publisher: publisher, taskRepo: taskRepo, auditRepo: auditRepo}
}

func TestCreateTaskDelegatesToResolvedRole(t *testing.T) {
	f := newMasterFixture(t)
	ctx := context.Background()

	task := &model.Task{
		ProjectID: "proj-1",
		Title:     "implement login api",
		Type:      model.TaskTypeCodeGeneration,
	}
	assert.NoError(t, f.service.CreateTask(ctx, task))

	// 缺省字段在受理时补全
	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, model.PriorityMedium, task.Priority)
	assert.Equal(t, 3, task.MaxAttempts)

	// 任务消息投递给类型映射出的角色
	assert.Len(t, f.publisher.tasks, 1)
	assert.Equal(t, model.RoleBackendDev, f.publisher.roles[0])
	assert.Equal(t, 1, f.publisher.tasks[0].Attempt)
	assert.NotEmpty(t, f.publisher.tasks[0].CorrelationID)

	stored, err := f.taskRepo.GetTaskByTaskID(ctx, task.TaskID)
	assert.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, stored.Status)
	assert.Equal(t, model.RoleBackendDev, stored.AssignedRole)
	assert.Equal(t, 1, stored.Attempt)

	// 委派决策留有审计
	logs, total, err := f.auditRepo.GetAuditLogsByResource(ctx, "task", task.TaskID, 0, 10)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, logs, 1)
	assert.Equal(t, "task.delegated", logs[0].Action)
}

func TestHandleResultSuccessCompletesTask(t *testing.T) {
	f := newMasterFixture(t)
	ctx := context.Background()

	task := &model.Task{ProjectID: "proj-1", Title: "deploy", Type: model.TaskTypeDeployment}
	assert.NoError(t, f.service.CreateTask(ctx, task))

	assert.NoError(t, f.service.HandleResult(ctx, &model.ResultMessage{
		TaskID:        task.TaskID,
		ProjectID:     task.ProjectID,
		AgentRole:     model.RoleDevOps,
		Success:       true,
		Output:        model.JSONMap{"deployed": true},
		CorrelationID: "corr-1",
	}))

	stored, err := f.taskRepo.GetTaskByTaskID(ctx, task.TaskID)
	assert.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, stored.Status)
	assert.Equal(t, true, stored.Output["deployed"])
}

func TestHandleResultFailureSchedulesRetry(t *testing.T) {
	f := newMasterFixture(t)
	ctx := context.Background()

	task := &model.Task{ProjectID: "proj-1", Title: "run tests", Type: model.TaskTypeTesting}
	assert.NoError(t, f.service.CreateTask(ctx, task))

	assert.NoError(t, f.service.HandleResult(ctx, &model.ResultMessage{
		TaskID:        task.TaskID,
		ProjectID:     task.ProjectID,
		AgentRole:     model.RoleQA,
		Success:       false,
		Error:         "flaky suite",
		CorrelationID: "corr-2",
	}))

	// 还有剩余尝试次数时进入重试队列
	assert.Len(t, f.publisher.retries, 1)
	assert.Equal(t, 2, f.publisher.retries[0].Attempt)

	stored, err := f.taskRepo.GetTaskByTaskID(ctx, task.TaskID)
	assert.NoError(t, err)
	assert.Equal(t, model.TaskStatusRetrying, stored.Status)
	assert.Equal(t, 2, stored.Attempt)
	assert.Equal(t, "flaky suite", stored.ErrorMessage)
}

func TestHandleResultFailureExhaustedGoesTerminal(t *testing.T) {
	f := newMasterFixture(t)
	ctx := context.Background()

	task := &model.Task{
		ProjectID:   "proj-1",
		Title:       "security scan",
		Type:        model.TaskTypeSecurityAudit,
		MaxAttempts: 1,
	}
	assert.NoError(t, f.service.CreateTask(ctx, task))

	assert.NoError(t, f.service.HandleResult(ctx, &model.ResultMessage{
		TaskID:        task.TaskID,
		ProjectID:     task.ProjectID,
		AgentRole:     model.RoleSecurity,
		Success:       false,
		Error:         "scanner crashed",
		CorrelationID: "corr-3",
	}))

	// 尝试次数耗尽后不再重试，终态FAILED
	assert.Empty(t, f.publisher.retries)

	stored, err := f.taskRepo.GetTaskByTaskID(ctx, task.TaskID)
	assert.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, stored.Status)
	assert.Equal(t, "scanner crashed", stored.ErrorMessage)
}

func TestCorrelationIDSurvivesRetries(t *testing.T) {
	f := newMasterFixture(t)
	ctx := context.Background()

	task := &model.Task{ProjectID: "proj-1", Title: "run tests", Type: model.TaskTypeTesting}
	assert.NoError(t, f.service.CreateTask(ctx, task))
	assert.NotEmpty(t, task.CorrelationID)
	assert.Equal(t, task.CorrelationID, f.publisher.tasks[0].CorrelationID)

	// 失败重试与再次委派沿用受理时生成的关联ID
	assert.NoError(t, f.service.HandleResult(ctx, &model.ResultMessage{
		TaskID:        task.TaskID,
		ProjectID:     task.ProjectID,
		AgentRole:     model.RoleQA,
		Success:       false,
		Error:         "flaky suite",
		CorrelationID: "corr-from-agent",
	}))
	assert.Len(t, f.publisher.retries, 1)
	assert.Equal(t, task.CorrelationID, f.publisher.retries[0].CorrelationID)

	reloaded, err := f.taskRepo.GetTaskByTaskID(ctx, task.TaskID)
	assert.NoError(t, err)
	assert.NoError(t, f.service.DelegateTask(ctx, reloaded))
	assert.Len(t, f.publisher.tasks, 2)
	assert.Equal(t, task.CorrelationID, f.publisher.tasks[1].CorrelationID)
}

func TestHandleResultMasterAckLeavesTaskUntouched(t *testing.T) {
	f := newMasterFixture(t)
	ctx := context.Background()

	task := &model.Task{ProjectID: "proj-1", Title: "deploy", Type: model.TaskTypeDeployment}
	assert.NoError(t, f.service.CreateTask(ctx, task))

	// 主编排者的委派回执只记账，任务保持已入队状态
	assert.NoError(t, f.service.HandleResult(ctx, &model.ResultMessage{
		TaskID:        task.TaskID,
		ProjectID:     task.ProjectID,
		AgentRole:     model.RoleMasterOrchestrator,
		Success:       true,
		Output:        model.JSONMap{"delegatedTo": "DEVOPS"},
		CorrelationID: task.CorrelationID,
	}))

	stored, err := f.taskRepo.GetTaskByTaskID(ctx, task.TaskID)
	assert.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, stored.Status)
	assert.Nil(t, stored.CompletedAt)
}

func TestCancelTaskReachesTerminalState(t *testing.T) {
	f := newMasterFixture(t)
	ctx := context.Background()

	task := &model.Task{ProjectID: "proj-1", Title: "refactor", Type: model.TaskTypeCodeGeneration}
	assert.NoError(t, f.service.CreateTask(ctx, task))
	assert.NoError(t, f.service.CancelTask(ctx, task.TaskID))

	stored, err := f.taskRepo.GetTaskByTaskID(ctx, task.TaskID)
	assert.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	// 终态任务不可重复取消
	assert.Error(t, f.service.CancelTask(ctx, task.TaskID))

	// 已取消任务的迟到结果被忽略
	assert.NoError(t, f.service.HandleResult(ctx, &model.ResultMessage{
		TaskID:    task.TaskID,
		AgentRole: model.RoleBackendDev,
		Success:   true,
		Output:    model.JSONMap{"done": true},
	}))
	stored, err = f.taskRepo.GetTaskByTaskID(ctx, task.TaskID)
	assert.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, stored.Status)
}

func TestHandleResultUnknownTaskIsDropped(t *testing.T) {
	f := newMasterFixture(t)

	// 未知任务的结果丢弃但不报错，避免消息反复重投
	assert.NoError(t, f.service.HandleResult(context.Background(), &model.ResultMessage{
		TaskID:        "task-missing",
		AgentRole:     model.RoleQA,
		Success:       true,
		CorrelationID: "corr-4",
	}))
	assert.Empty(t, f.publisher.retries)
}

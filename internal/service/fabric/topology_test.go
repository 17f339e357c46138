package fabric

import (
	"testing"

	"neotasker/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestTaskRoutingKeyGrammar(t *testing.T) {
	assert.Equal(t, "task.backend-dev.high",
		TaskRoutingKey(model.RoleBackendDev, model.PriorityHigh))
	assert.Equal(t, "task.master-orchestrator.medium",
		TaskRoutingKey(model.RoleMasterOrchestrator, model.PriorityMedium))
	assert.Equal(t, "task.solutions-architect.critical",
		TaskRoutingKey(model.RoleSolutionsArchitect, model.PriorityCritical))
}

func TestRoleQueueName(t *testing.T) {
	assert.Equal(t, "agent.backend-dev", RoleQueueName(model.RoleBackendDev))
	assert.Equal(t, "agent.master-orchestrator", RoleQueueName(model.RoleMasterOrchestrator))

	// 12个角色产生12个互不相同的队列名
	seen := make(map[string]bool)
	for _, role := range model.AllAgentRoles() {
		queue := RoleQueueName(role)
		assert.False(t, seen[queue], "duplicate queue name %s", queue)
		seen[queue] = true
	}
	assert.Len(t, seen, 12)
}

func TestResultRoutingKeyGrammar(t *testing.T) {
	assert.Equal(t, "result.task-123.success", ResultRoutingKey("task-123", true))
	assert.Equal(t, "result.task-123.failure", ResultRoutingKey("task-123", false))

	// 结果队列绑定键覆盖任意任务的任意结局
	assert.Equal(t, "result.#", ResultBindingKey)
}

func TestDeadLetterRoutingKey(t *testing.T) {
	assert.Equal(t, "dlx.backend-dev", DeadLetterRoutingKey(model.RoleBackendDev))
	assert.Equal(t, "dlx.master-orchestrator", DeadLetterRoutingKey(model.RoleMasterOrchestrator))
}

func TestRetryTierByAttempt(t *testing.T) {
	assert.Equal(t, "30s", RetryTier(0))
	assert.Equal(t, "30s", RetryTier(1))
	assert.Equal(t, "60s", RetryTier(2))
	assert.Equal(t, "300s", RetryTier(3))
	assert.Equal(t, "300s", RetryTier(10))
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentRoleKey(t *testing.T) {
	assert.Equal(t, "backend-dev", RoleBackendDev.Key())
	assert.Equal(t, "master-orchestrator", RoleMasterOrchestrator.Key())
	assert.Equal(t, "solutions-architect", RoleSolutionsArchitect.Key())
}

func TestSpecialistRolesExcludeMaster(t *testing.T) {
	specialists := SpecialistRoles()
	assert.Len(t, specialists, 11)
	assert.NotContains(t, specialists, RoleMasterOrchestrator)
	assert.Len(t, AllAgentRoles(), 12)
}

func TestConsumptionModeSpecialistLimit(t *testing.T) {
	assert.Equal(t, 2, ModeMinimal.SpecialistLimit())
	assert.Equal(t, 6, ModeStandard.SpecialistLimit())
	// 上限超过专家角色总数时等价于全量启动
	assert.Greater(t, ModeHighPerformance.SpecialistLimit(), len(SpecialistRoles()))
}

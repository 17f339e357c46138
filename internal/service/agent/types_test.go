package agent

import (
	"testing"

	"neotasker/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoleMapping(t *testing.T) {
	assert.Equal(t, model.RoleBackendDev, ResolveRole(model.TaskTypeCodeGeneration))
	assert.Equal(t, model.RoleFrontendDev, ResolveRole(model.TaskTypeUIDesign))
	assert.Equal(t, model.RoleDevOps, ResolveRole(model.TaskTypeDeployment))
	assert.Equal(t, model.RoleDevOps, ResolveRole(model.TaskTypeInfrastructure))
	assert.Equal(t, model.RoleQA, ResolveRole(model.TaskTypeTesting))
	assert.Equal(t, model.RoleSecurity, ResolveRole(model.TaskTypeSecurityAudit))
	assert.Equal(t, model.RoleTechLead, ResolveRole(model.TaskTypeCodeReview))
	assert.Equal(t, model.RoleTechLead, ResolveRole(model.TaskTypeTechnicalReview))
}

func TestResolveRoleUnknownTypeFallsBack(t *testing.T) {
	assert.Equal(t, DefaultRole, ResolveRole(model.TaskType("SOMETHING_NEW")))
	assert.Equal(t, DefaultRole, ResolveRole(model.TaskType("")))
}

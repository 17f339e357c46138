/*
 * Agent编排类型与路由映射
 * @author: sun977
 * @date: 2025.11.22
 * @description: 任务类型到角色的静态映射表。
 * 未知类型一律回落到BACKEND_DEV，委派永远不会因类型缺失而失败。
 */

package agent

import "neotasker/internal/model"

// taskTypeToRole 任务类型到目标角色的映射表
var taskTypeToRole = map[model.TaskType]model.AgentRole{
	model.TaskTypeCodeGeneration:  model.RoleBackendDev,
	model.TaskTypeCodeReview:      model.RoleTechLead,
	model.TaskTypeUIDesign:        model.RoleFrontendDev,
	model.TaskTypeDeployment:      model.RoleDevOps,
	model.TaskTypeInfrastructure:  model.RoleDevOps,
	model.TaskTypeTesting:         model.RoleQA,
	model.TaskTypeSecurityAudit:   model.RoleSecurity,
	model.TaskTypeDataPipeline:    model.RoleDataEngineer,
	model.TaskTypeOptimization:    model.RolePerformance,
	model.TaskTypeDocumentation:   model.RoleDocumentation,
	model.TaskTypeRequirements:    model.RoleProductManager,
	model.TaskTypeArchitecture:    model.RoleSolutionsArchitect,
	model.TaskTypeTechnicalReview: model.RoleTechLead,
}

// DefaultRole 未映射类型的兜底角色
const DefaultRole = model.RoleBackendDev

// ResolveRole 解析任务类型对应的目标角色
// 未知类型返回兜底角色，不报错
func ResolveRole(taskType model.TaskType) model.AgentRole {
	if role, ok := taskTypeToRole[taskType]; ok {
		return role
	}
	return DefaultRole
}

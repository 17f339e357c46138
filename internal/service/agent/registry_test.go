package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"neotasker/internal/model"

	"github.com/stretchr/testify/assert"
)

func writePluginFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryFallbackLayers(t *testing.T) {
	// 1. Setup: 全局默认 + BACKEND_DEV角色覆盖
	tmpDir := t.TempDir()
	writePluginFile(t, tmpDir, "agent-defaults.json", `{
		"defaults": {"maxLoad": 7, "taskTimeoutMs": 120000},
		"agents": {
			"BACKEND_DEV": {"maxLoad": 10, "maxAttempts": 5}
		}
	}`)

	registry := NewRegistry(tmpDir)

	// 2. 角色覆盖层生效，未覆盖字段落到全局默认
	backend := registry.GetProfile(model.RoleBackendDev)
	assert.Equal(t, 10, backend.MaxLoad)
	assert.Equal(t, 120*time.Second, backend.TaskTimeout)
	assert.Equal(t, 5, backend.Retry.MaxAttempts)
	// 任何配置源都没碰的字段保持内置兜底
	assert.Equal(t, 2.0, backend.Retry.BackoffMultiplier)

	// 3. 无角色覆盖时落到全局默认
	qa := registry.GetProfile(model.RoleQA)
	assert.Equal(t, 7, qa.MaxLoad)
	assert.Equal(t, 120*time.Second, qa.TaskTimeout)
	assert.Equal(t, 3, qa.Retry.MaxAttempts)
}

func TestRegistryHardcodedFallbackWhenNoFiles(t *testing.T) {
	registry := NewRegistry(t.TempDir())

	profile := registry.GetProfile(model.RoleSecurity)
	assert.Equal(t, 5, profile.MaxLoad)
	assert.Equal(t, 300*time.Second, profile.TaskTimeout)
	assert.Equal(t, 3, profile.Retry.MaxAttempts)
	assert.Equal(t, 2.0, profile.Retry.BackoffMultiplier)
	assert.Empty(t, profile.Prompt)
	assert.Empty(t, profile.Rules)
	assert.Empty(t, profile.Capabilities)
}

func TestRegistryCapabilitiesFromOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	writePluginFile(t, tmpDir, "agent-defaults.json", `{
		"agents": {
			"BACKEND_DEV": {"capabilities": ["api-development", "data-persistence"]}
		}
	}`)

	registry := NewRegistry(tmpDir)
	assert.Equal(t, []string{"api-development", "data-persistence"},
		registry.GetProfile(model.RoleBackendDev).Capabilities)
	// 未声明能力的角色保持空列表兜底
	assert.Empty(t, registry.GetProfile(model.RoleQA).Capabilities)
}

func TestRegistryLoadsPromptsAndRules(t *testing.T) {
	tmpDir := t.TempDir()
	writePluginFile(t, tmpDir, filepath.Join("prompts", "qa.md"), "# QA prompt")
	writePluginFile(t, tmpDir, filepath.Join("rules", "qa.json"), `["rule-a", "rule-b"]`)

	registry := NewRegistry(tmpDir)

	profile := registry.GetProfile(model.RoleQA)
	assert.Equal(t, "# QA prompt", profile.Prompt)
	assert.Equal(t, []string{"rule-a", "rule-b"}, profile.Rules)
}

func TestRegistryReloadPicksUpChanges(t *testing.T) {
	tmpDir := t.TempDir()
	writePluginFile(t, tmpDir, "agent-defaults.json", `{"defaults": {"maxLoad": 3}}`)

	registry := NewRegistry(tmpDir)
	assert.Equal(t, 3, registry.GetProfile(model.RoleDevOps).MaxLoad)

	// 修改配置源后整表重载
	writePluginFile(t, tmpDir, "agent-defaults.json", `{"defaults": {"maxLoad": 9}}`)
	assert.NoError(t, registry.Reload())
	assert.Equal(t, 9, registry.GetProfile(model.RoleDevOps).MaxLoad)
}

func TestRegistryMalformedRulesFallBackToEmpty(t *testing.T) {
	tmpDir := t.TempDir()
	writePluginFile(t, tmpDir, filepath.Join("rules", "devops.json"), `{not json`)

	registry := NewRegistry(tmpDir)
	assert.Empty(t, registry.GetProfile(model.RoleDevOps).Rules)
}

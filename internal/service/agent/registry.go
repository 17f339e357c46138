/*
 * Agent配置注册表
 * @author: sun977
 * @date: 2025.11.23
 * @description: 从三类配置源装配各角色的运行画像：
 * 1.agent-defaults.json —— 全局默认值与逐角色覆盖
 * 2.prompts/<role-key>.md —— 角色提示词
 * 3.rules/<role-key>.json —— 角色行为规则列表
 * 任一配置源缺失时逐层回退：角色覆盖 -> 全局默认 -> 内置兜底，装配永不失败。
 * 支持整表热重载，读写经RWMutex隔离。
 */

package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"
	"neotasker/internal/pkg/utils"

	"github.com/sirupsen/logrus"
)

// 内置兜底值，所有配置源均缺失时生效
const (
	fallbackMaxLoad           = 5
	fallbackTaskTimeout       = 300 * time.Second
	fallbackMaxAttempts       = 3
	fallbackBackoffMultiplier = 2.0
)

// RetryPolicy 任务重试策略
type RetryPolicy struct {
	MaxAttempts       int     `json:"maxAttempts"`       // 最大尝试次数
	BackoffMultiplier float64 `json:"backoffMultiplier"` // 退避倍数
}

// AgentProfile 角色运行画像
type AgentProfile struct {
	Role         model.AgentRole `json:"role"`         // 角色
	MaxLoad      int             `json:"maxLoad"`      // 并发任务上限
	TaskTimeout  time.Duration   `json:"taskTimeout"`  // 单任务执行超时
	Retry        RetryPolicy     `json:"retry"`        // 重试策略
	Capabilities []string        `json:"capabilities"` // 能力描述列表
	Prompt       string          `json:"prompt"`       // 角色提示词
	Rules        []string        `json:"rules"`        // 行为规则列表
}

// profileOverride agent-defaults.json中的可覆盖字段，指针/nil区分"未设置"
type profileOverride struct {
	MaxLoad           *int     `json:"maxLoad"`
	TaskTimeoutMs     *int64   `json:"taskTimeoutMs"`
	MaxAttempts       *int     `json:"maxAttempts"`
	BackoffMultiplier *float64 `json:"backoffMultiplier"`
	Capabilities      []string `json:"capabilities"`
}

// defaultsFile agent-defaults.json文件结构
type defaultsFile struct {
	Defaults profileOverride            `json:"defaults"` // 全局默认
	Agents   map[string]profileOverride `json:"agents"`   // 逐角色覆盖，键为角色名
}

// Registry Agent配置注册表接口
type Registry interface {
	// GetProfile 获取角色画像，任何角色都能拿到完整画像
	GetProfile(role model.AgentRole) *AgentProfile
	// Reload 重新装配全部画像
	Reload() error
}

// registry Agent配置注册表实现
type registry struct {
	pluginsPath string // 配置源根目录

	mu       sync.RWMutex
	profiles map[model.AgentRole]*AgentProfile
}

// NewRegistry 创建Agent配置注册表并完成首次装配
// 首次装配的文件读取错误只记日志不阻断启动，画像回退到兜底值
func NewRegistry(pluginsPath string) Registry {
	r := &registry{
		pluginsPath: pluginsPath,
		profiles:    make(map[model.AgentRole]*AgentProfile),
	}
	if err := r.Reload(); err != nil {
		logger.LogSystemEvent("registry", "load_failed",
			"Agent registry initial load failed, using fallback profiles", logrus.WarnLevel,
			map[string]interface{}{"error": err.Error()})
	}
	return r
}

// GetProfile 获取角色画像
func (r *registry) GetProfile(role model.AgentRole) *AgentProfile {
	r.mu.RLock()
	profile, ok := r.profiles[role]
	r.mu.RUnlock()
	if ok {
		return profile
	}

	// 未装配的角色返回纯兜底画像
	return fallbackProfile(role)
}

// Reload 重新装配全部角色画像
// 先在副本上完成装配再整表替换，读方不会看到半成品
func (r *registry) Reload() error {
	defaults, err := r.loadDefaultsFile()
	if err != nil {
		return err
	}

	profiles := make(map[model.AgentRole]*AgentProfile, len(model.AllAgentRoles()))
	for _, role := range model.AllAgentRoles() {
		profiles[role] = r.assembleProfile(role, defaults)
	}

	r.mu.Lock()
	r.profiles = profiles
	r.mu.Unlock()

	logger.LogSystemEvent("registry", "reloaded",
		"Agent registry reloaded", logrus.InfoLevel, map[string]interface{}{
			"roles": len(profiles),
		})
	return nil
}

// loadDefaultsFile 读取agent-defaults.json
// 文件缺失视为空配置，不报错
func (r *registry) loadDefaultsFile() (*defaultsFile, error) {
	path := filepath.Join(r.pluginsPath, "agent-defaults.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaultsFile{}, nil
		}
		return nil, fmt.Errorf("failed to read agent defaults: %w", err)
	}

	var file defaultsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent defaults: %w", err)
	}
	return &file, nil
}

// assembleProfile 装配单个角色画像：角色覆盖 -> 全局默认 -> 内置兜底
func (r *registry) assembleProfile(role model.AgentRole, defaults *defaultsFile) *AgentProfile {
	profile := fallbackProfile(role)

	applyOverride(profile, &defaults.Defaults)
	if override, ok := defaults.Agents[role.String()]; ok {
		applyOverride(profile, &override)
	}

	profile.Prompt = r.loadPrompt(role)
	profile.Rules = r.loadRules(role)
	return profile
}

// applyOverride 将非空覆盖字段应用到画像
func applyOverride(profile *AgentProfile, override *profileOverride) {
	if override.MaxLoad != nil {
		profile.MaxLoad = *override.MaxLoad
	}
	if override.TaskTimeoutMs != nil {
		profile.TaskTimeout = time.Duration(*override.TaskTimeoutMs) * time.Millisecond
	}
	if override.MaxAttempts != nil {
		profile.Retry.MaxAttempts = *override.MaxAttempts
	}
	if override.BackoffMultiplier != nil {
		profile.Retry.BackoffMultiplier = *override.BackoffMultiplier
	}
	if override.Capabilities != nil {
		profile.Capabilities = override.Capabilities
	}
}

// loadPrompt 读取角色提示词，缺失时返回空串
func (r *registry) loadPrompt(role model.AgentRole) string {
	path := filepath.Join(r.pluginsPath, "prompts", role.Key()+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// loadRules 读取角色规则列表，缺失或解析失败时返回空列表
func (r *registry) loadRules(role model.AgentRole) []string {
	path := filepath.Join(r.pluginsPath, "rules", role.Key()+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return []string{}
	}

	rules, err := utils.JSONToStringSlice(string(data))
	if err != nil {
		logger.LogSystemEvent("registry", "rules_parse_failed",
			fmt.Sprintf("Failed to parse rules for %s", role), logrus.WarnLevel,
			map[string]interface{}{"path": path, "error": err.Error()})
		return []string{}
	}
	return rules
}

// fallbackProfile 构造内置兜底画像
func fallbackProfile(role model.AgentRole) *AgentProfile {
	return &AgentProfile{
		Role:        role,
		MaxLoad:     fallbackMaxLoad,
		TaskTimeout: fallbackTaskTimeout,
		Retry: RetryPolicy{
			MaxAttempts:       fallbackMaxAttempts,
			BackoffMultiplier: fallbackBackoffMultiplier,
		},
		Capabilities: []string{},
		Rules:        []string{},
	}
}

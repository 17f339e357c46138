/*
 * 集成插件注册表
 * @author: sun977
 * @date: 2025.11.26
 * @description: 从notifiers.json装配启用的集成渠道。
 * 每个渠道统一套熔断包装后对外提供。InitializeAll逐个初始化，
 * 单个插件失败只记日志不阻断其余插件。配置缺失时返回空列表，告警只落库和广播。
 */

package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"neotasker/internal/pkg/logger"
	"neotasker/internal/service/monitor"

	"github.com/sirupsen/logrus"
)

// channelConfig 单个渠道的配置块
type channelConfig struct {
	Enabled     bool   `json:"enabled"`
	WebhookURL  string `json:"webhookUrl"`
	DispatchURL string `json:"dispatchUrl"`
	EventsURL   string `json:"eventsUrl"`
	Token       string `json:"token"`
	APIKey      string `json:"apiKey"`
	Secret      string `json:"secret"` // 入站Webhook签名密钥
}

// notifierConfig notifiers.json文件结构
type notifierConfig struct {
	Slack   *channelConfig `json:"slack"`
	GitHub  *channelConfig `json:"github"`
	Datadog *channelConfig `json:"datadog"`
	N8N     *channelConfig `json:"n8n"`
}

// Registry 集成插件注册表
type Registry struct {
	mu          sync.RWMutex
	plugins     map[string]WebhookExecutor
	configs     map[string]map[string]interface{} // 各插件的初始化配置
	initialized map[string]bool                   // 初始化成功的插件
}

// NewRegistry 创建注册表并从配置装配渠道
func NewRegistry(pluginsPath string) *Registry {
	r := &Registry{
		plugins:     make(map[string]WebhookExecutor),
		configs:     make(map[string]map[string]interface{}),
		initialized: make(map[string]bool),
	}
	r.loadFromConfig(pluginsPath)
	return r
}

// loadFromConfig 从notifiers.json装配启用的渠道
func (r *Registry) loadFromConfig(pluginsPath string) {
	path := filepath.Join(pluginsPath, "notifiers.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.LogError(fmt.Errorf("failed to read notifier config: %w", err), "", "plugin", "", nil)
		}
		return
	}

	var cfg notifierConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.LogError(fmt.Errorf("failed to parse notifier config: %w", err), "", "plugin", "", nil)
		return
	}

	if cfg.Slack != nil && cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		r.Register(NewSlackNotifier(cfg.Slack.WebhookURL), map[string]interface{}{
			"url": cfg.Slack.WebhookURL, "secret": cfg.Slack.Secret,
		})
	}
	if cfg.GitHub != nil && cfg.GitHub.Enabled && cfg.GitHub.DispatchURL != "" {
		r.Register(NewGitHubNotifier(cfg.GitHub.DispatchURL, cfg.GitHub.Token), map[string]interface{}{
			"url": cfg.GitHub.DispatchURL, "secret": cfg.GitHub.Secret,
		})
	}
	if cfg.Datadog != nil && cfg.Datadog.Enabled && cfg.Datadog.EventsURL != "" {
		r.Register(NewDatadogNotifier(cfg.Datadog.EventsURL, cfg.Datadog.APIKey), map[string]interface{}{
			"url": cfg.Datadog.EventsURL, "secret": cfg.Datadog.Secret,
		})
	}
	if cfg.N8N != nil && cfg.N8N.Enabled && cfg.N8N.WebhookURL != "" {
		r.Register(NewN8NNotifier(cfg.N8N.WebhookURL), map[string]interface{}{
			"url": cfg.N8N.WebhookURL, "secret": cfg.N8N.Secret,
		})
	}

	logger.LogSystemEvent("plugin", "integrations_loaded",
		"Integration plugins loaded", logrus.InfoLevel, map[string]interface{}{
			"count": len(r.plugins),
		})
}

// Register 注册一个渠道并套熔断包装
func (r *Registry) Register(plugin IntegrationPlugin, config map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[plugin.Name()] = WithBreaker(plugin)
	r.configs[plugin.Name()] = config
}

// InitializeAll 逐个初始化全部插件
// 单个插件初始化失败记日志后继续，失败的插件不参与后续调用
func (r *Registry) InitializeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, plugin := range r.plugins {
		if err := plugin.Initialize(r.configs[name]); err != nil {
			logger.LogError(fmt.Errorf("failed to initialize integration %s: %w", name, err),
				"", "plugin", "", nil)
			continue
		}
		r.initialized[name] = true
	}

	logger.LogSystemEvent("plugin", "integrations_initialized",
		"Integration plugins initialized", logrus.InfoLevel, map[string]interface{}{
			"total":       len(r.plugins),
			"initialized": len(r.initialized),
		})
}

// DestroyAll 逐个销毁全部插件，释放资源
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, plugin := range r.plugins {
		if err := plugin.Destroy(); err != nil {
			logger.LogError(fmt.Errorf("failed to destroy integration %s: %w", name, err),
				"", "plugin", "", nil)
		}
		delete(r.initialized, name)
	}
}

// Get 按名获取渠道，仅返回初始化成功的插件
func (r *Registry) Get(name string) (WebhookExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized[name] {
		return nil, false
	}
	plugin, ok := r.plugins[name]
	return plugin, ok
}

// Notifiers 返回初始化成功的全部渠道，供告警引擎使用
func (r *Registry) Notifiers() []monitor.Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	notifiers := make([]monitor.Notifier, 0, len(r.plugins))
	for name, plugin := range r.plugins {
		if r.initialized[name] {
			notifiers = append(notifiers, plugin)
		}
	}
	return notifiers
}

/*
 * 告警引擎
 * @author: sun977
 * @date: 2025.11.25
 * @description: 静态规则驱动的告警评估。
 * 按cron计划在指标快照上逐条求值，触发顺序固定：先持久化，再广播，最后外发通知。
 * 每条规则独立冷却，冷却期内不重复触发。外发通知失败不回滚已持久化的告警。
 */

package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"
	"neotasker/internal/pkg/utils"
	mysqlrepo "neotasker/internal/repository/mysql"
	redisrepo "neotasker/internal/repository/redis"
	"neotasker/internal/service/realtime"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// defaultCooldown 规则未指定冷却时长时的默认值
const defaultCooldown = 5 * time.Minute

// Notifier 外发通知接口，由通知插件实现
type Notifier interface {
	// Name 通知渠道名
	Name() string
	// Notify 外发一条告警
	Notify(ctx context.Context, alert *model.Alert) error
}

// ruleFile alert-rules.json文件结构
type ruleFile struct {
	Rules []ruleEntry `json:"rules"`
}

// ruleEntry 规则文件中的单条规则
type ruleEntry struct {
	Name       string  `json:"name"`
	Metric     string  `json:"metric"`
	Operator   string  `json:"operator"`
	Threshold  float64 `json:"threshold"`
	Severity   string  `json:"severity"`
	Message    string  `json:"message"`
	CooldownMs int64   `json:"cooldownMs"`
}

// AlertEngine 告警引擎接口
type AlertEngine interface {
	// Start 启动cron计划评估
	Start() error
	// Stop 停止计划评估
	Stop()
	// EvaluateOnce 执行一轮评估(供测试与手动触发)
	EvaluateOnce(ctx context.Context) error
	// Rules 返回已加载的规则列表
	Rules() []model.AlertRule
}

// alertEngine 告警引擎实现
type alertEngine struct {
	cronSpec  string
	collector Collector
	alertRepo *mysqlrepo.AlertRepository
	pubsub    *redisrepo.PubSubRepository
	notifiers []Notifier

	rules []model.AlertRule

	mu        sync.Mutex
	lastFired map[string]time.Time // 规则名 -> 最近触发时间
	scheduler *cron.Cron
}

// NewAlertEngine 创建告警引擎并加载规则
// 规则文件缺失或为空时引擎照常启动，只是不会产生告警
func NewAlertEngine(
	pluginsPath, cronSpec string,
	collector Collector,
	alertRepo *mysqlrepo.AlertRepository,
	pubsub *redisrepo.PubSubRepository,
	notifiers []Notifier,
) AlertEngine {
	engine := &alertEngine{
		cronSpec:  cronSpec,
		collector: collector,
		alertRepo: alertRepo,
		pubsub:    pubsub,
		notifiers: notifiers,
		lastFired: make(map[string]time.Time),
	}
	engine.rules = loadRules(pluginsPath)
	return engine
}

// loadRules 从alert-rules.json加载规则
func loadRules(pluginsPath string) []model.AlertRule {
	path := filepath.Join(pluginsPath, "alert-rules.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.LogError(fmt.Errorf("failed to read alert rules: %w", err), "", "alert_engine", "", nil)
		}
		return nil
	}

	var file ruleFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.LogError(fmt.Errorf("failed to parse alert rules: %w", err), "", "alert_engine", "", nil)
		return nil
	}

	rules := make([]model.AlertRule, 0, len(file.Rules))
	for _, entry := range file.Rules {
		cooldown := defaultCooldown
		if entry.CooldownMs > 0 {
			cooldown = time.Duration(entry.CooldownMs) * time.Millisecond
		}
		rules = append(rules, model.AlertRule{
			Name:      entry.Name,
			Metric:    entry.Metric,
			Operator:  entry.Operator,
			Threshold: entry.Threshold,
			Severity:  model.AlertSeverity(entry.Severity),
			Message:   entry.Message,
			Cooldown:  cooldown,
		})
	}
	return rules
}

// Start 启动cron计划评估
func (e *alertEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.scheduler != nil {
		return fmt.Errorf("alert engine already started")
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(e.cronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.EvaluateOnce(ctx); err != nil {
			logger.LogError(err, "", "alert_engine", "", nil)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid alert cron spec %q: %w", e.cronSpec, err)
	}

	scheduler.Start()
	e.scheduler = scheduler

	logger.LogSystemEvent("alert_engine", "started",
		"Alert engine started", logrus.InfoLevel, map[string]interface{}{
			"cron":  e.cronSpec,
			"rules": len(e.rules),
		})
	return nil
}

// EvaluateOnce 在一次指标快照上评估全部规则
func (e *alertEngine) EvaluateOnce(ctx context.Context) error {
	if len(e.rules) == 0 {
		return nil
	}

	metrics, err := e.collector.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect metrics snapshot: %w", err)
	}

	for _, rule := range e.rules {
		value, ok := metrics[rule.Metric]
		if !ok {
			continue
		}
		if !evaluate(rule.Operator, value, rule.Threshold) {
			continue
		}
		if e.inCooldown(rule) {
			continue
		}
		if err := e.fire(ctx, rule, value); err != nil {
			logger.LogError(err, "", "alert_engine", "", map[string]interface{}{
				"rule": rule.Name,
			})
		}
	}
	return nil
}

// evaluate 在指标值上求值比较表达式
func evaluate(operator string, value, threshold float64) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	default:
		return false
	}
}

// inCooldown 判断规则是否处于冷却期
func (e *alertEngine) inCooldown(rule model.AlertRule) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	last, ok := e.lastFired[rule.Name]
	if !ok {
		return false
	}
	return time.Since(last) < rule.Cooldown
}

// fire 触发一条告警：持久化 -> 广播 -> 外发通知
// 持久化失败则整体放弃；广播或通知失败只记日志，已落库的告警保留
func (e *alertEngine) fire(ctx context.Context, rule model.AlertRule, value float64) error {
	alert := &model.Alert{
		AlertID:  utils.GenerateAlertID(),
		RuleName: rule.Name,
		Severity: rule.Severity,
		Message:  rule.Message,
		Source:   "alert_engine",
		Metadata: model.JSONMap{
			"metric":    rule.Metric,
			"value":     value,
			"threshold": rule.Threshold,
			"operator":  rule.Operator,
		},
	}

	if err := e.alertRepo.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to persist alert: %w", err)
	}

	e.mu.Lock()
	e.lastFired[rule.Name] = time.Now()
	e.mu.Unlock()

	event := realtime.NewEvent(realtime.EventAlertFired, alert, "")
	if err := e.pubsub.Publish(ctx, redisrepo.ChannelAlerts, event); err != nil {
		logger.LogError(fmt.Errorf("failed to broadcast alert: %w", err), "", "alert_engine", "", nil)
	}

	for _, notifier := range e.notifiers {
		if err := notifier.Notify(ctx, alert); err != nil {
			logger.LogError(fmt.Errorf("notifier %s failed: %w", notifier.Name(), err),
				"", "alert_engine", "", map[string]interface{}{
					"alert_id": alert.AlertID,
				})
		}
	}

	logger.LogSystemEvent("alert_engine", "alert_fired",
		fmt.Sprintf("Alert fired: %s", rule.Name), logrus.WarnLevel, map[string]interface{}{
			"alert_id": alert.AlertID,
			"severity": string(rule.Severity),
			"value":    value,
		})
	return nil
}

// Rules 返回已加载的规则列表
func (e *alertEngine) Rules() []model.AlertRule {
	return e.rules
}

// Stop 停止计划评估
func (e *alertEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.scheduler == nil {
		return
	}
	stopCtx := e.scheduler.Stop()
	<-stopCtx.Done()
	e.scheduler = nil

	logger.LogSystemEvent("alert_engine", "stopped",
		"Alert engine stopped", logrus.InfoLevel, nil)
}

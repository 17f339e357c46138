package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

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

// stubCollector 固定指标快照的收集器
type stubCollector struct {
	metrics map[string]float64
}

func (s *stubCollector) Snapshot(ctx context.Context) (map[string]float64, error) {
	return s.metrics, nil
}

// countingNotifier 记录外发次数的通知器
type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Name() string { return "counting" }

func (n *countingNotifier) Notify(ctx context.Context, alert *model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func (n *countingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func newAlertTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Alert{}))
	return db
}

func newAlertTestPubSub(t *testing.T) *redisrepo.PubSubRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisrepo.NewPubSubRepository(client)
}

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "alert-rules.json"), []byte(content), 0644))
	return dir
}

func TestEvaluateOperators(t *testing.T) {
	cases := []struct {
		operator  string
		value     float64
		threshold float64
		expect    bool
	}{
		{"gt", 2, 1, true},
		{"gt", 1, 1, false},
		{"gte", 1, 1, true},
		{"lt", 0, 1, true},
		{"lt", 1, 1, false},
		{"lte", 1, 1, true},
		{"eq", 0.5, 0.5, true},
		{"eq", 0.5, 0.6, false},
		{"unknown", 100, 1, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, evaluate(c.operator, c.value, c.threshold),
			"operator=%s value=%v threshold=%v", c.operator, c.value, c.threshold)
	}
}

func TestLoadRulesAppliesDefaultCooldown(t *testing.T) {
	dir := writeRulesFile(t, `{
		"rules": [
			{"name": "with-cooldown", "metric": "failure_rate", "operator": "gte", "threshold": 0.5, "severity": "CRITICAL", "message": "m", "cooldownMs": 60000},
			{"name": "without-cooldown", "metric": "agents_offline", "operator": "gt", "threshold": 0, "severity": "WARNING", "message": "m"}
		]
	}`)

	rules := loadRules(dir)
	assert.Len(t, rules, 2)
	assert.Equal(t, time.Minute, rules[0].Cooldown)
	assert.Equal(t, defaultCooldown, rules[1].Cooldown)
}

func TestLoadRulesMissingFileYieldsNoRules(t *testing.T) {
	assert.Empty(t, loadRules(t.TempDir()))
}

func TestAlertFiresAndPersists(t *testing.T) {
	dir := writeRulesFile(t, `{
		"rules": [
			{"name": "high-failure-rate", "metric": "failure_rate", "operator": "gte", "threshold": 0.5, "severity": "CRITICAL", "message": "failure rate too high"}
		]
	}`)
	alertRepo := mysqlrepo.NewAlertRepository(newAlertTestDB(t))
	notifier := &countingNotifier{}
	engine := NewAlertEngine(dir, "@every 1m",
		&stubCollector{metrics: map[string]float64{MetricFailureRate: 0.8}},
		alertRepo, newAlertTestPubSub(t), []Notifier{notifier})

	ctx := context.Background()
	assert.NoError(t, engine.EvaluateOnce(ctx))

	alerts, err := alertRepo.GetActiveAlerts(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Equal(t, "high-failure-rate", alerts[0].RuleName)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, 1, notifier.Count())
}

func TestAlertCooldownSuppressesRepeatedFiring(t *testing.T) {
	dir := writeRulesFile(t, `{
		"rules": [
			{"name": "agents-offline", "metric": "agents_offline", "operator": "gt", "threshold": 0, "severity": "CRITICAL", "message": "agent offline", "cooldownMs": 300000}
		]
	}`)
	alertRepo := mysqlrepo.NewAlertRepository(newAlertTestDB(t))
	notifier := &countingNotifier{}
	engine := NewAlertEngine(dir, "@every 1m",
		&stubCollector{metrics: map[string]float64{MetricAgentsOffline: 2}},
		alertRepo, newAlertTestPubSub(t), []Notifier{notifier})

	ctx := context.Background()
	// 冷却期内反复评估只触发一次
	assert.NoError(t, engine.EvaluateOnce(ctx))
	assert.NoError(t, engine.EvaluateOnce(ctx))
	assert.NoError(t, engine.EvaluateOnce(ctx))

	alerts, err := alertRepo.GetActiveAlerts(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Equal(t, 1, notifier.Count())
}

func TestAlertSkipsRuleBelowThreshold(t *testing.T) {
	dir := writeRulesFile(t, `{
		"rules": [
			{"name": "dead-letter-backlog", "metric": "dead_letter_depth", "operator": "gte", "threshold": 10, "severity": "WARNING", "message": "backlog"}
		]
	}`)
	alertRepo := mysqlrepo.NewAlertRepository(newAlertTestDB(t))
	engine := NewAlertEngine(dir, "@every 1m",
		&stubCollector{metrics: map[string]float64{MetricDeadLetterDepth: 3}},
		alertRepo, newAlertTestPubSub(t), nil)

	ctx := context.Background()
	assert.NoError(t, engine.EvaluateOnce(ctx))

	alerts, err := alertRepo.GetActiveAlerts(ctx, 10)
	assert.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAlertSkipsRuleWithMissingMetric(t *testing.T) {
	dir := writeRulesFile(t, `{
		"rules": [
			{"name": "agents-error", "metric": "agents_error", "operator": "gt", "threshold": 2, "severity": "WARNING", "message": "m"}
		]
	}`)
	alertRepo := mysqlrepo.NewAlertRepository(newAlertTestDB(t))
	engine := NewAlertEngine(dir, "@every 1m",
		&stubCollector{metrics: map[string]float64{}},
		alertRepo, newAlertTestPubSub(t), nil)

	assert.NoError(t, engine.EvaluateOnce(context.Background()))
}

package plugin

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"neotasker/internal/model"

	"github.com/stretchr/testify/assert"
)

// failingIntegration 始终失败并记录被调用次数的集成插件
type failingIntegration struct {
	mu    sync.Mutex
	calls int
}

func (f *failingIntegration) Name() string { return "failing" }

func (f *failingIntegration) Initialize(config map[string]interface{}) error { return nil }

func (f *failingIntegration) Notify(ctx context.Context, alert *model.Alert) error {
	f.bump()
	return errors.New("webhook unreachable")
}

func (f *failingIntegration) Execute(ctx context.Context, action string, payload model.JSONMap) (*ExecutionResult, error) {
	f.bump()
	return &ExecutionResult{Success: false, Error: "webhook unreachable"},
		errors.New("webhook unreachable")
}

func (f *failingIntegration) HealthCheck(ctx context.Context) bool { return false }

func (f *failingIntegration) VerifyWebhook(headers http.Header, body []byte) bool { return true }

func (f *failingIntegration) Destroy() error { return nil }

func (f *failingIntegration) bump() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *failingIntegration) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	inner := &failingIntegration{}
	wrapped := WithBreaker(inner)
	ctx := context.Background()
	alert := &model.Alert{AlertID: "alert-test", RuleName: "r", Severity: model.SeverityWarning}

	// 窗口内连续失败达到判定下限后熔断
	for i := 0; i < breakerMinRequests; i++ {
		assert.Error(t, wrapped.Notify(ctx, alert))
	}
	callsBeforeOpen := inner.Calls()
	assert.Equal(t, int(breakerMinRequests), callsBeforeOpen)

	// 熔断期间快速失败，不再穿透到内层插件
	assert.Error(t, wrapped.Notify(ctx, alert))
	assert.Equal(t, callsBeforeOpen, inner.Calls())
}

func TestWebhookBreakerIsIndependent(t *testing.T) {
	inner := &failingIntegration{}
	wrapped := WithBreaker(inner)
	ctx := context.Background()

	// 常规执行路径熔断
	for i := 0; i < breakerMinRequests; i++ {
		_, err := wrapped.Execute(ctx, "sync", nil)
		assert.Error(t, err)
	}
	callsAfterTrip := inner.Calls()
	_, err := wrapped.Execute(ctx, "sync", nil)
	assert.Error(t, err)
	assert.Equal(t, callsAfterTrip, inner.Calls())

	// Webhook路径的熔断器独立，仍穿透到内层插件
	result, err := wrapped.ExecuteFromWebhook(ctx, "sync", nil)
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, callsAfterTrip+1, inner.Calls())
}

func TestBreakerKeepsChannelName(t *testing.T) {
	wrapped := WithBreaker(&failingIntegration{})
	assert.Equal(t, "failing", wrapped.Name())
}

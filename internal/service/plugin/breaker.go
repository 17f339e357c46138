/*
 * 集成熔断包装
 * @author: sun977
 * @date: 2025.11.26
 * @description: 为集成插件套熔断器。
 * 窗口内请求数达到下限且失败率超过50%时熔断；
 * 常规外发路径熔断30秒后半开试探，入站Webhook触发的执行路径等待15秒。
 * 熔断期间的调用快速失败，不阻塞告警流程与Webhook响应。
 */

package plugin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	breakerOpenTimeout        = 30 * time.Second // 常规路径熔断到半开的等待时长
	breakerWebhookOpenTimeout = 15 * time.Second // Webhook执行路径的等待时长
	breakerMinRequests        = 4                // 触发熔断判定的窗口内最小请求数
	breakerFailureRate        = 0.5              // 失败率阈值
)

// WebhookExecutor 支持Webhook路径执行的集成插件
type WebhookExecutor interface {
	IntegrationPlugin
	// ExecuteFromWebhook 经更短半开等待的熔断器执行动作
	ExecuteFromWebhook(ctx context.Context, action string, payload model.JSONMap) (*ExecutionResult, error)
}

// breakerIntegration 带熔断的集成插件
// 外发与Webhook执行各持一个熔断器，互不串扰
type breakerIntegration struct {
	inner          IntegrationPlugin
	breaker        *gobreaker.CircuitBreaker
	webhookBreaker *gobreaker.CircuitBreaker
}

// newBreaker 构造一个熔断器
func newBreaker(name string, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= breakerFailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.LogSystemEvent("plugin", "breaker_state_changed",
				fmt.Sprintf("Integration %s breaker %s -> %s", name, from, to), logrus.WarnLevel,
				map[string]interface{}{
					"integration": name,
					"from":        from.String(),
					"to":          to.String(),
				})
		},
	})
}

// WithBreaker 为集成插件套熔断器
func WithBreaker(inner IntegrationPlugin) WebhookExecutor {
	return &breakerIntegration{
		inner:          inner,
		breaker:        newBreaker(inner.Name(), breakerOpenTimeout),
		webhookBreaker: newBreaker(inner.Name()+"-webhook", breakerWebhookOpenTimeout),
	}
}

// Name 渠道名
func (b *breakerIntegration) Name() string {
	return b.inner.Name()
}

// Initialize 初始化不经熔断器
func (b *breakerIntegration) Initialize(config map[string]interface{}) error {
	return b.inner.Initialize(config)
}

// Notify 经熔断器外发通知
func (b *breakerIntegration) Notify(ctx context.Context, alert *model.Alert) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Notify(ctx, alert)
	})
	if err != nil {
		return fmt.Errorf("notifier %s: %w", b.inner.Name(), err)
	}
	return nil
}

// Execute 经熔断器执行集成动作
func (b *breakerIntegration) Execute(ctx context.Context, action string, payload model.JSONMap) (*ExecutionResult, error) {
	return b.executeWith(b.breaker, ctx, action, payload)
}

// ExecuteFromWebhook 经Webhook路径熔断器执行集成动作
// 该路径在HTTP请求内同步等待，采用更短的半开等待时长
func (b *breakerIntegration) ExecuteFromWebhook(ctx context.Context, action string, payload model.JSONMap) (*ExecutionResult, error) {
	return b.executeWith(b.webhookBreaker, ctx, action, payload)
}

// executeWith 在给定熔断器上执行动作
func (b *breakerIntegration) executeWith(breaker *gobreaker.CircuitBreaker, ctx context.Context, action string, payload model.JSONMap) (*ExecutionResult, error) {
	value, err := breaker.Execute(func() (interface{}, error) {
		return b.inner.Execute(ctx, action, payload)
	})
	if err != nil {
		if result, ok := value.(*ExecutionResult); ok && result != nil {
			return result, fmt.Errorf("integration %s: %w", b.inner.Name(), err)
		}
		return &ExecutionResult{Success: false, Error: err.Error()},
			fmt.Errorf("integration %s: %w", b.inner.Name(), err)
	}
	return value.(*ExecutionResult), nil
}

// HealthCheck 健康探测不经熔断器
func (b *breakerIntegration) HealthCheck(ctx context.Context) bool {
	return b.inner.HealthCheck(ctx)
}

// VerifyWebhook 签名校验不经熔断器
func (b *breakerIntegration) VerifyWebhook(headers http.Header, body []byte) bool {
	return b.inner.VerifyWebhook(headers, body)
}

// Destroy 释放资源
func (b *breakerIntegration) Destroy() error {
	return b.inner.Destroy()
}

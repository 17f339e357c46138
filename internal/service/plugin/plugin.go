/*
 * 集成插件契约
 * @author: sun977
 * @date: 2025.11.26
 * @description: 外部集成的统一插件接口与通用Webhook实现。
 * 生命周期：Initialize -> Execute/Notify/HealthCheck/VerifyWebhook -> Destroy。
 * 每个渠道只差在告警载荷装配，HTTP投递与签名校验逻辑共用。
 */

package plugin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"neotasker/internal/model"
)

// webhookSignatureHeader 入站Webhook签名头
const webhookSignatureHeader = "X-Webhook-Signature"

// ExecutionResult 插件动作执行结果
type ExecutionResult struct {
	Success bool          `json:"success"`         // 是否执行成功
	Data    model.JSONMap `json:"data,omitempty"`  // 成功输出
	Error   string        `json:"error,omitempty"` // 失败原因
}

// NotifierPlugin 告警外发的窄接口，告警引擎只依赖这一层
type NotifierPlugin interface {
	// Name 渠道名
	Name() string
	// Notify 外发一条告警
	Notify(ctx context.Context, alert *model.Alert) error
}

// IntegrationPlugin 集成插件完整契约
type IntegrationPlugin interface {
	NotifierPlugin
	// Initialize 按配置完成初始化，失败的插件不参与后续调用
	Initialize(config map[string]interface{}) error
	// Execute 执行一个集成动作
	Execute(ctx context.Context, action string, payload model.JSONMap) (*ExecutionResult, error)
	// HealthCheck 健康探测
	HealthCheck(ctx context.Context) bool
	// VerifyWebhook 校验入站Webhook签名
	VerifyWebhook(headers http.Header, body []byte) bool
	// Destroy 释放资源
	Destroy() error
}

// PayloadBuilder 渠道告警载荷装配函数
type PayloadBuilder func(alert *model.Alert) (interface{}, error)

// webhookIntegration 通用Webhook集成插件
type webhookIntegration struct {
	name    string
	url     string
	headers map[string]string
	builder PayloadBuilder
	client  *http.Client

	mu          sync.RWMutex
	secret      string // 入站签名密钥，空则不校验
	initialized bool
}

// newWebhookIntegration 创建通用Webhook集成插件
func newWebhookIntegration(name, url string, headers map[string]string, builder PayloadBuilder) *webhookIntegration {
	return &webhookIntegration{
		name:    name,
		url:     url,
		headers: headers,
		builder: builder,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name 渠道名
func (w *webhookIntegration) Name() string {
	return w.name
}

// Initialize 按配置完成初始化
// 配置可覆盖外发地址并提供入站签名密钥
func (w *webhookIntegration) Initialize(config map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if url, ok := config["url"].(string); ok && url != "" {
		w.url = url
	}
	if secret, ok := config["secret"].(string); ok {
		w.secret = secret
	}
	if w.url == "" {
		return fmt.Errorf("integration %s missing webhook url", w.name)
	}

	w.initialized = true
	return nil
}

// Execute 执行集成动作：POST {action, payload} 到渠道地址
// 非2xx响应转换为失败结果并返回错误，熔断器据此计数
func (w *webhookIntegration) Execute(ctx context.Context, action string, payload model.JSONMap) (*ExecutionResult, error) {
	body := map[string]interface{}{
		"action":  action,
		"payload": payload,
	}
	data, status, err := w.post(ctx, body)
	if err != nil {
		return &ExecutionResult{Success: false, Error: err.Error()},
			fmt.Errorf("integration %s action %s failed: %w", w.name, action, err)
	}
	if status < 200 || status >= 300 {
		errMsg := fmt.Sprintf("%s returned status %d", w.name, status)
		return &ExecutionResult{Success: false, Error: errMsg},
			fmt.Errorf("integration %s action %s failed: %s", w.name, action, errMsg)
	}

	result := &ExecutionResult{Success: true}
	if len(data) > 0 {
		var parsed model.JSONMap
		if jsonErr := json.Unmarshal(data, &parsed); jsonErr == nil {
			result.Data = parsed
		}
	}
	return result, nil
}

// Notify 装配告警载荷并POST到渠道地址
// 非2xx响应视为失败，响应体截断后进入错误信息
func (w *webhookIntegration) Notify(ctx context.Context, alert *model.Alert) error {
	payload, err := w.builder(alert)
	if err != nil {
		return fmt.Errorf("failed to build %s payload: %w", w.name, err)
	}

	data, status, err := w.post(ctx, payload)
	if err != nil {
		return fmt.Errorf("%s webhook request failed: %w", w.name, err)
	}
	if status < 200 || status >= 300 {
		snippet := data
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return fmt.Errorf("%s webhook returned status %d: %s", w.name, status, string(snippet))
	}
	return nil
}

// HealthCheck 健康探测
// 初始化完成且外发地址可用即视为健康，不发真实请求
func (w *webhookIntegration) HealthCheck(ctx context.Context) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.initialized && w.url != ""
}

// VerifyWebhook 校验入站Webhook签名
// HMAC-SHA256(body, secret)与签名头常数时间比较；未配置密钥时放行
func (w *webhookIntegration) VerifyWebhook(headers http.Header, body []byte) bool {
	w.mu.RLock()
	secret := w.secret
	w.mu.RUnlock()

	if secret == "" {
		return true
	}

	signature := strings.TrimPrefix(headers.Get(webhookSignatureHeader), "sha256=")
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Destroy 释放资源
func (w *webhookIntegration) Destroy() error {
	w.mu.Lock()
	w.initialized = false
	w.mu.Unlock()

	w.client.CloseIdleConnections()
	return nil
}

// post POST一个JSON载荷，返回响应体与状态码
func (w *webhookIntegration) post(ctx context.Context, payload interface{}) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal %s payload: %w", w.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build %s request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return data, resp.StatusCode, nil
}

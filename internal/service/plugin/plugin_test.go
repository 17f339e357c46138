package plugin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"neotasker/internal/model"

	"github.com/stretchr/testify/assert"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookIntegrationLifecycle(t *testing.T) {
	w := newWebhookIntegration("test", "", nil, nil)
	ctx := context.Background()

	// 初始化前不健康；缺少地址时初始化失败
	assert.False(t, w.HealthCheck(ctx))
	assert.Error(t, w.Initialize(map[string]interface{}{}))

	assert.NoError(t, w.Initialize(map[string]interface{}{
		"url": "https://example.com/hook",
	}))
	assert.True(t, w.HealthCheck(ctx))

	assert.NoError(t, w.Destroy())
	assert.False(t, w.HealthCheck(ctx))
}

func TestWebhookIntegrationExecute(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.NoError(t, jsonDecode(r, &received))
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"handled": true}`))
	}))
	defer server.Close()

	w := newWebhookIntegration("test", server.URL, nil, nil)
	assert.NoError(t, w.Initialize(map[string]interface{}{}))

	result, err := w.Execute(context.Background(), "sync", model.JSONMap{"key": "value"})
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Data["handled"])
	assert.Equal(t, "sync", received["action"])
}

func TestWebhookIntegrationExecuteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	w := newWebhookIntegration("test", server.URL, nil, nil)
	result, err := w.Execute(context.Background(), "sync", nil)
	assert.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "502")
}

func TestVerifyWebhookSignature(t *testing.T) {
	w := newWebhookIntegration("test", "https://example.com/hook", nil, nil)
	assert.NoError(t, w.Initialize(map[string]interface{}{"secret": "top-secret"}))

	body := []byte(`{"action":"sync"}`)
	good := http.Header{}
	good.Set(webhookSignatureHeader, signBody("top-secret", body))
	assert.True(t, w.VerifyWebhook(good, body))

	// sha256=前缀同样接受
	prefixed := http.Header{}
	prefixed.Set(webhookSignatureHeader, "sha256="+signBody("top-secret", body))
	assert.True(t, w.VerifyWebhook(prefixed, body))

	bad := http.Header{}
	bad.Set(webhookSignatureHeader, signBody("wrong-secret", body))
	assert.False(t, w.VerifyWebhook(bad, body))
	assert.False(t, w.VerifyWebhook(http.Header{}, body))
}

func TestVerifyWebhookWithoutSecretAccepts(t *testing.T) {
	w := newWebhookIntegration("test", "https://example.com/hook", nil, nil)
	assert.NoError(t, w.Initialize(map[string]interface{}{}))
	assert.True(t, w.VerifyWebhook(http.Header{}, []byte(`{}`)))
}

// brokenIntegration 初始化必定失败的插件
type brokenIntegration struct {
	failingIntegration
}

func (b *brokenIntegration) Name() string { return "broken" }

func (b *brokenIntegration) Initialize(config map[string]interface{}) error {
	return errors.New("bad credentials")
}

func TestInitializeAllContinuesPastFailures(t *testing.T) {
	registry := NewRegistry(t.TempDir())
	registry.Register(&brokenIntegration{}, nil)

	healthy := newWebhookIntegration("healthy", "https://example.com/hook", nil,
		func(alert *model.Alert) (interface{}, error) { return alert, nil })
	registry.Register(healthy, map[string]interface{}{})

	registry.InitializeAll()

	// 失败的插件被跳过，健康的插件可用
	_, ok := registry.Get("broken")
	assert.False(t, ok)
	plugin, ok := registry.Get("healthy")
	assert.True(t, ok)
	assert.True(t, plugin.HealthCheck(context.Background()))
	assert.Len(t, registry.Notifiers(), 1)
}

func TestRegistryLoadsEnabledChannels(t *testing.T) {
	dir := t.TempDir()
	config := `{
		"slack": {"enabled": true, "webhookUrl": "https://hooks.slack.com/services/T/B/X", "secret": "s1"},
		"n8n": {"enabled": false, "webhookUrl": "https://n8n.example.com/webhook"}
	}`
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "notifiers.json"), []byte(config), 0644))

	registry := NewRegistry(dir)
	registry.InitializeAll()

	_, ok := registry.Get("slack")
	assert.True(t, ok)
	_, ok = registry.Get("n8n")
	assert.False(t, ok)
}

// jsonDecode 解析请求体JSON
func jsonDecode(r *http.Request, into *map[string]interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(into)
}

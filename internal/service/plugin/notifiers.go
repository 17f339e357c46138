/*
 * 通知渠道实现
 * @author: sun977
 * @date: 2025.11.26
 * @description: Slack/GitHub/Datadog/n8n四个渠道的载荷装配。
 */

package plugin

import (
	"fmt"

	"neotasker/internal/model"
)

// NewSlackNotifier 创建Slack通知器(Incoming Webhook)
func NewSlackNotifier(webhookURL string) IntegrationPlugin {
	return newWebhookIntegration("slack", webhookURL, nil, func(alert *model.Alert) (interface{}, error) {
		return map[string]interface{}{
			"text": fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.RuleName, alert.Message),
			"attachments": []map[string]interface{}{
				{
					"color":  severityColor(alert.Severity),
					"fields": alertFields(alert),
				},
			},
		}, nil
	})
}

// NewGitHubNotifier 创建GitHub通知器(repository_dispatch事件)
func NewGitHubNotifier(dispatchURL, token string) IntegrationPlugin {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"Accept":        "application/vnd.github+json",
	}
	return newWebhookIntegration("github", dispatchURL, headers, func(alert *model.Alert) (interface{}, error) {
		return map[string]interface{}{
			"event_type": "neotasker-alert",
			"client_payload": map[string]interface{}{
				"alertId":  alert.AlertID,
				"rule":     alert.RuleName,
				"severity": alert.Severity,
				"message":  alert.Message,
				"metadata": alert.Metadata,
			},
		}, nil
	})
}

// NewDatadogNotifier 创建Datadog通知器(Events API)
func NewDatadogNotifier(eventsURL, apiKey string) IntegrationPlugin {
	headers := map[string]string{
		"DD-API-KEY": apiKey,
	}
	return newWebhookIntegration("datadog", eventsURL, headers, func(alert *model.Alert) (interface{}, error) {
		return map[string]interface{}{
			"title":      fmt.Sprintf("neotasker alert: %s", alert.RuleName),
			"text":       alert.Message,
			"alert_type": datadogAlertType(alert.Severity),
			"tags": []string{
				"source:neotasker",
				"rule:" + alert.RuleName,
				"severity:" + string(alert.Severity),
			},
		}, nil
	})
}

// NewN8NNotifier 创建n8n通知器(工作流Webhook触发)
func NewN8NNotifier(webhookURL string) IntegrationPlugin {
	return newWebhookIntegration("n8n", webhookURL, nil, func(alert *model.Alert) (interface{}, error) {
		return map[string]interface{}{
			"alertId":  alert.AlertID,
			"rule":     alert.RuleName,
			"severity": alert.Severity,
			"message":  alert.Message,
			"metadata": alert.Metadata,
		}, nil
	})
}

// severityColor Slack附件颜色
func severityColor(severity model.AlertSeverity) string {
	switch severity {
	case model.SeverityCritical:
		return "#d63031"
	case model.SeverityWarning:
		return "#fdcb6e"
	default:
		return "#74b9ff"
	}
}

// datadogAlertType Datadog事件级别
func datadogAlertType(severity model.AlertSeverity) string {
	switch severity {
	case model.SeverityCritical:
		return "error"
	case model.SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// alertFields Slack字段列表
func alertFields(alert *model.Alert) []map[string]interface{} {
	return []map[string]interface{}{
		{"title": "Alert ID", "value": alert.AlertID, "short": true},
		{"title": "Severity", "value": string(alert.Severity), "short": true},
	}
}

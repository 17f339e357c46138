// 通用ID生成工具
package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateUUID 生成标准UUID字符串
func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateCorrelationID 生成消息关联ID
// 贯穿任务委派、执行、结果回传的全链路追踪标识
func GenerateCorrelationID() string {
	return uuid.New().String()
}

// GenerateTaskID 生成任务ID
func GenerateTaskID() string {
	return fmt.Sprintf("task-%s", uuid.New().String())
}

// GenerateAlertID 生成告警ID
// 格式：alert-<毫秒时间戳>-<短随机段>，便于按时间排查
func GenerateAlertID() string {
	return fmt.Sprintf("alert-%d-%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

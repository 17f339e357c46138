// 告警模型
package model

import (
	"time"

	basemodel "neotasker/internal/model/basemodel"
)

// AlertSeverity 告警级别枚举
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Alert 告警记录
// 先持久化，再广播，最后外发通知，顺序固定
type Alert struct {
	basemodel.BaseModel
	AlertID    string        `json:"alert_id" gorm:"uniqueIndex;size:64;not null;comment:告警ID"`
	RuleName   string        `json:"rule_name" gorm:"index;size:64;not null;comment:触发的规则名"`
	Severity   AlertSeverity `json:"severity" gorm:"size:16;index;not null;comment:告警级别"`
	Message    string        `json:"message" gorm:"type:text;not null;comment:告警内容"`
	Source     string        `json:"source" gorm:"size:64;comment:告警来源组件"`
	Metadata   JSONMap       `json:"metadata" gorm:"type:json;comment:附加上下文"`
	Resolved   bool          `json:"resolved" gorm:"not null;default:false;comment:是否已解除"`
	ResolvedAt *time.Time    `json:"resolved_at" gorm:"comment:解除时间"`
}

// TableName 指定表名
func (Alert) TableName() string {
	return "alerts"
}

// AlertRule 告警规则定义
// 从规则文件加载，表达式在指标快照上求值
type AlertRule struct {
	Name      string        `json:"name"`      // 规则名，同时作为冷却键
	Metric    string        `json:"metric"`    // 指标名
	Operator  string        `json:"operator"`  // 比较运算符: gt, gte, lt, lte, eq
	Threshold float64       `json:"threshold"` // 触发阈值
	Severity  AlertSeverity `json:"severity"`  // 触发后的告警级别
	Message   string        `json:"message"`   // 告警描述模板
	Cooldown  time.Duration `json:"cooldown"`  // 冷却时长，冷却期内同一规则不重复触发
}

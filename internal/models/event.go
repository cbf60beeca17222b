// internal/models/event.go
package models

import "time"

// 事件类型常量，与后端实际写入的 event_type 字面量保持一致
const (
	EventTypeMove          = "move"
	EventTypeSpeech        = "speech"
	EventTypeRest          = "rest"
	EventTypeCombat        = "combat"
	EventTypeItemUse       = "item_use"
	EventTypeDeath         = "death"
	EventTypeAIDecision    = "ai_decision"
	EventTypeItemPlacement = "item_placement"
)

// 物品投放事件由后端以固定的系统身份写入
const (
	SystemAgentID   = "SYSTEM"
	SystemAgentName = "Research Team"
)

// Event 表示事件日志中的一条历史事件。
// ID 由服务端单调分配，取回后不可变，是去重的唯一依据。
type Event struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id,omitempty"`
	Day       int    `json:"day"`
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute"`
	AgentID   string `json:"agent_id,omitempty"`
	AgentName string `json:"agent_name"`
	EventType string `json:"event_type"`

	// Description 为自由文本，部分事件在其中编码了结构化信息
	// （位置坐标、引用发言），由 internal/decode 负责提取
	Description string `json:"description"`
	Details     string `json:"details,omitempty"`
	Timestamp   string `json:"timestamp"`

	// AI 决策附加数据（导出用）
	AIPromptContent   string `json:"ai_prompt_content,omitempty"`
	AIThinkingProcess string `json:"ai_thinking_process,omitempty"`
	AIDecision        string `json:"ai_decision,omitempty"`
}

// SimHour 返回事件发生时刻折算后的仿真小时数
func (e *Event) SimHour() int {
	return e.Day*24 + e.Hour
}

// 后端事件时间戳的候选格式（Python isoformat 不带时区）
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParsedTimestamp 尽力解析事件时间戳，无法解析时返回零值
func (e *Event) ParsedTimestamp() time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

// EventList 表示一次分页查询的结果
type EventList struct {
	Events         []Event `json:"events"`
	TotalRequested int     `json:"total_requested"`
	Offset         int     `json:"offset"`
}

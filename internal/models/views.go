// internal/models/views.go
package models

import "time"

// TrajectoryPoint 表示智能体移动轨迹上的一个点
type TrajectoryPoint struct {
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Timestamp time.Time `json:"timestamp"`
	Day       int       `json:"day"`
	Hour      int       `json:"hour"`
	Minute    int       `json:"minute"`

	// Synthetic 标记该点由客户端对账补入（非服务端记录的移动事件）
	Synthetic bool `json:"synthetic,omitempty"`
}

// SpeechBubble 表示短暂存在的发言气泡，每个智能体至多一个
type SpeechBubble struct {
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Target    string    `json:"target,omitempty"` // 发言对象，无法解析时为空
	Message   string    `json:"message"`
	Position  Position  `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// MilestonePriority 表示里程碑优先级
type MilestonePriority string

const (
	PriorityCritical MilestonePriority = "critical"
	PriorityHigh     MilestonePriority = "high"
	PriorityMedium   MilestonePriority = "medium"
	PriorityLow      MilestonePriority = "low"
)

// Rank 返回用于排序的优先级权重，critical 最大
func (p MilestonePriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Milestone 表示一条已分类的重要事件
type Milestone struct {
	EventID   int64             `json:"event_id"`
	AgentName string            `json:"agent_name"`
	Day       int               `json:"day"`
	Hour      int               `json:"hour"`
	Minute    int               `json:"minute"`
	EventType string            `json:"event_type"`
	Icon      string            `json:"icon"`
	Color     string            `json:"color"`
	Priority  MilestonePriority `json:"priority"`
	Title     string            `json:"title"`
	Summary   string            `json:"summary"`
	IsNew     bool              `json:"is_new"`

	InsertedAt time.Time `json:"-"`
}

// ActiveAgentSignal 表示“当前正在行动的智能体”的尽力判定结果。
// 每次轮询重算，不持久化；Source 指明判定来自哪条路径。
type ActiveAgentSignal struct {
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name,omitempty"`
	Source    string    `json:"source"` // recent_event / round_robin / sim_clock / none
	UpdatedAt time.Time `json:"updated_at"`
}

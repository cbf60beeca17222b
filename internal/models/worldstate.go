// internal/models/worldstate.go
package models

import "sort"

// Role 表示实验中的角色类型
type Role string

const (
	RoleGuard    Role = "Guard"
	RolePrisoner Role = "Prisoner"
)

// Position 表示地图坐标，后端序列化为 [x, y] 数组
type Position [2]int

// X 返回横坐标
func (p Position) X() int { return p[0] }

// Y 返回纵坐标
func (p Position) Y() int { return p[1] }

// AgentTraits 表示智能体的五项性格特质（0-100）
type AgentTraits struct {
	Aggression int `json:"aggression"`
	Empathy    int `json:"empathy"`
	Logic      int `json:"logic"`
	Obedience  int `json:"obedience"`
	Resilience int `json:"resilience"`
}

// Relationship 表示智能体对另一个智能体的关系评价
type Relationship struct {
	Score   int    `json:"score"` // 0-100
	Context string `json:"context"`
}

// Item 表示物品
type Item struct {
	ItemID      string `json:"item_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ItemType    string `json:"item_type"`
}

// Objective 表示智能体目标
type Objective struct {
	ObjectiveID        string         `json:"objective_id"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	Type               string         `json:"type"` // Role, Individual, Secret, Emergent, Manual
	CompletionCriteria map[string]any `json:"completion_criteria,omitempty"`
	Reward             map[string]any `json:"reward,omitempty"`
	Priority           int            `json:"priority,omitempty"`
	IsCompleted        bool           `json:"is_completed"`
}

// Agent 表示一个仿真智能体，由 WorldState 独占持有
type Agent struct {
	AgentID string      `json:"agent_id"`
	Name    string      `json:"name"`
	Role    Role        `json:"role"`
	Persona string      `json:"persona,omitempty"`
	Traits  AgentTraits `json:"traits"`

	// 状态数值
	HP           int `json:"hp"`            // 0-100
	Sanity       int `json:"sanity"`        // 0-100
	Hunger       int `json:"hunger"`        // 0-100
	Thirst       int `json:"thirst"`        // 0-100
	Strength     int `json:"strength"`      // 0-100
	ActionPoints int `json:"action_points"` // 0-3

	Position   Position `json:"position"`
	Inventory  []Item   `json:"inventory"`
	StatusTags []string `json:"status_tags"`

	// 心智
	Objectives    []Objective             `json:"objectives"`
	Relationships map[string]Relationship `json:"relationships"`
	Memory        map[string][]string     `json:"memory"` // core / episodic
}

// GameMap 表示监狱地图元数据
type GameMap struct {
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Cells  map[string]string `json:"cells"` // "x,y" -> 单元格类型
	Items  map[string][]Item `json:"items,omitempty"`
}

// PromptRecord 表示后端随快照下发的智能体提示词记录
type PromptRecord struct {
	AgentID         string `json:"agent_id,omitempty"`
	PromptContent   string `json:"prompt_content,omitempty"`
	ThinkingProcess string `json:"thinking_process,omitempty"`
	Decision        string `json:"decision,omitempty"`
	Timestamp       string `json:"timestamp,omitempty"`
}

// WorldState 表示后端推送的完整权威世界快照。
// 每次推送整体替换，绝不做部分更新。
type WorldState struct {
	SessionID string `json:"session_id,omitempty"`
	Day       int    `json:"day"`
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute,omitempty"`
	IsRunning bool   `json:"is_running"`

	Agents       map[string]Agent        `json:"agents"`
	GameMap      GameMap                 `json:"game_map"`
	AgentPrompts map[string]PromptRecord `json:"agent_prompts,omitempty"`

	EnvironmentalInjection string   `json:"environmental_injection,omitempty"`
	EventLog               []string `json:"event_log,omitempty"`
}

// Normalize 补齐推送载荷中可能缺失的映射字段
func (w *WorldState) Normalize() {
	if w.Agents == nil {
		w.Agents = map[string]Agent{}
	}
	if w.AgentPrompts == nil {
		w.AgentPrompts = map[string]PromptRecord{}
	}
}

// SimHour 返回折算后的仿真小时数（day*24+hour）
func (w *WorldState) SimHour() int {
	return w.Day*24 + w.Hour
}

// AgentByName 按名字查找智能体
func (w *WorldState) AgentByName(name string) (Agent, bool) {
	for _, a := range w.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// SortedAgents 返回按 agent_id 升序排列的智能体列表，
// 供主动智能体选择器做确定性轮询使用
func (w *WorldState) SortedAgents() []Agent {
	ids := make([]string, 0, len(w.Agents))
	for id := range w.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	agents := make([]Agent, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, w.Agents[id])
	}
	return agents
}

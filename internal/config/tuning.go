// internal/config/tuning.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning 集中存放各视图的轮询节奏与展示参数。
// 默认值即前端原有行为，调整时需保证与后端事件量级匹配。
type Tuning struct {
	TrajectoryPollMs int `json:"trajectory_poll_ms" yaml:"trajectory_poll_ms"`
	SpeechPollMs     int `json:"speech_poll_ms" yaml:"speech_poll_ms"`
	MilestonePollMs  int `json:"milestone_poll_ms" yaml:"milestone_poll_ms"`
	ActivePollMs     int `json:"active_poll_ms" yaml:"active_poll_ms"`

	// 快照变化后补轮询的延迟
	ReconcileDelayMs int `json:"reconcile_delay_ms" yaml:"reconcile_delay_ms"`

	// 发言气泡存活时间
	SpeechTTLSeconds int `json:"speech_ttl_seconds" yaml:"speech_ttl_seconds"`
	// 发言去重键上限（FIFO 淘汰）
	SpeechDedupCap int `json:"speech_dedup_cap" yaml:"speech_dedup_cap"`

	// 里程碑滚动缓冲上限与新条目高亮时长
	MilestoneCap        int `json:"milestone_cap" yaml:"milestone_cap"`
	MilestoneNewSeconds int `json:"milestone_new_seconds" yaml:"milestone_new_seconds"`

	// 主动智能体判定参数
	ActiveEventLimit  int `json:"active_event_limit" yaml:"active_event_limit"`
	ActiveWindowHours int `json:"active_window_hours" yaml:"active_window_hours"`
	ActiveSwitchPct   int `json:"active_switch_pct" yaml:"active_switch_pct"`
}

// DefaultTuning 返回默认参数
func DefaultTuning() Tuning {
	return Tuning{
		TrajectoryPollMs:    3000,
		SpeechPollMs:        2000,
		MilestonePollMs:     5000,
		ActivePollMs:        5000,
		ReconcileDelayMs:    500,
		SpeechTTLSeconds:    30,
		SpeechDedupCap:      8192,
		MilestoneCap:        50,
		MilestoneNewSeconds: 3,
		ActiveEventLimit:    20,
		ActiveWindowHours:   2,
		ActiveSwitchPct:     30,
	}
}

// LoadTuning 从 YAML 文件加载参数，零值字段回填默认值
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()

	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}

	t.fillDefaults()
	return t, nil
}

func (t *Tuning) fillDefaults() {
	def := DefaultTuning()
	if t.TrajectoryPollMs <= 0 {
		t.TrajectoryPollMs = def.TrajectoryPollMs
	}
	if t.SpeechPollMs <= 0 {
		t.SpeechPollMs = def.SpeechPollMs
	}
	if t.MilestonePollMs <= 0 {
		t.MilestonePollMs = def.MilestonePollMs
	}
	if t.ActivePollMs <= 0 {
		t.ActivePollMs = def.ActivePollMs
	}
	if t.ReconcileDelayMs <= 0 {
		t.ReconcileDelayMs = def.ReconcileDelayMs
	}
	if t.SpeechTTLSeconds <= 0 {
		t.SpeechTTLSeconds = def.SpeechTTLSeconds
	}
	if t.SpeechDedupCap <= 0 {
		t.SpeechDedupCap = def.SpeechDedupCap
	}
	if t.MilestoneCap <= 0 {
		t.MilestoneCap = def.MilestoneCap
	}
	if t.MilestoneNewSeconds <= 0 {
		t.MilestoneNewSeconds = def.MilestoneNewSeconds
	}
	if t.ActiveEventLimit <= 0 {
		t.ActiveEventLimit = def.ActiveEventLimit
	}
	if t.ActiveWindowHours <= 0 {
		t.ActiveWindowHours = def.ActiveWindowHours
	}
	if t.ActiveSwitchPct <= 0 {
		t.ActiveSwitchPct = def.ActiveSwitchPct
	}
}

// TrajectoryPoll 返回轨迹轮询周期
func (t Tuning) TrajectoryPoll() time.Duration {
	return time.Duration(t.TrajectoryPollMs) * time.Millisecond
}

// SpeechPoll 返回发言轮询周期
func (t Tuning) SpeechPoll() time.Duration {
	return time.Duration(t.SpeechPollMs) * time.Millisecond
}

// MilestonePoll 返回里程碑轮询周期
func (t Tuning) MilestonePoll() time.Duration {
	return time.Duration(t.MilestonePollMs) * time.Millisecond
}

// ActivePoll 返回主动智能体轮询周期
func (t Tuning) ActivePoll() time.Duration {
	return time.Duration(t.ActivePollMs) * time.Millisecond
}

// ReconcileDelay 返回快照变化后补轮询延迟
func (t Tuning) ReconcileDelay() time.Duration {
	return time.Duration(t.ReconcileDelayMs) * time.Millisecond
}

// SpeechTTL 返回发言气泡存活时间
func (t Tuning) SpeechTTL() time.Duration {
	return time.Duration(t.SpeechTTLSeconds) * time.Second
}

// MilestoneNewFor 返回新里程碑高亮时长
func (t Tuning) MilestoneNewFor() time.Duration {
	return time.Duration(t.MilestoneNewSeconds) * time.Second
}

// internal/views/active/selector.go

// Package active 尽力判定“当前正在行动的智能体”。
// 后端没有这个字段，判定结果是启发式的，不具权威性。
package active

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/eventlog"
	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/worldstate"
)

// 判定来源
const (
	SourceRecentEvent = "recent_event"
	SourceRoundRobin  = "round_robin"
	SourceSimClock    = "sim_clock"
	SourceNone        = "none"
)

// 不算智能体的伪主体：物品投放等系统事件以固定身份写入
var pseudoActors = map[string]bool{
	models.SystemAgentID:   true,
	models.SystemAgentName: true,
}

// EventFetcher 是活跃判定对事件日志客户端的最小依赖
type EventFetcher interface {
	Fetch(ctx context.Context, f eventlog.Filters) ([]models.Event, error)
}

// Selector 维护当前活跃智能体的判定。
// 主路径看最近事件，失败退化为按轮询计数的轮转；
// 次路径在仿真时间前进时按时钟重算，概率性切换以免与主路径互相拉扯。
type Selector struct {
	mutex   sync.RWMutex
	fetcher EventFetcher
	store   *worldstate.Store
	tuning  config.Tuning

	current     models.ActiveAgentSignal
	pollCount   int
	lastSimHour int
	unsubscribe func()

	// 概率切换的随机源与时钟，测试注入
	pct func() int // [0,100)
	now func() time.Time
}

// NewSelector 创建活跃智能体判定器
func NewSelector(fetcher EventFetcher, store *worldstate.Store, tuning config.Tuning) *Selector {
	return &Selector{
		fetcher:     fetcher,
		store:       store,
		tuning:      tuning,
		current:     models.ActiveAgentSignal{Source: SourceNone},
		lastSimHour: -1,
		pct:         func() int { return rand.Intn(100) },
		now:         time.Now,
	}
}

// Start 订阅快照变化并启动轮询循环，直到 ctx 取消
func (s *Selector) Start(ctx context.Context) {
	s.mutex.Lock()
	s.unsubscribe = s.store.Subscribe(func(ws *models.WorldState) {
		s.onSnapshot(ws)
	})
	s.mutex.Unlock()

	if err := s.Poll(ctx); err != nil {
		log.Printf("⚠️ 活跃判定轮询失败（保留上次判定）: %v", err)
	}

	ticker := time.NewTicker(s.tuning.ActivePoll())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			if !s.store.IsRunning() {
				continue
			}
			if err := s.Poll(ctx); err != nil {
				log.Printf("⚠️ 活跃判定轮询失败（保留上次判定）: %v", err)
			}
		}
	}
}

// Stop 注销快照订阅
func (s *Selector) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// Poll 执行一次主路径判定：
// 先找时间窗口内最近的真实智能体事件，找不到则按轮询计数轮转。
// 没有任何智能体时返回“无活跃”，不报错。
func (s *Selector) Poll(ctx context.Context) error {
	events, err := s.fetcher.Fetch(ctx, eventlog.Filters{
		SessionID: s.store.SessionID(),
		Limit:     s.tuning.ActiveEventLimit,
	})
	if err != nil {
		return err
	}

	ws := s.store.Get()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pollCount++

	if ws == nil || len(ws.Agents) == 0 {
		s.current = models.ActiveAgentSignal{Source: SourceNone, UpdatedAt: s.now()}
		return nil
	}

	if agent, ok := s.fromRecentEvent(events, ws); ok {
		if agent.AgentID != s.current.AgentID || s.current.Source == SourceNone {
			s.current = models.ActiveAgentSignal{
				AgentID:   agent.AgentID,
				AgentName: agent.Name,
				Source:    SourceRecentEvent,
				UpdatedAt: s.now(),
			}
		}
		return nil
	}

	// 兜底：按轮询计数在有序智能体列表里轮转
	agents := ws.SortedAgents()
	pick := agents[s.pollCount%len(agents)]
	s.current = models.ActiveAgentSignal{
		AgentID:   pick.AgentID,
		AgentName: pick.Name,
		Source:    SourceRoundRobin,
		UpdatedAt: s.now(),
	}
	return nil
}

// fromRecentEvent 在结果集中找仿真时间窗口内最近的真实智能体事件
func (s *Selector) fromRecentEvent(events []models.Event, ws *models.WorldState) (models.Agent, bool) {
	nowHour := ws.SimHour()
	window := s.tuning.ActiveWindowHours

	var best *models.Event
	for i := range events {
		ev := &events[i]
		if pseudoActors[ev.AgentName] || pseudoActors[ev.AgentID] || ev.EventType == models.EventTypeItemPlacement {
			continue
		}
		if nowHour-ev.SimHour() > window || ev.SimHour() > nowHour {
			continue
		}
		if best == nil || ev.ID > best.ID {
			best = ev
		}
	}
	if best == nil {
		return models.Agent{}, false
	}

	if best.AgentID != "" {
		if agent, ok := ws.Agents[best.AgentID]; ok {
			return agent, true
		}
	}
	return ws.AgentByName(best.AgentName)
}

// onSnapshot 是次路径：仿真时间前进时按时钟重算候选。
// 无当前判定时直接切换，否则按概率切换，避免与主路径来回抖动。
func (s *Selector) onSnapshot(ws *models.WorldState) {
	if ws == nil || len(ws.Agents) == 0 {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	simHour := ws.SimHour()
	if simHour == s.lastSimHour {
		return
	}
	s.lastSimHour = simHour

	agents := ws.SortedAgents()
	pick := agents[simHour%len(agents)]
	if pick.AgentID == s.current.AgentID {
		return
	}

	if s.current.Source != SourceNone && s.pct() >= s.tuning.ActiveSwitchPct {
		return
	}

	s.current = models.ActiveAgentSignal{
		AgentID:   pick.AgentID,
		AgentName: pick.Name,
		Source:    SourceSimClock,
		UpdatedAt: s.now(),
	}
}

// Current 返回当前判定结果
func (s *Selector) Current() models.ActiveAgentSignal {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.current
}

// Reset 清空判定状态（会话切换时使用）
func (s *Selector) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.current = models.ActiveAgentSignal{Source: SourceNone}
	s.pollCount = 0
	s.lastSimHour = -1
}

// internal/views/active/selector_test.go
package active

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/eventlog"
	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/worldstate"
)

type fakeFetcher struct {
	mutex  sync.Mutex
	events []models.Event
}

func (f *fakeFetcher) Fetch(_ context.Context, _ eventlog.Filters) ([]models.Event, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := make([]models.Event, len(f.events))
	copy(out, f.events)
	return out, nil
}

func storeWithAgents(day, hour, count int) *worldstate.Store {
	agents := make(map[string]models.Agent, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("a%d", i)
		agents[id] = models.Agent{AgentID: id, Name: "N" + id}
	}
	ws := &models.WorldState{SessionID: "s-1", Day: day, Hour: hour, IsRunning: true, Agents: agents}
	ws.Normalize()
	store := worldstate.NewStore()
	store.Replace(ws)
	return store
}

func TestRecentEventWinsOverFallback(t *testing.T) {
	store := storeWithAgents(1, 10, 3) // 仿真时刻 34
	fetcher := &fakeFetcher{events: []models.Event{
		{ID: 1, AgentID: "a0", AgentName: "Na0", EventType: models.EventTypeMove, Day: 1, Hour: 9},
		{ID: 2, AgentID: "a2", AgentName: "Na2", EventType: models.EventTypeSpeech, Day: 1, Hour: 10},
	}}

	s := NewSelector(fetcher, store, config.DefaultTuning())
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	cur := s.Current()
	if cur.AgentID != "a2" || cur.Source != SourceRecentEvent {
		t.Errorf("got %s/%s, want a2 via recent_event", cur.AgentID, cur.Source)
	}
}

func TestPseudoActorsAndPlacementsAreIgnored(t *testing.T) {
	store := storeWithAgents(1, 10, 2)
	fetcher := &fakeFetcher{events: []models.Event{
		{ID: 1, AgentID: models.SystemAgentID, AgentName: models.SystemAgentName,
			EventType: models.EventTypeItemPlacement, Day: 1, Hour: 10},
		{ID: 2, AgentName: models.SystemAgentName, EventType: models.EventTypeSpeech, Day: 1, Hour: 10},
		{ID: 3, AgentID: "a1", AgentName: "Na1", EventType: models.EventTypeItemPlacement, Day: 1, Hour: 10},
	}}

	s := NewSelector(fetcher, store, config.DefaultTuning())
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// 全部被排除，退化为轮转
	if cur := s.Current(); cur.Source != SourceRoundRobin {
		t.Errorf("source = %s, want round_robin fallback", cur.Source)
	}
}

func TestSystemPlacementDoesNotShadowAgentEvent(t *testing.T) {
	store := storeWithAgents(1, 10, 3)
	// 后端投放事件的 ID 更新，但不得压过真实智能体的发言
	fetcher := &fakeFetcher{events: []models.Event{
		{ID: 5, AgentID: "a1", AgentName: "Na1", EventType: models.EventTypeSpeech, Day: 1, Hour: 10},
		{ID: 6, AgentID: models.SystemAgentID, AgentName: models.SystemAgentName,
			EventType: models.EventTypeItemPlacement, Day: 1, Hour: 10},
	}}

	s := NewSelector(fetcher, store, config.DefaultTuning())
	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	cur := s.Current()
	if cur.AgentID != "a1" || cur.Source != SourceRecentEvent {
		t.Errorf("got %s/%s, want a1 via recent_event", cur.AgentID, cur.Source)
	}
}

func TestStaleEventsFallBackToRoundRobin(t *testing.T) {
	store := storeWithAgents(2, 5, 4)
	// 事件在时间窗口（2 小时）之外
	fetcher := &fakeFetcher{events: []models.Event{
		{ID: 1, AgentID: "a0", AgentName: "Na0", EventType: models.EventTypeMove, Day: 1, Hour: 3},
	}}

	s := NewSelector(fetcher, store, config.DefaultTuning())
	ctx := context.Background()

	// 第一次轮询 pollCount=1 → a1，第二次 → a2
	if err := s.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if cur := s.Current(); cur.AgentID != "a1" || cur.Source != SourceRoundRobin {
		t.Errorf("poll 1: got %s/%s, want a1 via round_robin", cur.AgentID, cur.Source)
	}

	if err := s.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if cur := s.Current(); cur.AgentID != "a2" {
		t.Errorf("poll 2: got %s, want a2", cur.AgentID)
	}
}

func TestSimClockSelectionIsDeterministic(t *testing.T) {
	// day=2, hour=5，4 个智能体：(2*24+5) mod 4 = 1
	store := storeWithAgents(2, 5, 4)
	s := NewSelector(&fakeFetcher{}, store, config.DefaultTuning())

	s.onSnapshot(store.Get())

	cur := s.Current()
	if cur.AgentID != "a1" || cur.Source != SourceSimClock {
		t.Errorf("got %s/%s, want a1 via sim_clock", cur.AgentID, cur.Source)
	}
}

func TestSimClockSwitchIsProbabilisticWhenSelected(t *testing.T) {
	store := storeWithAgents(2, 5, 4)
	tuning := config.DefaultTuning()

	s := NewSelector(&fakeFetcher{}, store, tuning)
	s.current = models.ActiveAgentSignal{AgentID: "a0", Source: SourceRecentEvent}

	// 随机值落在阈值之上：不切换
	s.pct = func() int { return tuning.ActiveSwitchPct }
	s.onSnapshot(store.Get())
	if cur := s.Current(); cur.AgentID != "a0" {
		t.Errorf("above threshold must keep selection, got %s", cur.AgentID)
	}

	// 时间没前进就不重算，先推进仿真时间
	next := storeWithAgents(2, 6, 4) // (2*24+6) mod 4 = 2
	s.pct = func() int { return tuning.ActiveSwitchPct - 1 }
	s.onSnapshot(next.Get())
	if cur := s.Current(); cur.AgentID != "a2" || cur.Source != SourceSimClock {
		t.Errorf("below threshold must switch, got %s/%s", cur.AgentID, cur.Source)
	}
}

func TestNoAgentsYieldsNoActiveSignal(t *testing.T) {
	store := storeWithAgents(1, 0, 0)
	s := NewSelector(&fakeFetcher{}, store, config.DefaultTuning())

	if err := s.Poll(context.Background()); err != nil {
		t.Fatalf("Poll must not error with zero agents: %v", err)
	}
	if cur := s.Current(); cur.Source != SourceNone || cur.AgentID != "" {
		t.Errorf("got %s/%s, want empty none signal", cur.AgentID, cur.Source)
	}

	// 次路径同样不得出错
	s.onSnapshot(store.Get())
}

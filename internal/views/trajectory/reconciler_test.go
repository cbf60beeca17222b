// internal/views/trajectory/reconciler_test.go
package trajectory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/eventlog"
	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/worldstate"
)

type fakeFetcher struct {
	mutex  sync.Mutex
	events []models.Event
	calls  int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ eventlog.Filters) ([]models.Event, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls++
	out := make([]models.Event, len(f.events))
	copy(out, f.events)
	return out, nil
}

func (f *fakeFetcher) callCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls
}

func moveEvent(id int64, agentID, name, desc, ts string) models.Event {
	return models.Event{
		ID:          id,
		AgentID:     agentID,
		AgentName:   name,
		EventType:   models.EventTypeMove,
		Description: desc,
		Timestamp:   ts,
		Day:         1,
		Hour:        8,
	}
}

func testTuning() config.Tuning {
	t := config.DefaultTuning()
	t.ReconcileDelayMs = 10
	return t
}

func snapshotWith(positions map[string]models.Position) *models.WorldState {
	agents := make(map[string]models.Agent, len(positions))
	i := 0
	for id, pos := range positions {
		agents[id] = models.Agent{AgentID: id, Name: "N" + id, Position: pos}
		i++
	}
	ws := &models.WorldState{SessionID: "s-1", Day: 1, Hour: 9, IsRunning: true, Agents: agents}
	ws.Normalize()
	return ws
}

func TestPollRebuildsSortedTrajectoryEndingAtLivePosition(t *testing.T) {
	fetcher := &fakeFetcher{events: []models.Event{
		// 服务端返回不保证时间顺序
		moveEvent(3, "a1", "P1", "P1 moved to (5, 5)", "2026-08-30T08:03:00"),
		moveEvent(1, "a1", "P1", "P1 moved to (1, 1)", "2026-08-30T08:01:00"),
		moveEvent(2, "a1", "P1", "P1 moved to (3, 3)", "2026-08-30T08:02:00"),
		moveEvent(4, "a1", "P1", "P1 is resting", "2026-08-30T08:04:00"), // 无坐标，丢弃
	}}

	store := worldstate.NewStore()
	store.Replace(snapshotWith(map[string]models.Position{"a1": {7, 7}}))

	r := NewReconciler(fetcher, store, testTuning())
	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	points := r.Trajectory("a1")
	if len(points) != 4 {
		t.Fatalf("got %d points, want 4 (3 decoded + 1 synthetic)", len(points))
	}

	wantCoords := [][2]int{{1, 1}, {3, 3}, {5, 5}, {7, 7}}
	for i, want := range wantCoords {
		if points[i].X != want[0] || points[i].Y != want[1] {
			t.Errorf("point %d = (%d,%d), want (%d,%d)", i, points[i].X, points[i].Y, want[0], want[1])
		}
	}

	// 时间单调不减
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Errorf("timestamps not monotonic at %d", i)
		}
	}

	if !points[3].Synthetic {
		t.Error("final reconciliation point must be marked synthetic")
	}
}

func TestSyntheticPointNeverPrecedesLastEvent(t *testing.T) {
	fetcher := &fakeFetcher{events: []models.Event{
		moveEvent(1, "a1", "P1", "P1 moved to (1, 1)", "2026-08-30T08:01:00"),
		moveEvent(2, "a1", "P1", "P1 moved to (3, 3)", "2026-08-30T08:03:00"),
	}}

	store := worldstate.NewStore()
	store.Replace(snapshotWith(map[string]models.Position{"a1": {7, 7}}))

	r := NewReconciler(fetcher, store, testTuning())
	// 本地时钟落后于事件时间（后端 isoformat 无时区信息）
	skewed := time.Date(2026, 8, 30, 4, 59, 0, 0, time.UTC)
	r.now = func() time.Time { return skewed }

	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	points := r.Trajectory("a1")
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Errorf("timestamps not monotonic at %d", i)
		}
	}

	last := points[len(points)-1]
	if !last.Synthetic || last.Timestamp.Before(points[len(points)-2].Timestamp) {
		t.Errorf("synthetic stamp %v precedes event stamp %v",
			last.Timestamp, points[len(points)-2].Timestamp)
	}

	// 快照反应路径同样不得回退时间
	r.onSnapshot(context.Background(), snapshotWith(map[string]models.Position{"a1": {8, 8}}))
	points = r.Trajectory("a1")
	for i := 1; i < len(points); i++ {
		if points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Errorf("post-snapshot timestamps not monotonic at %d", i)
		}
	}
}

func TestPollElidesConsecutiveDuplicates(t *testing.T) {
	fetcher := &fakeFetcher{events: []models.Event{
		moveEvent(1, "a1", "P1", "moved to (1, 1)", "2026-08-30T08:01:00"),
		moveEvent(2, "a1", "P1", "moved to (1, 1)", "2026-08-30T08:02:00"),
		moveEvent(3, "a1", "P1", "moved to (2, 2)", "2026-08-30T08:03:00"),
	}}

	store := worldstate.NewStore()
	store.Replace(snapshotWith(map[string]models.Position{"a1": {2, 2}}))

	r := NewReconciler(fetcher, store, testTuning())
	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	points := r.Trajectory("a1")
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2 after elision", len(points))
	}
}

func TestPollSeedsAgentsWithoutEvents(t *testing.T) {
	fetcher := &fakeFetcher{}

	store := worldstate.NewStore()
	store.Replace(snapshotWith(map[string]models.Position{"a1": {4, 2}}))

	r := NewReconciler(fetcher, store, testTuning())
	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	points := r.Trajectory("a1")
	if len(points) != 1 {
		t.Fatalf("got %d points, want seed point", len(points))
	}
	if points[0].X != 4 || points[0].Y != 2 {
		t.Errorf("seed = (%d,%d), want (4,2)", points[0].X, points[0].Y)
	}
}

func TestSnapshotReactionAppendsSyntheticAndRepolls(t *testing.T) {
	fetcher := &fakeFetcher{events: []models.Event{
		moveEvent(1, "a1", "P1", "moved to (1, 1)", "2026-08-30T08:01:00"),
	}}

	store := worldstate.NewStore()
	store.Replace(snapshotWith(map[string]models.Position{"a1": {1, 1}}))

	r := NewReconciler(fetcher, store, testTuning())
	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	base := fetcher.callCount()

	// 位置变化的快照触发就地补点
	r.onSnapshot(context.Background(), snapshotWith(map[string]models.Position{"a1": {6, 6}}))

	points := r.Trajectory("a1")
	last := points[len(points)-1]
	if last.X != 6 || last.Y != 6 || !last.Synthetic {
		t.Fatalf("expected synthetic point at (6,6), got %+v", last)
	}

	// 延迟补轮询应随后触发
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if fetcher.callCount() > base {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("follow-up poll did not run")
}

func TestIdenticalSnapshotsProduceNoMutations(t *testing.T) {
	fetcher := &fakeFetcher{events: []models.Event{
		moveEvent(1, "a1", "P1", "moved to (2, 2)", "2026-08-30T08:01:00"),
	}}

	store := worldstate.NewStore()
	store.Replace(snapshotWith(map[string]models.Position{"a1": {2, 2}}))

	r := NewReconciler(fetcher, store, testTuning())
	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	before := r.Trajectory("a1")

	same := snapshotWith(map[string]models.Position{"a1": {2, 2}})
	r.onSnapshot(context.Background(), same)
	r.onSnapshot(context.Background(), same)

	after := r.Trajectory("a1")
	if len(after) != len(before) {
		t.Errorf("no-op snapshots mutated trajectory: %d -> %d points", len(before), len(after))
	}
}

func TestTrajectoryByNameResolvesToAgentID(t *testing.T) {
	fetcher := &fakeFetcher{events: []models.Event{
		// 事件不带 agent_id，只有名字：靠快照解析
		{ID: 1, AgentName: "Na1", EventType: models.EventTypeMove,
			Description: "moved to (9, 9)", Timestamp: "2026-08-30T08:01:00"},
	}}

	store := worldstate.NewStore()
	store.Replace(snapshotWith(map[string]models.Position{"a1": {9, 9}}))

	r := NewReconciler(fetcher, store, testTuning())
	if err := r.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	byName := r.TrajectoryByName("Na1")
	byID := r.Trajectory("a1")
	if len(byName) == 0 || len(byName) != len(byID) {
		t.Errorf("name lookup (%d points) should match id lookup (%d points)", len(byName), len(byID))
	}
}

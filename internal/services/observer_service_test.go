// internal/services/observer_service_test.go
package services

import (
	"context"
	"os"
	"testing"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/storage"
	"github.com/Corphon/PrometheusObserver/internal/utils"
)

func newTestObserver(t *testing.T) *ObserverService {
	t.Helper()
	cfg := &config.AppConfig{
		BackendBaseURL: "http://127.0.0.1:0",
		BackendWSURL:   "ws://127.0.0.1:0/ws",
		DataDir:        t.TempDir(),
	}
	return NewObserverService(cfg, config.DefaultTuning(), nil)
}

// TestStatusReflectsStoreState 状态汇总跟随权威快照
func TestStatusReflectsStoreState(t *testing.T) {
	s := newTestObserver(t)

	status := s.Status()
	if status["session_id"] != "" {
		t.Errorf("初始会话应为空，实际: %v", status["session_id"])
	}
	if status["is_running"] != false {
		t.Error("初始运行标志应为false")
	}
	if status["polling"] != false {
		t.Error("未启动时轮询标志应为false")
	}

	s.Store.Replace(&models.WorldState{SessionID: "s-7", IsRunning: true})

	status = s.Status()
	if status["session_id"] != "s-7" {
		t.Errorf("会话应为s-7，实际: %v", status["session_id"])
	}
	if status["is_running"] != true {
		t.Error("运行标志应为true")
	}
}

// TestSnapshotNowRequiresWorldState 未收到快照时按需写盘报错
func TestSnapshotNowRequiresWorldState(t *testing.T) {
	s := newTestObserver(t)

	if _, err := s.SnapshotNow(); err == nil {
		t.Fatal("无快照时应返回错误")
	}

	// 缺少会话标识也拒绝
	s.Store.Replace(&models.WorldState{Day: 1})
	if _, err := s.SnapshotNow(); err == nil {
		t.Fatal("缺少会话标识应返回错误")
	}
}

// TestSnapshotNowWritesFile 按需快照写盘并可读回
func TestSnapshotNowWritesFile(t *testing.T) {
	s := newTestObserver(t)

	s.Store.Replace(&models.WorldState{
		SessionID: "s-9",
		Day:       1,
		Hour:      6,
		Agents: map[string]models.Agent{
			"a1": {AgentID: "a1", Name: "G1", Role: models.RoleGuard},
		},
	})

	path, err := s.SnapshotNow()
	if err != nil {
		t.Fatalf("按需快照失败: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("快照文件应存在: %v", err)
	}

	ws, err := storage.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("快照读回失败: %v", err)
	}
	if ws.SessionID != "s-9" || ws.SimHour() != 30 {
		t.Errorf("快照内容不正确: session=%s simHour=%d", ws.SessionID, ws.SimHour())
	}
}

// TestViewPollsFeedMetrics 派生视图的每次轮询都计入指标
func TestViewPollsFeedMetrics(t *testing.T) {
	s := newTestObserver(t)

	collector := utils.GetMetricsCollector()
	cyclesBefore := collector.GetCounterValue("poll_cycles_milestone")
	errorsBefore := collector.GetCounterValue("poll_errors_milestone")

	// 后端不可达：轮询失败同样要计数
	if err := s.Milestone.Poll(context.Background()); err == nil {
		t.Fatal("不可达的后端应返回错误")
	}

	if got := collector.GetCounterValue("poll_cycles_milestone"); got != cyclesBefore+1 {
		t.Errorf("轮询计数应加一: %d -> %d", cyclesBefore, got)
	}
	if got := collector.GetCounterValue("poll_errors_milestone"); got != errorsBefore+1 {
		t.Errorf("轮询错误计数应加一: %d -> %d", errorsBefore, got)
	}
}

// TestStartStopLifecycle 启动与停止是幂等的
func TestStartStopLifecycle(t *testing.T) {
	s := newTestObserver(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	if !s.IsRunningLoop() {
		t.Fatal("启动后轮询标志应为true")
	}

	// 重复启动无副作用
	if err := s.Start(ctx); err != nil {
		t.Fatalf("重复启动失败: %v", err)
	}

	s.Stop()
	if s.IsRunningLoop() {
		t.Fatal("停止后轮询标志应为false")
	}

	// 重复停止无副作用
	s.Stop()
}

// TestSessionChangeResetsDerivedViews 会话切换清空派生视图
func TestSessionChangeResetsDerivedViews(t *testing.T) {
	s := newTestObserver(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer s.Stop()

	s.Store.Replace(&models.WorldState{
		SessionID: "s-1",
		Agents:    map[string]models.Agent{"a1": {AgentID: "a1", Name: "P1"}},
	})

	// 切换会话后主动信号回到初始状态
	s.Store.Replace(&models.WorldState{
		SessionID: "s-2",
		Agents:    map[string]models.Agent{"a1": {AgentID: "a1", Name: "P1"}},
	})

	if s.Milestone.Watermark() != 0 {
		t.Error("会话切换后里程碑水位应归零")
	}
	if len(s.Speech.Bubbles()) != 0 {
		t.Error("会话切换后不应残留气泡")
	}
}

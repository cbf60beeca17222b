// internal/services/observer_service.go

// Package services 组织观测端的业务逻辑层，
// 由依赖注入容器装配，API 层只取用不创建。
package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/eventlog"
	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/storage"
	"github.com/Corphon/PrometheusObserver/internal/utils"
	"github.com/Corphon/PrometheusObserver/internal/views/active"
	"github.com/Corphon/PrometheusObserver/internal/views/milestone"
	"github.com/Corphon/PrometheusObserver/internal/views/speech"
	"github.com/Corphon/PrometheusObserver/internal/views/trajectory"
	"github.com/Corphon/PrometheusObserver/internal/worldstate"
)

// 归档镜像轮询的单次取回上限
const mirrorFetchLimit = 500

// ObserverService 是观测端的核心服务：
// 持有推送通道与权威快照，驱动四个派生视图，
// 并把事件与快照镜像到本地存储。
type ObserverService struct {
	mutex sync.Mutex

	Store   *worldstate.Store
	Channel *worldstate.Channel
	Client  *eventlog.Client

	Trajectory *trajectory.Reconciler
	Speech     *speech.Watcher
	Milestone  *milestone.Aggregator
	Active     *active.Selector

	archive     *storage.Archive
	snapshotDir string
	tuning      config.Tuning
	metrics     *utils.ObserverMetrics

	cancel        context.CancelFunc
	running       bool
	lastSessionID string
	lastSnapHour  int
	lastRunning   bool
	unsubscribe   func()
}

// meteredFetcher 在事件取回外包一层指标记录。
// 每个派生视图的轮询周期恰好对应一次取回，取回耗时即轮询耗时。
type meteredFetcher struct {
	view    string
	client  *eventlog.Client
	metrics *utils.ObserverMetrics
}

func (m *meteredFetcher) Fetch(ctx context.Context, f eventlog.Filters) ([]models.Event, error) {
	start := time.Now()
	events, err := m.client.Fetch(ctx, f)
	m.metrics.RecordPollCycle(m.view, time.Since(start), err)
	return events, err
}

// NewObserverService 装配观测服务及其全部派生视图
func NewObserverService(cfg *config.AppConfig, tuning config.Tuning, archive *storage.Archive) *ObserverService {
	store := worldstate.NewStore()
	client := eventlog.NewClient(cfg.BackendBaseURL)
	metrics := utils.NewObserverMetrics()
	meter := func(view string) *meteredFetcher {
		return &meteredFetcher{view: view, client: client, metrics: metrics}
	}

	s := &ObserverService{
		Store:        store,
		Channel:      worldstate.NewChannel(cfg.BackendWSURL, store),
		Client:       client,
		Trajectory:   trajectory.NewReconciler(meter("trajectory"), store, tuning),
		Speech:       speech.NewWatcher(meter("speech"), store, tuning),
		Milestone:    milestone.NewAggregator(meter("milestone"), store, tuning),
		Active:       active.NewSelector(meter("active"), store, tuning),
		archive:      archive,
		snapshotDir:  filepath.Join(cfg.DataDir, "snapshots"),
		tuning:       tuning,
		metrics:      metrics,
		lastSnapHour: -1,
	}
	return s
}

// Connect 建立到后端的推送连接。断开后不自动重连，由调用方显式重建。
func (s *ObserverService) Connect() error {
	return s.Channel.Connect()
}

// Disconnect 关闭推送连接
func (s *ObserverService) Disconnect() {
	s.Channel.Disconnect()
}

// Start 启动全部轮询循环与落盘协程。重复调用是幂等的。
func (s *ObserverService) Start(parent context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.running = true

	// 会话切换时整体重置派生视图，避免跨会话串数据
	s.unsubscribe = s.Store.Subscribe(func(ws *models.WorldState) {
		s.onSnapshot(ws)
	})
	s.mutex.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { s.Trajectory.Start(ctx); return nil })
	g.Go(func() error { s.Speech.Start(ctx); return nil })
	g.Go(func() error { s.Milestone.Start(ctx); return nil })
	g.Go(func() error { s.Active.Start(ctx); return nil })
	if s.archive != nil {
		g.Go(func() error { s.mirrorLoop(ctx); return nil })
	}

	go func() {
		_ = g.Wait()
		log.Println("⏹️ 观测轮询循环全部退出")
	}()

	log.Println("▶️ 观测服务已启动")
	return nil
}

// Stop 停止全部轮询循环
func (s *ObserverService) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.running {
		return
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.cancel()
	s.running = false
	log.Println("🛑 观测服务已停止")
}

// ResetViews 清空全部派生视图状态
func (s *ObserverService) ResetViews() {
	s.Trajectory.Reset()
	s.Speech.Reset()
	s.Milestone.Reset()
	s.Active.Reset()
}

// onSnapshot 处理会话切换与快照落盘
func (s *ObserverService) onSnapshot(ws *models.WorldState) {
	if ws == nil {
		return
	}
	s.metrics.RecordSnapshotApplied(len(ws.Agents))

	s.mutex.Lock()
	sessionChanged := s.lastSessionID != "" && ws.SessionID != "" && ws.SessionID != s.lastSessionID
	if ws.SessionID != "" {
		s.lastSessionID = ws.SessionID
	}

	// 仿真小时推进或实验停止时落一次盘
	simHour := ws.SimHour()
	justStopped := s.lastRunning && !ws.IsRunning
	s.lastRunning = ws.IsRunning
	takeSnapshot := s.snapshotDir != "" && ws.SessionID != "" &&
		(simHour != s.lastSnapHour || justStopped)
	if takeSnapshot {
		s.lastSnapHour = simHour
	}
	s.mutex.Unlock()

	if sessionChanged {
		log.Printf("🔄 会话切换，重置派生视图: %s", ws.SessionID)
		s.ResetViews()
	}

	if takeSnapshot {
		path := storage.SnapshotPath(s.snapshotDir, ws.SessionID, simHour)
		if err := storage.WriteSnapshot(path, ws); err != nil {
			log.Printf("⚠️ 快照写盘失败: %v", err)
			return
		}
		if s.archive != nil {
			if err := s.archive.RecordSnapshot(ws.SessionID, simHour, path, len(ws.Agents)); err != nil {
				log.Printf("⚠️ 快照登记失败: %v", err)
			}
		}
	}
}

// SnapshotNow 立即把当前世界快照写盘，返回文件路径
func (s *ObserverService) SnapshotNow() (string, error) {
	ws := s.Store.Get()
	if ws == nil {
		return "", fmt.Errorf("尚未收到任何世界快照")
	}
	if ws.SessionID == "" {
		return "", fmt.Errorf("快照缺少会话标识")
	}

	path := storage.SnapshotPath(s.snapshotDir, ws.SessionID, ws.SimHour())
	if err := storage.WriteSnapshot(path, ws); err != nil {
		return "", err
	}
	if s.archive != nil {
		if err := s.archive.RecordSnapshot(ws.SessionID, ws.SimHour(), path, len(ws.Agents)); err != nil {
			log.Printf("⚠️ 快照登记失败: %v", err)
		}
	}
	return path, nil
}

// mirrorLoop 周期性把服务端事件镜像进本地归档。
// 归档按 (会话,事件ID) 去重，重复取回无害。
func (s *ObserverService) mirrorLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tuning.MilestonePoll())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessionID := s.Store.SessionID()
			if sessionID == "" || !s.Store.IsRunning() {
				continue
			}
			events, err := s.Client.Fetch(ctx, eventlog.Filters{
				SessionID: sessionID,
				Limit:     mirrorFetchLimit,
			})
			if err != nil {
				log.Printf("⚠️ 事件镜像取回失败: %v", err)
				continue
			}
			for _, ev := range events {
				s.archive.Record(sessionID, ev)
			}
		}
	}
}

// StartExperiment 请求后端启动实验。
// 推送连接可用时走通道命令，否则退回 REST。
func (s *ObserverService) StartExperiment(ctx context.Context, cfg eventlog.ExperimentConfig) error {
	if s.Channel.IsConnected() && s.Channel.Send(worldstate.CmdStartExperiment, cfg) {
		return nil
	}
	return s.Client.StartExperiment(ctx, cfg)
}

// StopExperiment 请求后端停止实验
func (s *ObserverService) StopExperiment(ctx context.Context) error {
	if s.Channel.IsConnected() && s.Channel.Send(worldstate.CmdStopExperiment, nil) {
		return nil
	}
	return s.Client.StopExperiment(ctx)
}

// Status 汇总观测端自身的运行状态
func (s *ObserverService) Status() map[string]any {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return map[string]any{
		"channel_state": s.Channel.State().String(),
		"session_id":    s.Store.SessionID(),
		"is_running":    s.Store.IsRunning(),
		"polling":       s.running,
	}
}

// IsRunningLoop 返回轮询循环是否在运行
func (s *ObserverService) IsRunningLoop() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

// Close 停止轮询并断开连接
func (s *ObserverService) Close() error {
	s.Stop()
	s.Disconnect()
	return nil
}

// String 便于日志输出
func (s *ObserverService) String() string {
	return fmt.Sprintf("ObserverService(session=%s)", s.Store.SessionID())
}

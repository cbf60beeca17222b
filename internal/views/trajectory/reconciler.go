// internal/views/trajectory/reconciler.go

// Package trajectory 从历史移动事件重建每个智能体的移动轨迹，
// 并与权威快照中的实时位置保持一致。
package trajectory

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/decode"
	"github.com/Corphon/PrometheusObserver/internal/eventlog"
	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/worldstate"
)

// 单次轮询取回的移动事件上限
const fetchLimit = 500

// EventFetcher 是轨迹视图对事件日志客户端的最小依赖
type EventFetcher interface {
	Fetch(ctx context.Context, f eventlog.Filters) ([]models.Event, error)
}

// Reconciler 维护按 agent_id 键控的轨迹。
// 历史上轨迹按名字分组，名字冲突会把两个智能体的轨迹拼在一起，
// 这里在每次轮询时解析一次 name→id 映射，名字键只作兼容查询。
type Reconciler struct {
	mutex   sync.RWMutex
	fetcher EventFetcher
	store   *worldstate.Store
	tuning  config.Tuning

	trajectories map[string][]models.TrajectoryPoint // agent_id -> 轨迹
	nameToID     map[string]string

	// 对账代次：轮询开始时自增，应用结果时代次已被superseded则丢弃
	generation    uint64
	lastApplied   uint64
	followUp      *time.Timer
	followUpArmed bool
	unsubscribe   func()

	// 供对账补点使用的时钟，测试注入
	now func() time.Time
}

// NewReconciler 创建轨迹对账器
func NewReconciler(fetcher EventFetcher, store *worldstate.Store, tuning config.Tuning) *Reconciler {
	return &Reconciler{
		fetcher:      fetcher,
		store:        store,
		tuning:       tuning,
		trajectories: make(map[string][]models.TrajectoryPoint),
		nameToID:     make(map[string]string),
		now:          time.Now,
	}
}

// Start 订阅快照变化并启动轮询循环，直到 ctx 取消。
// 会话切换时调用方应先 Reset 再重新 Start。
func (r *Reconciler) Start(ctx context.Context) {
	r.mutex.Lock()
	r.unsubscribe = r.store.Subscribe(func(ws *models.WorldState) {
		r.onSnapshot(ctx, ws)
	})
	r.mutex.Unlock()

	// 启动时先做一次完整轮询
	if err := r.Poll(ctx); err != nil {
		log.Printf("⚠️ 轨迹轮询失败（保留上次状态）: %v", err)
	}

	ticker := time.NewTicker(r.tuning.TrajectoryPoll())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return
		case <-ticker.C:
			if !r.store.IsRunning() {
				continue
			}
			if err := r.Poll(ctx); err != nil {
				log.Printf("⚠️ 轨迹轮询失败（保留上次状态）: %v", err)
			}
		}
	}
}

// Stop 注销订阅并取消未触发的补轮询
func (r *Reconciler) Stop() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	if r.followUp != nil {
		r.followUp.Stop()
		r.followUpArmed = false
	}
}

// Reset 清空全部轨迹（会话切换时使用）
func (r *Reconciler) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.trajectories = make(map[string][]models.TrajectoryPoint)
	r.nameToID = make(map[string]string)
}

// Poll 执行一次完整轮询：取回移动事件、解码、按智能体重建轨迹、
// 与实时位置对账。超时落后的结果按代次丢弃，不覆盖更新的状态。
func (r *Reconciler) Poll(ctx context.Context) error {
	r.mutex.Lock()
	r.generation++
	gen := r.generation
	r.mutex.Unlock()

	events, err := r.fetcher.Fetch(ctx, eventlog.Filters{
		SessionID: r.store.SessionID(),
		EventType: models.EventTypeMove,
		Limit:     fetchLimit,
	})
	if err != nil {
		// 传输失败：保留最近一次成功的轨迹
		return err
	}

	ws := r.store.Get()
	rebuilt, names := r.rebuild(events, ws)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// 更晚发起的对账已经应用过结果，丢弃本次
	if gen < r.lastApplied {
		return nil
	}
	r.lastApplied = gen
	r.trajectories = rebuilt
	r.nameToID = names
	return nil
}

// rebuild 从移动事件重建全部轨迹并与快照对账
func (r *Reconciler) rebuild(events []models.Event, ws *models.WorldState) (map[string][]models.TrajectoryPoint, map[string]string) {
	names := make(map[string]string)
	if ws != nil {
		for id, agent := range ws.Agents {
			names[agent.Name] = id
		}
	}

	grouped := make(map[string][]models.TrajectoryPoint)
	for _, ev := range events {
		x, y, ok := decode.Position(ev.Description)
		if !ok {
			// 不符合文本语法的事件静默丢弃
			continue
		}

		id := ev.AgentID
		if id == "" {
			id = names[ev.AgentName]
		}
		if id == "" {
			continue
		}

		grouped[id] = append(grouped[id], models.TrajectoryPoint{
			X:         x,
			Y:         y,
			Timestamp: ev.ParsedTimestamp(),
			Day:       ev.Day,
			Hour:      ev.Hour,
			Minute:    ev.Minute,
		})
	}

	rebuilt := make(map[string][]models.TrajectoryPoint, len(grouped))
	for id, points := range grouped {
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].Timestamp.Before(points[j].Timestamp)
		})
		rebuilt[id] = elideConsecutiveDuplicates(points)
	}

	// 对账：每个在快照中的智能体，轨迹末点必须等于实时位置
	if ws != nil {
		for id, agent := range ws.Agents {
			rebuilt[id] = r.reconcileLive(rebuilt[id], agent, ws)
		}
	}

	return rebuilt, names
}

// reconcileLive 保证轨迹非空且末点等于实时位置。
// 补入的点打客户端观测时间戳，而非服务端时间。
func (r *Reconciler) reconcileLive(points []models.TrajectoryPoint, agent models.Agent, ws *models.WorldState) []models.TrajectoryPoint {
	live := agent.Position
	if len(points) > 0 {
		last := points[len(points)-1]
		if last.X == live.X() && last.Y == live.Y() {
			return points
		}
	}
	return append(points, models.TrajectoryPoint{
		X:         live.X(),
		Y:         live.Y(),
		Timestamp: syntheticStamp(points, r.now()),
		Day:       ws.Day,
		Hour:      ws.Hour,
		Minute:    ws.Minute,
		Synthetic: true,
	})
}

// syntheticStamp 给补入点选时间戳。后端时间戳不带时区，
// 本地时钟可能落后于事件时间，向末点抬平以保持轨迹时间单调不减。
func syntheticStamp(points []models.TrajectoryPoint, now time.Time) time.Time {
	if len(points) > 0 {
		if last := points[len(points)-1].Timestamp; last.After(now) {
			return last
		}
	}
	return now
}

// onSnapshot 是快照变化的反应路径：只比较末点与实时位置，
// 不一致时就地补点，并安排一次延迟补轮询与服务端记录对齐。
func (r *Reconciler) onSnapshot(ctx context.Context, ws *models.WorldState) {
	if ws == nil {
		return
	}

	mismatch := false

	r.mutex.Lock()
	for id, agent := range ws.Agents {
		points := r.trajectories[id]
		live := agent.Position

		if len(points) > 0 {
			last := points[len(points)-1]
			if last.X == live.X() && last.Y == live.Y() {
				continue
			}
		}

		mismatch = true
		r.trajectories[id] = append(points, models.TrajectoryPoint{
			X:         live.X(),
			Y:         live.Y(),
			Timestamp: syntheticStamp(points, r.now()),
			Day:       ws.Day,
			Hour:      ws.Hour,
			Minute:    ws.Minute,
			Synthetic: true,
		})
		if _, ok := r.nameToID[agent.Name]; !ok {
			r.nameToID[agent.Name] = id
		}
	}

	// 合并未触发的补轮询，全程只保持一个定时器
	if mismatch && !r.followUpArmed {
		r.followUpArmed = true
		r.followUp = time.AfterFunc(r.tuning.ReconcileDelay(), func() {
			r.mutex.Lock()
			r.followUpArmed = false
			r.mutex.Unlock()

			if err := r.Poll(ctx); err != nil {
				log.Printf("⚠️ 轨迹补轮询失败: %v", err)
			}
		})
	}
	r.mutex.Unlock()
}

// Trajectory 返回指定智能体的轨迹副本
func (r *Reconciler) Trajectory(agentID string) []models.TrajectoryPoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return clonePoints(r.trajectories[agentID])
}

// TrajectoryByName 按名字查询轨迹（兼容旧调用方）
func (r *Reconciler) TrajectoryByName(name string) []models.TrajectoryPoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil
	}
	return clonePoints(r.trajectories[id])
}

// All 返回全部轨迹的副本
func (r *Reconciler) All() map[string][]models.TrajectoryPoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	all := make(map[string][]models.TrajectoryPoint, len(r.trajectories))
	for id, points := range r.trajectories {
		all[id] = clonePoints(points)
	}
	return all
}

// elideConsecutiveDuplicates 去掉紧邻的重复坐标点
func elideConsecutiveDuplicates(points []models.TrajectoryPoint) []models.TrajectoryPoint {
	if len(points) < 2 {
		return points
	}
	out := points[:1]
	for _, p := range points[1:] {
		last := out[len(out)-1]
		if p.X == last.X && p.Y == last.Y {
			continue
		}
		out = append(out, p)
	}
	return out
}

func clonePoints(points []models.TrajectoryPoint) []models.TrajectoryPoint {
	if points == nil {
		return nil
	}
	cloned := make([]models.TrajectoryPoint, len(points))
	copy(cloned, points)
	return cloned
}

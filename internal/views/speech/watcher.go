// internal/views/speech/watcher.go

// Package speech 把发言事件转换为短暂存在的气泡，
// 每个智能体同一时刻至多展示一条。
package speech

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/decode"
	"github.com/Corphon/PrometheusObserver/internal/eventlog"
	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/worldstate"
)

// 单次轮询取回的发言事件上限
const fetchLimit = 100

// EventFetcher 是发言视图对事件日志客户端的最小依赖
type EventFetcher interface {
	Fetch(ctx context.Context, f eventlog.Filters) ([]models.Event, error)
}

type bubbleEntry struct {
	bubble models.SpeechBubble
	timer  *time.Timer
}

// Watcher 维护按 agent_id 键控的发言气泡。
// 去重键是“事件ID-时间戳”的组合：会话重置后服务端会复用事件ID，
// 单独的ID会把新会话的发言当成旧发言吞掉。
type Watcher struct {
	mutex   sync.RWMutex
	fetcher EventFetcher
	store   *worldstate.Store
	tuning  config.Tuning

	bubbles map[string]*bubbleEntry // agent_id -> 当前气泡

	// 有界去重集合：map 判重，队列按先进先出淘汰
	seen      map[string]struct{}
	seenQueue []string

	// 供建泡与过期判定使用的时钟，测试注入
	now func() time.Time
}

// NewWatcher 创建发言气泡观察器
func NewWatcher(fetcher EventFetcher, store *worldstate.Store, tuning config.Tuning) *Watcher {
	return &Watcher{
		fetcher: fetcher,
		store:   store,
		tuning:  tuning,
		bubbles: make(map[string]*bubbleEntry),
		seen:    make(map[string]struct{}),
		now:     time.Now,
	}
}

// Start 启动轮询循环，直到 ctx 取消
func (w *Watcher) Start(ctx context.Context) {
	if err := w.Poll(ctx); err != nil {
		log.Printf("⚠️ 发言轮询失败（保留现有气泡）: %v", err)
	}

	ticker := time.NewTicker(w.tuning.SpeechPoll())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Reset()
			return
		case <-ticker.C:
			if !w.store.IsRunning() {
				continue
			}
			if err := w.Poll(ctx); err != nil {
				log.Printf("⚠️ 发言轮询失败（保留现有气泡）: %v", err)
			}
		}
	}
}

// Poll 取回最近的发言事件，为每条未见过的发言建泡。
// 同一智能体的新发言替换旧气泡并重置存活时间。
func (w *Watcher) Poll(ctx context.Context) error {
	events, err := w.fetcher.Fetch(ctx, eventlog.Filters{
		SessionID: w.store.SessionID(),
		EventType: models.EventTypeSpeech,
		Limit:     fetchLimit,
	})
	if err != nil {
		return err
	}

	ws := w.store.Get()

	w.mutex.Lock()
	defer w.mutex.Unlock()

	for _, ev := range events {
		key := fmt.Sprintf("%d-%s", ev.ID, ev.Timestamp)
		if _, ok := w.seen[key]; ok {
			continue
		}
		w.remember(key)

		agentID := ev.AgentID
		if agentID == "" && ws != nil {
			if agent, ok := ws.AgentByName(ev.AgentName); ok {
				agentID = agent.AgentID
			}
		}
		if agentID == "" {
			continue
		}

		parsed := decode.ExtractSpeech(ev.Description)
		bubble := models.SpeechBubble{
			AgentID:   agentID,
			AgentName: ev.AgentName,
			Target:    parsed.Target,
			Message:   parsed.Content,
			CreatedAt: w.now(),
		}
		if ws != nil {
			if agent, ok := ws.Agents[agentID]; ok {
				bubble.Position = agent.Position
			}
		}

		w.place(agentID, bubble)
	}
	return nil
}

// remember 记录去重键，超过容量时淘汰最老的键
func (w *Watcher) remember(key string) {
	w.seen[key] = struct{}{}
	w.seenQueue = append(w.seenQueue, key)

	limit := w.tuning.SpeechDedupCap
	for len(w.seenQueue) > limit {
		oldest := w.seenQueue[0]
		w.seenQueue = w.seenQueue[1:]
		delete(w.seen, oldest)
	}
}

// place 放置气泡并安排过期消散，替换时取消旧定时器
func (w *Watcher) place(agentID string, bubble models.SpeechBubble) {
	if prev, ok := w.bubbles[agentID]; ok {
		prev.timer.Stop()
	}

	entry := &bubbleEntry{bubble: bubble}
	entry.timer = time.AfterFunc(w.tuning.SpeechTTL(), func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()
		if cur, ok := w.bubbles[agentID]; ok && cur == entry {
			delete(w.bubbles, agentID)
		}
	})
	w.bubbles[agentID] = entry
}

// Dismiss 立即消散指定智能体的气泡
func (w *Watcher) Dismiss(agentID string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if entry, ok := w.bubbles[agentID]; ok {
		entry.timer.Stop()
		delete(w.bubbles, agentID)
	}
}

// Bubbles 返回当前存活的全部气泡。
// 除定时器外这里再按时钟过滤一次，定时器粒度不影响读侧正确性。
func (w *Watcher) Bubbles() []models.SpeechBubble {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	ttl := w.tuning.SpeechTTL()
	cutoff := w.now().Add(-ttl)

	out := make([]models.SpeechBubble, 0, len(w.bubbles))
	for _, entry := range w.bubbles {
		if entry.bubble.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, entry.bubble)
	}
	return out
}

// Bubble 返回指定智能体的存活气泡，不存在或已过期时返回 nil
func (w *Watcher) Bubble(agentID string) *models.SpeechBubble {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	entry, ok := w.bubbles[agentID]
	if !ok {
		return nil
	}
	if entry.bubble.CreatedAt.Before(w.now().Add(-w.tuning.SpeechTTL())) {
		return nil
	}
	b := entry.bubble
	return &b
}

// Reset 清空全部气泡与去重状态（会话切换时使用）
func (w *Watcher) Reset() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	for _, entry := range w.bubbles {
		entry.timer.Stop()
	}
	w.bubbles = make(map[string]*bubbleEntry)
	w.seen = make(map[string]struct{})
	w.seenQueue = nil
}

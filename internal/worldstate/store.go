// internal/worldstate/store.go

// Package worldstate 持有权威世界快照：推送通道负责写入，
// 各派生视图只读。快照整体替换，读者绝不会看到半更新状态。
package worldstate

import (
	"sync"

	"github.com/Corphon/PrometheusObserver/internal/models"
)

// Store 是进程级的世界状态容器。
// 唯一写者是推送通道的消息处理器；其余使用方只读或订阅。
type Store struct {
	mutex       sync.RWMutex
	current     *models.WorldState
	subscribers map[int]func(*models.WorldState)
	nextSubID   int
}

// NewStore 创建世界状态容器
func NewStore() *Store {
	return &Store{
		subscribers: make(map[int]func(*models.WorldState)),
	}
}

// Get 返回当前快照，未收到任何推送时返回 nil。
// 返回的指针指向不可变快照，调用方不得修改。
func (s *Store) Get() *models.WorldState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.current
}

// SessionID 返回当前会话ID，无快照时返回空串
func (s *Store) SessionID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.SessionID
}

// IsRunning 返回实验是否在运行
func (s *Store) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.current != nil && s.current.IsRunning
}

// Replace 原子替换整个快照并通知订阅者
func (s *Store) Replace(ws *models.WorldState) {
	if ws != nil {
		ws.Normalize()
	}

	s.mutex.Lock()
	s.current = ws
	subs := s.snapshotSubscribers()
	s.mutex.Unlock()

	for _, fn := range subs {
		fn(ws)
	}
}

// SetRunning 只翻转运行标志，不等待下一个完整快照。
// 尚无快照时创建一个只含运行标志的空快照。
func (s *Store) SetRunning(running bool) {
	s.mutex.Lock()
	if s.current == nil {
		ws := &models.WorldState{IsRunning: running}
		ws.Normalize()
		s.current = ws
	} else {
		// 在副本上翻转，保持已发布快照不可变
		copied := *s.current
		copied.IsRunning = running
		s.current = &copied
	}
	current := s.current
	subs := s.snapshotSubscribers()
	s.mutex.Unlock()

	for _, fn := range subs {
		fn(current)
	}
}

// Subscribe 注册快照变化回调，返回用于注销的函数。
// 回调在写入方的 goroutine 里同步执行，应保持轻量。
func (s *Store) Subscribe(fn func(*models.WorldState)) (unsubscribe func()) {
	s.mutex.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mutex.Unlock()

	return func() {
		s.mutex.Lock()
		delete(s.subscribers, id)
		s.mutex.Unlock()
	}
}

// Reset 清空快照与订阅者（视图卸载/会话切换时使用）
func (s *Store) Reset() {
	s.mutex.Lock()
	s.current = nil
	s.subscribers = make(map[int]func(*models.WorldState))
	s.mutex.Unlock()
}

// snapshotSubscribers 复制订阅者列表，须在持锁状态下调用
func (s *Store) snapshotSubscribers() []func(*models.WorldState) {
	subs := make([]func(*models.WorldState), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

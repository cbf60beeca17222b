// internal/views/milestone/aggregator.go

// Package milestone 把重要事件筛选成一条带优先级的滚动消息流。
package milestone

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/eventlog"
	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/worldstate"
)

// 单次轮询取回的事件上限
const fetchLimit = 100

// EventFetcher 是里程碑视图对事件日志客户端的最小依赖
type EventFetcher interface {
	Fetch(ctx context.Context, f eventlog.Filters) ([]models.Event, error)
}

// classification 是事件类型到展示属性的固定映射
type classification struct {
	Icon     string
	Color    string
	Priority models.MilestonePriority
	Title    string
}

// 允许进入消息流的事件类型。不在表内的类型一律丢弃。
var classifications = map[string]classification{
	models.EventTypeDeath: {
		Icon: "🚨", Color: "#e53935", Priority: models.PriorityCritical, Title: "智能体死亡",
	},
	models.EventTypeCombat: {
		Icon: "⚔️", Color: "#fb8c00", Priority: models.PriorityHigh, Title: "冲突爆发",
	},
	models.EventTypeAIDecision: {
		Icon: "🤖", Color: "#1e88e5", Priority: models.PriorityMedium, Title: "关键决策",
	},
	models.EventTypeItemPlacement: {
		Icon: "📦", Color: "#43a047", Priority: models.PriorityLow, Title: "物品投放",
	},
}

// Aggregator 维护容量受限的里程碑消息流。
// 事件ID服务端单调递增，用单个水位线判重即可，
// 不需要发言视图那样的组合键集合。
type Aggregator struct {
	mutex   sync.RWMutex
	fetcher EventFetcher
	store   *worldstate.Store
	tuning  config.Tuning

	feed      []models.Milestone
	watermark int64

	// 供新鲜度判定使用的时钟，测试注入
	now func() time.Time
}

// NewAggregator 创建里程碑聚合器
func NewAggregator(fetcher EventFetcher, store *worldstate.Store, tuning config.Tuning) *Aggregator {
	return &Aggregator{
		fetcher: fetcher,
		store:   store,
		tuning:  tuning,
		now:     time.Now,
	}
}

// Start 启动轮询循环，直到 ctx 取消
func (a *Aggregator) Start(ctx context.Context) {
	if err := a.Poll(ctx); err != nil {
		log.Printf("⚠️ 里程碑轮询失败（保留现有消息流）: %v", err)
	}

	ticker := time.NewTicker(a.tuning.MilestonePoll())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.store.IsRunning() {
				continue
			}
			if err := a.Poll(ctx); err != nil {
				log.Printf("⚠️ 里程碑轮询失败（保留现有消息流）: %v", err)
			}
		}
	}
}

// Poll 取回最近事件，把水位线之上且在允许表内的事件并入消息流
func (a *Aggregator) Poll(ctx context.Context) error {
	events, err := a.fetcher.Fetch(ctx, eventlog.Filters{
		SessionID: a.store.SessionID(),
		Limit:     fetchLimit,
	})
	if err != nil {
		return err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	// 同一批内事件顺序不保证，先按起始水位线筛，最后统一抬高
	start := a.watermark
	for _, ev := range events {
		if ev.ID <= start {
			continue
		}
		if ev.ID > a.watermark {
			a.watermark = ev.ID
		}

		cls, ok := classifications[ev.EventType]
		if !ok {
			continue
		}

		a.feed = append(a.feed, models.Milestone{
			EventID:    ev.ID,
			AgentName:  ev.AgentName,
			Day:        ev.Day,
			Hour:       ev.Hour,
			Minute:     ev.Minute,
			EventType:  ev.EventType,
			Icon:       cls.Icon,
			Color:      cls.Color,
			Priority:   cls.Priority,
			Title:      cls.Title,
			Summary:    ev.Description,
			InsertedAt: a.now(),
		})
	}

	// 缓冲区保持事件ID升序，淘汰时最老的条目在前
	sort.SliceStable(a.feed, func(i, j int) bool {
		return a.feed[i].EventID < a.feed[j].EventID
	})
	limit := a.tuning.MilestoneCap
	if len(a.feed) > limit {
		a.feed = a.feed[len(a.feed)-limit:]
	}
	return nil
}

// Feed 返回展示序的消息流：优先级降序，同级按事件新旧降序。
// 插入后 3 秒内的条目统一标记为新。
func (a *Aggregator) Feed() []models.Milestone {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	freshUntil := a.now().Add(-a.tuning.MilestoneNewFor())

	out := make([]models.Milestone, len(a.feed))
	copy(out, a.feed)
	for i := range out {
		out[i].IsNew = out[i].InsertedAt.After(freshUntil)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].EventID > out[j].EventID
	})
	return out
}

// Watermark 返回已处理的最高事件ID
func (a *Aggregator) Watermark() int64 {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.watermark
}

// Reset 清空消息流与水位线（会话切换时使用）
func (a *Aggregator) Reset() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.feed = nil
	a.watermark = 0
}

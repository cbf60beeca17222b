// internal/utils/metrics.go
package utils

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector 进程内指标收集器
type MetricsCollector struct {
	counters   map[string]*counter
	gauges     map[string]*gauge
	histograms map[string]*histogram

	mu sync.RWMutex
}

type counter struct {
	value int64 // 原子访问
}

type gauge struct {
	value int64 // 原子访问
}

// histogram 只记录 count/sum/min/max
type histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector 获取全局指标收集器
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			counters:   make(map[string]*counter),
			gauges:     make(map[string]*gauge),
			histograms: make(map[string]*histogram),
		}
	})
	return globalMetrics
}

func (m *MetricsCollector) counterFor(name string) *counter {
	m.mu.RLock()
	c, exists := m.counters[name]
	m.mu.RUnlock()
	if exists {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, exists = m.counters[name]; !exists {
		c = &counter{}
		m.counters[name] = c
	}
	return c
}

func (m *MetricsCollector) gaugeFor(name string) *gauge {
	m.mu.RLock()
	g, exists := m.gauges[name]
	m.mu.RUnlock()
	if exists {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, exists = m.gauges[name]; !exists {
		g = &gauge{}
		m.gauges[name] = g
	}
	return g
}

// IncrementCounter 计数器加一
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(&m.counterFor(name).value, 1)
}

// AddCounter 计数器加指定值
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(&m.counterFor(name).value, value)
}

// SetGauge 设置仪表值
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(&m.gaugeFor(name).value, value)
}

// GetGauge 读取仪表当前值
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	g, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(&g.value)
}

// GetCounterValue 读取计数器当前值
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	c, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(&c.value)
}

// RecordHistogram 记录直方图样本
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if h, exists = m.histograms[name]; !exists {
			h = &histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics 返回全部指标的快照
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64)
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(&c.value)
	}

	gauges := make(map[string]int64)
	for name, g := range m.gauges {
		gauges[name] = atomic.LoadInt64(&g.value)
	}

	histograms := make(map[string]map[string]int64)
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// ObserverMetrics 观测端各环节的指标封装
type ObserverMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewObserverMetrics 创建观测指标实例
func NewObserverMetrics() *ObserverMetrics {
	return &ObserverMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// RecordAPIRequest 记录一次HTTP请求
func (om *ObserverMetrics) RecordAPIRequest(path, method string, statusCode int, duration time.Duration) {
	om.metrics.IncrementCounter("api_requests_total")
	om.metrics.IncrementCounter("api_requests_" + method)
	om.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())

	class := statusCode / 100
	switch class {
	case 2:
		om.metrics.IncrementCounter("api_responses_2xx")
	case 4:
		om.metrics.IncrementCounter("api_responses_4xx")
	case 5:
		om.metrics.IncrementCounter("api_responses_5xx")
	default:
		om.metrics.IncrementCounter("api_responses_other")
	}

	if class == 5 {
		om.logger.Warn("请求返回服务端错误", map[string]interface{}{
			"path":   path,
			"method": method,
			"status": statusCode,
		})
	}
}

// RecordPollCycle 记录一次视图轮询
func (om *ObserverMetrics) RecordPollCycle(view string, duration time.Duration, err error) {
	om.metrics.IncrementCounter("poll_cycles_total")
	om.metrics.IncrementCounter("poll_cycles_" + view)
	om.metrics.RecordHistogram("poll_duration_ms", duration.Milliseconds())

	if err != nil {
		om.metrics.IncrementCounter("poll_errors_total")
		om.metrics.IncrementCounter("poll_errors_" + view)
	}
}

// RecordSnapshotApplied 记录一次世界快照更新
func (om *ObserverMetrics) RecordSnapshotApplied(agentCount int) {
	om.metrics.IncrementCounter("snapshots_applied_total")
	om.metrics.SetGauge("world_agents", int64(agentCount))
}

// RecordPushBroadcast 记录一次向下游客户端的广播
func (om *ObserverMetrics) RecordPushBroadcast(clientCount int) {
	om.metrics.IncrementCounter("push_broadcasts_total")
	om.metrics.SetGauge("push_clients", int64(clientCount))
}

// Snapshot 返回当前全部指标
func (om *ObserverMetrics) Snapshot() map[string]interface{} {
	return om.metrics.GetMetrics()
}

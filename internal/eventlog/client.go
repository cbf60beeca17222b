// internal/eventlog/client.go

// Package eventlog 封装后端事件日志与控制接口的 REST 访问。
// 所有读取都是无状态、可重试、无副作用的；失败以 error 返回，
// 不在调用方边界之外抛出。
package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/Corphon/PrometheusObserver/internal/errors"
	"github.com/Corphon/PrometheusObserver/internal/models"
)

// Filters 表示事件查询的过滤条件。
// Day 为 0 表示不过滤（后端天数从 1 开始）。
type Filters struct {
	SessionID string
	EventType string
	AgentID   string
	Day       int
	Limit     int
	Offset    int
}

// EventStats 表示事件统计结果
type EventStats struct {
	TotalEvents   int            `json:"total_events"`
	EventsByType  map[string]int `json:"events_by_type"`
	EventsByAgent map[string]int `json:"events_by_agent"`
}

// SessionInfo 表示一个历史会话的概要
type SessionInfo struct {
	SessionID  string   `json:"session_id"`
	StartTime  string   `json:"start_time"`
	EndTime    string   `json:"end_time"`
	EventCount int      `json:"event_count"`
	Agents     []string `json:"agents"`
}

// SessionSummary 表示单个会话的分析摘要
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Summary   struct {
		TotalEvents  int    `json:"total_events"`
		UniqueAgents int    `json:"unique_agents"`
		DurationDays int    `json:"duration_days"`
		StartTime    string `json:"start_time"`
		EndTime      string `json:"end_time"`
	} `json:"summary"`
	Agents            []string       `json:"agents"`
	EventTypes        map[string]int `json:"event_types"`
	DailyActivity     map[string]int `json:"daily_activity"`
	AgentInteractions map[string]int `json:"agent_interactions"`
}

// Client 是后端 REST 接口的访问客户端
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient 创建事件日志客户端
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Fetch 按过滤条件分页获取事件列表。
// 返回顺序即服务端存储顺序，本方法不做任何排序保证。
func (c *Client) Fetch(ctx context.Context, f Filters) ([]models.Event, error) {
	q := url.Values{}
	if f.SessionID != "" {
		q.Set("session_id", f.SessionID)
	}
	if f.EventType != "" {
		q.Set("event_type", f.EventType)
	}
	if f.AgentID != "" {
		q.Set("agent_id", f.AgentID)
	}
	if f.Day > 0 {
		q.Set("day", strconv.Itoa(f.Day))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}

	var list models.EventList
	if err := c.getJSON(ctx, "/api/events?"+q.Encode(), &list); err != nil {
		return nil, err
	}
	return list.Events, nil
}

// Stats 获取事件统计
func (c *Client) Stats(ctx context.Context) (*EventStats, error) {
	var stats EventStats
	if err := c.getJSON(ctx, "/api/events/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Clear 清空事件历史，beforeDay 大于 0 时只清除该天之前的事件。
// 破坏性操作，确认逻辑由上层负责。
func (c *Client) Clear(ctx context.Context, beforeDay int) error {
	path := "/api/events/clear"
	if beforeDay > 0 {
		path += "?before_day=" + strconv.Itoa(beforeDay)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Sessions 获取全部历史会话概要
func (c *Client) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var sessions []SessionInfo
	if err := c.getJSON(ctx, "/api/sessions", &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// SessionSummary 获取指定会话的分析摘要
func (c *Client) SessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	var summary SessionSummary
	if err := c.getJSON(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/summary", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// AgentMemory 获取智能体完整记忆历史
func (c *Client) AgentMemory(ctx context.Context, agentID string) (map[string]any, error) {
	var memory map[string]any
	if err := c.getJSON(ctx, "/api/agents/"+url.PathEscape(agentID)+"/memory", &memory); err != nil {
		return nil, err
	}
	return memory, nil
}

// AgentRefresh 获取智能体的最新状态、近期事件与提示词数据
func (c *Client) AgentRefresh(ctx context.Context, agentID string) (map[string]any, error) {
	var detail map[string]any
	if err := c.getJSON(ctx, "/api/agents/"+url.PathEscape(agentID)+"/refresh", &detail); err != nil {
		return nil, err
	}
	return detail, nil
}

// GoalInjection 表示注入给智能体的临时目标
type GoalInjection struct {
	AgentID         string `json:"agent_id"`
	GoalName        string `json:"goal_name"`
	GoalDescription string `json:"goal_description"`
	Priority        int    `json:"priority"` // 1-10
}

// InjectGoal 向指定智能体注入临时目标
func (c *Client) InjectGoal(ctx context.Context, g GoalInjection) error {
	return c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(g.AgentID)+"/inject_goal", g, nil)
}

// ClearManualGoals 清除智能体的全部人工干预目标
func (c *Client) ClearManualGoals(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/agents/"+url.PathEscape(agentID)+"/clear_manual_goals", nil, nil)
}

// SetCustomGoals 设置智能体的长期自定义目标
func (c *Client) SetCustomGoals(ctx context.Context, agentID, goals string) error {
	body := map[string]string{
		"agent_id":     agentID,
		"custom_goals": goals,
	}
	return c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/custom_goals", body, nil)
}

// GetCustomGoals 获取智能体当前的自定义目标
func (c *Client) GetCustomGoals(ctx context.Context, agentID string) (string, error) {
	var result struct {
		CustomGoals string `json:"custom_goals"`
	}
	if err := c.getJSON(ctx, "/api/agents/"+url.PathEscape(agentID)+"/custom_goals", &result); err != nil {
		return "", err
	}
	return result.CustomGoals, nil
}

// InjectEnvironment 注入全体智能体可见的环境上下文
func (c *Client) InjectEnvironment(ctx context.Context, text string) error {
	body := map[string]string{"environmental_context": text}
	return c.do(ctx, http.MethodPost, "/api/environment/inject", body, nil)
}

// ClearEnvironment 清除环境注入
func (c *Client) ClearEnvironment(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/environment/clear", nil, nil)
}

// ItemPlacement 表示在地图上放置物品的请求
type ItemPlacement struct {
	SessionID       string `json:"session_id"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	ItemType        string `json:"item_type"`
	ItemName        string `json:"item_name"`
	ItemDescription string `json:"item_description"`
}

// PlaceItem 在地图指定坐标放置物品
func (c *Client) PlaceItem(ctx context.Context, p ItemPlacement) error {
	return c.do(ctx, http.MethodPost, "/api/items/place", p, nil)
}

// ExperimentConfig 表示启动实验的配置
type ExperimentConfig struct {
	DurationDays  int    `json:"duration_days"`
	AgentCount    int    `json:"agent_count"`
	GuardCount    int    `json:"guard_count"`
	PrisonerCount int    `json:"prisoner_count"`
	Model         string `json:"model"`
}

// StartExperiment 启动一轮新实验
func (c *Client) StartExperiment(ctx context.Context, cfg ExperimentConfig) error {
	return c.do(ctx, http.MethodPost, "/api/experiment/start", cfg, nil)
}

// StopExperiment 停止当前实验
func (c *Client) StopExperiment(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/experiment/stop", nil, nil)
}

// ExperimentStatus 获取实验运行状态
func (c *Client) ExperimentStatus(ctx context.Context) (map[string]any, error) {
	var status map[string]any
	if err := c.getJSON(ctx, "/api/experiment/status", &status); err != nil {
		return nil, err
	}
	return status, nil
}

// getJSON 发送 GET 请求并解码 JSON 响应
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do 执行一次 HTTP 请求。网络失败归类为传输错误，
// 非 2xx 状态归类为逻辑错误并附带后端返回的消息体。
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewTransportError(fmt.Sprintf("请求 %s 失败", path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.NewLogicalError(
			fmt.Sprintf("后端返回错误状态 %d: %s", resp.StatusCode, string(detail)), nil)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewDecodeError(fmt.Sprintf("解码 %s 响应失败", path), err)
	}
	return nil
}

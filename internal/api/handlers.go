// internal/api/handlers.go
package api

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/eventlog"
	"github.com/Corphon/PrometheusObserver/internal/services"
	"github.com/Corphon/PrometheusObserver/internal/utils"
)

// Handler 聚合全部API处理器的依赖
type Handler struct {
	Observer *services.ObserverService
	Export   *services.ExportService
	Response *ResponseHelper
}

// NewHandler 创建API处理器
func NewHandler(observer *services.ObserverService, export *services.ExportService) *Handler {
	return &Handler{
		Observer: observer,
		Export:   export,
		Response: NewResponseHelper(),
	}
}

// ===============================
// 世界状态与派生视图
// ===============================

// GetWorldState 返回当前权威快照
func (h *Handler) GetWorldState(c *gin.Context) {
	ws := h.Observer.Store.Get()
	if ws == nil {
		h.Response.NotFound(c, "世界快照", "尚未收到任何推送")
		return
	}
	h.Response.Success(c, ws)
}

// GetTrajectories 返回全部智能体的移动轨迹
func (h *Handler) GetTrajectories(c *gin.Context) {
	h.Response.Success(c, h.Observer.Trajectory.All())
}

// GetAgentTrajectory 返回单个智能体的移动轨迹
func (h *Handler) GetAgentTrajectory(c *gin.Context) {
	agentID := c.Param("agent_id")
	points := h.Observer.Trajectory.Trajectory(agentID)
	if points == nil {
		// 兼容旧调用方按名字查询
		points = h.Observer.Trajectory.TrajectoryByName(agentID)
	}
	if points == nil {
		h.Response.NotFound(c, "轨迹", "智能体 "+agentID+" 没有轨迹数据")
		return
	}
	h.Response.Success(c, points)
}

// TakeSnapshot 按需把当前世界快照写盘
func (h *Handler) TakeSnapshot(c *gin.Context) {
	path, err := h.Observer.SnapshotNow()
	if err != nil {
		h.Response.Conflict(c, "快照写盘失败", err.Error())
		return
	}
	h.Response.Success(c, gin.H{"path": path}, "快照已写盘")
}

// GetBubbles 返回当前存活的发言气泡
func (h *Handler) GetBubbles(c *gin.Context) {
	h.Response.Success(c, h.Observer.Speech.Bubbles())
}

// DismissBubble 立即消散指定智能体的气泡
func (h *Handler) DismissBubble(c *gin.Context) {
	h.Observer.Speech.Dismiss(c.Param("agent_id"))
	h.Response.Success(c, nil, "气泡已消散")
}

// GetMilestones 返回展示序的里程碑消息流
func (h *Handler) GetMilestones(c *gin.Context) {
	h.Response.Success(c, h.Observer.Milestone.Feed())
}

// GetActiveAgent 返回当前活跃智能体判定
func (h *Handler) GetActiveAgent(c *gin.Context) {
	h.Response.Success(c, h.Observer.Active.Current())
}

// ===============================
// 事件日志代理
// ===============================

// GetEvents 按过滤条件代理取回历史事件
func (h *Handler) GetEvents(c *gin.Context) {
	filters := eventlog.Filters{
		SessionID: c.Query("session_id"),
		EventType: c.Query("event_type"),
		AgentID:   c.Query("agent_id"),
		Day:       atoiDefault(c.Query("day"), 0),
		Limit:     atoiDefault(c.DefaultQuery("limit", "100"), 100),
		Offset:    atoiDefault(c.Query("offset"), 0),
	}
	if filters.SessionID == "" {
		filters.SessionID = h.Observer.Store.SessionID()
	}

	events, err := h.Observer.Client.Fetch(c.Request.Context(), filters)
	if err != nil {
		h.Response.BackendError(c, err)
		return
	}

	h.Response.PaginatedSuccess(c, events, &PaginationMeta{
		Total:  len(events),
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

// GetEventStats 代理事件统计
func (h *Handler) GetEventStats(c *gin.Context) {
	stats, err := h.Observer.Client.Stats(c.Request.Context())
	if err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, stats)
}

// ClearEvents 请求后端清理历史事件。破坏性操作，必须显式确认。
func (h *Handler) ClearEvents(c *gin.Context) {
	var req struct {
		BeforeDay int  `json:"before_day"`
		Confirm   bool `json:"confirm"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求体格式错误", err.Error())
		return
	}
	if !req.Confirm {
		h.Response.BadRequest(c, "清理事件不可撤销，需显式传入 confirm=true")
		return
	}

	if err := h.Observer.Client.Clear(c.Request.Context(), req.BeforeDay); err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, nil, "事件已清理")
}

// ===============================
// 会话
// ===============================

// GetSessions 代理会话列表
func (h *Handler) GetSessions(c *gin.Context) {
	sessions, err := h.Observer.Client.Sessions(c.Request.Context())
	if err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, sessions)
}

// GetSessionSummary 代理单个会话的汇总
func (h *Handler) GetSessionSummary(c *gin.Context) {
	summary, err := h.Observer.Client.SessionSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, summary)
}

// ===============================
// 智能体干预
// ===============================

// GetAgentMemory 代理智能体记忆查询
func (h *Handler) GetAgentMemory(c *gin.Context) {
	memory, err := h.Observer.Client.AgentMemory(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, memory)
}

// GetAgentPrompt 返回智能体最近一次AI决策的提示词记录，取自权威快照
func (h *Handler) GetAgentPrompt(c *gin.Context) {
	ws := h.Observer.Store.Get()
	if ws == nil {
		h.Response.NotFound(c, "世界快照", "尚未收到任何推送")
		return
	}

	agentID := c.Param("agent_id")
	record, ok := ws.AgentPrompts[agentID]
	if !ok {
		h.Response.NotFound(c, "提示词记录", "智能体 "+agentID+" 没有决策记录")
		return
	}
	h.Response.Success(c, record)
}

// RefreshAgent 触发后端重算智能体状态
func (h *Handler) RefreshAgent(c *gin.Context) {
	result, err := h.Observer.Client.AgentRefresh(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, result, "已触发刷新")
}

// InjectGoal 向智能体注入目标
func (h *Handler) InjectGoal(c *gin.Context) {
	var req eventlog.GoalInjection
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求体格式错误", err.Error())
		return
	}
	req.AgentID = c.Param("agent_id")
	if req.GoalName == "" || req.GoalDescription == "" {
		h.Response.BadRequest(c, "目标名称与描述不能为空")
		return
	}
	if req.Priority < 1 || req.Priority > 10 {
		h.Response.BadRequest(c, "优先级必须在 1-10 之间")
		return
	}

	if err := h.Observer.Client.InjectGoal(c.Request.Context(), req); err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, nil, "目标已注入")
}

// ClearManualGoals 清除智能体的手动目标
func (h *Handler) ClearManualGoals(c *gin.Context) {
	if err := h.Observer.Client.ClearManualGoals(c.Request.Context(), c.Param("agent_id")); err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, nil, "手动目标已清除")
}

// GetCustomGoals 查询智能体的自定义目标
func (h *Handler) GetCustomGoals(c *gin.Context) {
	goals, err := h.Observer.Client.GetCustomGoals(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"custom_goals": goals})
}

// SetCustomGoals 设置智能体的自定义目标
func (h *Handler) SetCustomGoals(c *gin.Context) {
	var req struct {
		CustomGoals string `json:"custom_goals"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求体格式错误", err.Error())
		return
	}

	if err := h.Observer.Client.SetCustomGoals(c.Request.Context(), c.Param("agent_id"), req.CustomGoals); err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, nil, "自定义目标已设置")
}

// ===============================
// 环境干预与物品投放
// ===============================

// InjectEnvironment 注入环境事件描述
func (h *Handler) InjectEnvironment(c *gin.Context) {
	var req struct {
		Context string `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求体格式错误", err.Error())
		return
	}
	if req.Context == "" {
		h.Response.BadRequest(c, "环境描述不能为空")
		return
	}

	if err := h.Observer.Client.InjectEnvironment(c.Request.Context(), req.Context); err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, nil, "环境事件已注入")
}

// ClearEnvironment 清除注入的环境事件
func (h *Handler) ClearEnvironment(c *gin.Context) {
	if err := h.Observer.Client.ClearEnvironment(c.Request.Context()); err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, nil, "环境事件已清除")
}

// PlaceItem 在地图上投放物品
func (h *Handler) PlaceItem(c *gin.Context) {
	var req eventlog.ItemPlacement
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求体格式错误", err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = h.Observer.Store.SessionID()
	}
	if req.ItemName == "" {
		h.Response.BadRequest(c, "物品名称不能为空")
		return
	}

	if err := h.Observer.Client.PlaceItem(c.Request.Context(), req); err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, nil, "物品已投放")
}

// ===============================
// 实验控制
// ===============================

// StartExperiment 启动实验
func (h *Handler) StartExperiment(c *gin.Context) {
	var req eventlog.ExperimentConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求体格式错误", err.Error())
		return
	}

	if err := h.Observer.StartExperiment(c.Request.Context(), req); err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, nil, "实验启动请求已发送")
}

// StopExperiment 停止实验
func (h *Handler) StopExperiment(c *gin.Context) {
	if err := h.Observer.StopExperiment(c.Request.Context()); err != nil {
		h.Response.BackendError(c, err)
		return
	}
	h.Response.Success(c, nil, "实验停止请求已发送")
}

// GetExperimentStatus 返回后端实验状态，取不到时退回本地状态
func (h *Handler) GetExperimentStatus(c *gin.Context) {
	status, err := h.Observer.Client.ExperimentStatus(c.Request.Context())
	if err != nil {
		h.Response.Success(c, h.Observer.Status(), "后端不可达，返回本地状态")
		return
	}
	h.Response.Success(c, status)
}

// ===============================
// 连接管理
// ===============================

// ConnectBackend 建立到后端的推送连接
func (h *Handler) ConnectBackend(c *gin.Context) {
	if err := h.Observer.Connect(); err != nil {
		h.Response.BadGateway(c, "连接后端失败", err.Error())
		return
	}
	h.Response.Success(c, h.Observer.Status(), "已连接后端")
}

// DisconnectBackend 断开推送连接。断开后不自动重连。
func (h *Handler) DisconnectBackend(c *gin.Context) {
	h.Observer.Disconnect()
	h.Response.Success(c, h.Observer.Status(), "已断开后端")
}

// GetConnectionStatus 返回观测端自身状态
func (h *Handler) GetConnectionStatus(c *gin.Context) {
	h.Response.Success(c, h.Observer.Status())
}

// GetPushStatus 返回下游推送中心状态
func (h *Handler) GetPushStatus(c *gin.Context) {
	h.Response.Success(c, pushHub.Status())
}

// GetMetricsReport 返回进程内指标快照
func (h *Handler) GetMetricsReport(c *gin.Context) {
	h.Response.Success(c, utils.GetMetricsCollector().GetMetrics())
}

// ===============================
// 归档与导出
// ===============================

// GetArchivedEvents 读取本地归档事件
func (h *Handler) GetArchivedEvents(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = h.Observer.Store.SessionID()
	}
	if sessionID == "" {
		h.Response.BadRequest(c, "缺少 session_id")
		return
	}
	if h.Export == nil || h.Export.Archive == nil {
		h.Response.Error(c, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "归档未启用")
		return
	}

	limit := atoiDefault(c.DefaultQuery("limit", "100"), 100)
	offset := atoiDefault(c.Query("offset"), 0)

	events, err := h.Export.Archive.Events(c.Request.Context(), sessionID, c.Query("event_type"), limit, offset)
	if err != nil {
		h.Response.InternalError(c, "读取归档失败", err.Error())
		return
	}
	total, err := h.Export.Archive.CountEvents(c.Request.Context(), sessionID)
	if err != nil {
		h.Response.InternalError(c, "读取归档失败", err.Error())
		return
	}

	h.Response.PaginatedSuccess(c, events, &PaginationMeta{
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// GetArchivedSessions 列出归档里的会话
func (h *Handler) GetArchivedSessions(c *gin.Context) {
	if h.Export == nil || h.Export.Archive == nil {
		h.Response.Error(c, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "归档未启用")
		return
	}
	sessions, err := h.Export.Archive.Sessions(c.Request.Context())
	if err != nil {
		h.Response.InternalError(c, "读取归档失败", err.Error())
		return
	}
	h.Response.Success(c, sessions)
}

// ExportSession 导出会话归档为文件
func (h *Handler) ExportSession(c *gin.Context) {
	if h.Export == nil {
		h.Response.Error(c, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "归档未启用")
		return
	}

	sessionID := c.Param("id")
	format := c.DefaultQuery("format", "json")

	result, err := h.Export.ExportSession(c.Request.Context(), sessionID, format)
	if err != nil {
		h.Response.BadRequest(c, "导出失败", err.Error())
		return
	}

	if c.Query("download") == "true" {
		contentType := "application/json"
		if result.Format == "csv" {
			contentType = "text/csv; charset=utf-8"
		}
		h.Response.FileResponse(c, result.FilePath, filepath.Base(result.FilePath), contentType)
		return
	}
	h.Response.Success(c, result, "导出成功")
}

// ===============================
// 设置
// ===============================

// GetSettings 返回当前配置
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, config.GetCurrentConfig())
}

// SaveSettings 更新后端地址配置
func (h *Handler) SaveSettings(c *gin.Context) {
	var req struct {
		BackendBaseURL string `json:"backend_base_url"`
		BackendWSURL   string `json:"backend_ws_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求体格式错误", err.Error())
		return
	}
	if req.BackendBaseURL == "" || req.BackendWSURL == "" {
		h.Response.BadRequest(c, "后端地址不能为空")
		return
	}

	if err := config.UpdateBackend(req.BackendBaseURL, req.BackendWSURL); err != nil {
		h.Response.InternalError(c, "保存配置失败", err.Error())
		return
	}
	h.Response.Success(c, config.GetCurrentConfig(), "配置已保存，重连后生效")
}

// atoiDefault 解析整数参数，失败时返回默认值
func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

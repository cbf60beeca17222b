// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/di"
	"github.com/Corphon/PrometheusObserver/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// ✅ 只从容器获取服务，不再创建新实例
	observerService, ok := container.Get("observer").(*services.ObserverService)
	if !ok {
		return nil, fmt.Errorf("观测服务未正确初始化")
	}

	exportService, _ := container.Get("export").(*services.ExportService)

	handler := NewHandler(observerService, exportService)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	r := gin.Default()

	// 启用CORS
	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(DefaultRateLimit())

	// 健康检查
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// WebSocket 推送
	r.GET("/ws", handler.ServeWS)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		// ===============================
		// 世界状态与派生视图
		// ===============================
		worldGroup := api.Group("/world")
		{
			worldGroup.GET("", handler.GetWorldState)
			worldGroup.GET("/trajectories", handler.GetTrajectories)
			worldGroup.GET("/trajectories/:agent_id", handler.GetAgentTrajectory)
			worldGroup.GET("/bubbles", handler.GetBubbles)
			worldGroup.DELETE("/bubbles/:agent_id", handler.DismissBubble)
			worldGroup.GET("/milestones", handler.GetMilestones)
			worldGroup.GET("/active", handler.GetActiveAgent)
			worldGroup.POST("/snapshot", ControlRateLimit(), handler.TakeSnapshot)
		}

		// ===============================
		// 事件日志
		// ===============================
		eventsGroup := api.Group("/events")
		{
			eventsGroup.GET("", handler.GetEvents)
			eventsGroup.GET("/stats", handler.GetEventStats)
			eventsGroup.POST("/clear", ControlRateLimit(), handler.ClearEvents)
		}

		// ===============================
		// 会话
		// ===============================
		sessionsGroup := api.Group("/sessions")
		{
			sessionsGroup.GET("", handler.GetSessions)
			sessionsGroup.GET("/:id/summary", handler.GetSessionSummary)
		}

		// ===============================
		// 智能体干预
		// ===============================
		agentsGroup := api.Group("/agents/:agent_id")
		{
			agentsGroup.GET("/memory", handler.GetAgentMemory)
			agentsGroup.GET("/prompt", handler.GetAgentPrompt)
			agentsGroup.POST("/refresh", ControlRateLimit(), handler.RefreshAgent)
			agentsGroup.POST("/inject_goal", ControlRateLimit(), handler.InjectGoal)
			agentsGroup.POST("/clear_manual_goals", ControlRateLimit(), handler.ClearManualGoals)
			agentsGroup.GET("/custom_goals", handler.GetCustomGoals)
			agentsGroup.POST("/custom_goals", ControlRateLimit(), handler.SetCustomGoals)
		}

		// ===============================
		// 环境干预与物品投放
		// ===============================
		environmentGroup := api.Group("/environment")
		{
			environmentGroup.POST("/inject", ControlRateLimit(), handler.InjectEnvironment)
			environmentGroup.POST("/clear", ControlRateLimit(), handler.ClearEnvironment)
		}
		api.POST("/items/place", ControlRateLimit(), handler.PlaceItem)

		// ===============================
		// 实验控制
		// ===============================
		experimentGroup := api.Group("/experiment")
		{
			experimentGroup.POST("/start", ControlRateLimit(), handler.StartExperiment)
			experimentGroup.POST("/stop", ControlRateLimit(), handler.StopExperiment)
			experimentGroup.GET("/status", handler.GetExperimentStatus)
		}

		// ===============================
		// 连接管理
		// ===============================
		connectionGroup := api.Group("/connection")
		{
			connectionGroup.POST("/connect", ControlRateLimit(), handler.ConnectBackend)
			connectionGroup.POST("/disconnect", ControlRateLimit(), handler.DisconnectBackend)
			connectionGroup.GET("/status", handler.GetConnectionStatus)
		}

		// ===============================
		// 归档与导出
		// ===============================
		archiveGroup := api.Group("/archive")
		{
			archiveGroup.GET("/events", handler.GetArchivedEvents)
			archiveGroup.GET("/sessions", handler.GetArchivedSessions)
			archiveGroup.GET("/sessions/:id/export", ExportRateLimit(), handler.ExportSession)
		}

		// ===============================
		// 设置
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.POST("", handler.SaveSettings)
		}

		// 调试路由
		api.GET("/ws/status", handler.GetPushStatus)
		api.GET("/metrics", handler.GetMetricsReport)
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

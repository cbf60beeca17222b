// internal/app/app.go

// Package app 负责观测端的组装与生命周期：
// 初始化配置与日志、按依赖顺序注册服务、运行HTTP服务器并在退出时清理。
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Corphon/PrometheusObserver/internal/api"
	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/di"
	"github.com/Corphon/PrometheusObserver/internal/services"
	"github.com/Corphon/PrometheusObserver/internal/storage"
	"github.com/Corphon/PrometheusObserver/internal/utils"
)

// httpServer 抽象出服务器以便测试时替换
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 持有应用级别的状态
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   httpServer
	stopChan chan os.Signal

	forwarderStop func()
}

var (
	instance *App
	appMutex sync.Mutex
)

// GetApp 获取应用单例
func GetApp() *App {
	appMutex.Lock()
	defer appMutex.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 完成配置、日志、服务与路由的初始化
func Initialize() error {
	baseConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	cfg := config.GetCurrentConfig()
	app := GetApp()
	app.config = cfg

	if err := initLogger(cfg.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router

	return nil
}

// initLogger 按日期在日志目录创建当天的日志文件
func initLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}

	logFile := filepath.Join(logDir, fmt.Sprintf("observer_%s.log", time.Now().Format("2006-01-02")))
	if err := utils.InitLogger(logFile); err != nil {
		return err
	}

	logger := utils.GetLogger()
	if IsDebugMode() {
		logger.SetLogLevel(utils.DEBUG)
	}
	logger.Infof("日志系统初始化完成: %s", logFile)
	return nil
}

// InitServices 按依赖顺序把服务注册进容器。
// 归档是可选依赖，打不开时降级为纯内存观测。
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	// 1. 本地归档（SQLite）
	var archive *storage.Archive
	archivePath := filepath.Join(cfg.DataDir, "archive.db")
	archive, err := storage.OpenArchive(archivePath)
	if err != nil {
		log.Printf("⚠️ 打开归档失败，归档功能不可用: %v", err)
		archive = nil
	} else {
		container.Register("archive", archive)
	}

	// 2. 观测核心服务，聚合推送通道、事件客户端与派生视图
	observer := services.NewObserverService(cfg, cfg.Tuning, archive)
	container.Register("observer", observer)

	// 3. 导出服务依赖归档
	if archive != nil {
		export := services.NewExportService(archive, filepath.Join(cfg.DataDir, "exports"))
		container.Register("export", export)
	}

	return nil
}

// Run 启动HTTP服务器并阻塞到收到退出信号
func Run() error {
	app := GetApp()

	if app.server == nil {
		app.server = &http.Server{
			Addr:    ":" + app.config.Port,
			Handler: app.router,
		}
	}

	go func() {
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ 启动服务器失败: %v", err)
		}
	}()

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	<-app.stopChan

	log.Println("🛑 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}

	app.cleanup()
	log.Println("✅ 服务器优雅关闭完成")
	return nil
}

// StartObserver 连接后端并启动轮询，连接失败只告警不中止
func StartObserver(ctx context.Context) error {
	container := di.GetContainer()
	observer, ok := container.Get("observer").(*services.ObserverService)
	if !ok {
		return fmt.Errorf("观测服务未注册")
	}

	if err := observer.Connect(); err != nil {
		log.Printf("⚠️ 连接后端失败，将以离线状态启动: %v", err)
	}

	if err := observer.Start(ctx); err != nil {
		return err
	}

	GetApp().forwarderStop = api.StartWorldForwarder(observer)
	return nil
}

// cleanup 释放服务资源
func (a *App) cleanup() {
	if a.forwarderStop != nil {
		a.forwarderStop()
		a.forwarderStop = nil
	}

	container := di.GetContainer()

	if observer, ok := container.Get("observer").(*services.ObserverService); ok {
		if err := observer.Close(); err != nil {
			log.Printf("⚠️ 关闭观测服务失败: %v", err)
		}
	}

	if archive, ok := container.Get("archive").(*storage.Archive); ok {
		if err := archive.Close(); err != nil {
			log.Printf("⚠️ 关闭归档失败: %v", err)
		}
	}

	api.ShutdownPush()
}

// GetConfig 返回应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// GetDIContainer 返回全局依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 返回是否处于调试模式
func IsDebugMode() bool {
	appMutex.Lock()
	defer appMutex.Unlock()

	if instance == nil || instance.config == nil {
		return false
	}
	return instance.config.DebugMode
}

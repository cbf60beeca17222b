// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Corphon/PrometheusObserver/internal/app"
	"github.com/Corphon/PrometheusObserver/internal/config"
	"github.com/Corphon/PrometheusObserver/internal/di"
)

func main() {
	log.Println("🚀 启动 PrometheusObserver 观测服务...")

	// 1. 加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)
	log.Println("✅ 目录结构创建完成")

	// 3. 初始化配置、日志、服务与路由
	if err := app.Initialize(); err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	container := di.GetContainer()
	log.Printf("✅ 应用初始化完成，服务数量: %d", len(container.GetNames()))

	// 4. 服务健康检查
	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 5. 连接后端并启动观测轮询
	if err := app.StartObserver(context.Background()); err != nil {
		log.Fatalf("启动观测轮询失败: %v", err)
	}
	log.Println("✅ 观测轮询已启动")

	// 6. 启动HTTP服务器
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 世界状态: http://localhost:%s/api/world", baseConfig.Port)
	log.Printf("🔗 实时推送: ws://localhost:%s/ws", baseConfig.Port)

	if err := app.Run(); err != nil {
		log.Fatalf("❌ 服务器运行失败: %v", err)
	}
}

// performHealthCheck 检查关键服务是否已注册
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"observer"}
	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	// 归档与导出是可选能力，缺席只提示
	for _, serviceName := range []string{"archive", "export"} {
		if service := container.Get(serviceName); service == nil {
			log.Printf("⚠️ 可选服务未启用: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "snapshots"),
		filepath.Join(cfg.DataDir, "exports"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}

// internal/services/export_service.go
package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/storage"
)

// ExportResult 描述一次导出的产物
type ExportResult struct {
	SessionID   string    `json:"session_id"`
	Format      string    `json:"format"`
	FilePath    string    `json:"file_path"`
	FileSize    int64     `json:"file_size"`
	EventCount  int       `json:"event_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ExportService 把归档事件导出成文件
type ExportService struct {
	Archive   *storage.Archive
	ExportDir string
}

// NewExportService 创建导出服务
func NewExportService(archive *storage.Archive, exportDir string) *ExportService {
	return &ExportService{
		Archive:   archive,
		ExportDir: exportDir,
	}
}

// ExportSession 导出指定会话的全部归档事件
func (s *ExportService) ExportSession(ctx context.Context, sessionID, format string) (*ExportResult, error) {
	// 1. 验证输入参数
	if sessionID == "" {
		return nil, fmt.Errorf("会话ID不能为空")
	}
	if s.Archive == nil {
		return nil, fmt.Errorf("归档未启用")
	}

	format = strings.ToLower(format)
	supportedFormats := []string{"json", "csv"}
	if !contains(supportedFormats, format) {
		return nil, fmt.Errorf("不支持的导出格式: %s，支持的格式: %v", format, supportedFormats)
	}

	// 2. 分页读回全部事件
	var events []models.Event
	const pageSize = 1000
	for offset := 0; ; offset += pageSize {
		page, err := s.Archive.Events(ctx, sessionID, "", pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("读取归档失败: %w", err)
		}
		events = append(events, page...)
		if len(page) < pageSize {
			break
		}
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("会话 %s 没有归档事件", sessionID)
	}

	// 3. 写出文件
	if err := os.MkdirAll(s.ExportDir, 0755); err != nil {
		return nil, fmt.Errorf("创建导出目录失败: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.%s", sessionID, time.Now().Format("20060102_150405"), format)
	path := filepath.Join(s.ExportDir, filename)

	var err error
	switch format {
	case "json":
		err = writeJSONExport(path, sessionID, events)
	case "csv":
		err = writeCSVExport(path, events)
	}
	if err != nil {
		return nil, fmt.Errorf("写出导出文件失败: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		SessionID:   sessionID,
		Format:      format,
		FilePath:    path,
		FileSize:    info.Size(),
		EventCount:  len(events),
		GeneratedAt: time.Now(),
	}, nil
}

func writeJSONExport(path, sessionID string, events []models.Event) error {
	payload := map[string]any{
		"session_id":  sessionID,
		"exported_at": time.Now().Format(time.RFC3339),
		"event_count": len(events),
		"events":      events,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func writeCSVExport(path string, events []models.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"id", "day", "hour", "minute", "agent_id", "agent_name",
		"event_type", "description", "details", "timestamp"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, ev := range events {
		row := []string{
			strconv.FormatInt(ev.ID, 10),
			strconv.Itoa(ev.Day),
			strconv.Itoa(ev.Hour),
			strconv.Itoa(ev.Minute),
			ev.AgentID,
			ev.AgentName,
			ev.EventType,
			ev.Description,
			ev.Details,
			ev.Timestamp,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// contains 检查字符串切片是否包含目标值
func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

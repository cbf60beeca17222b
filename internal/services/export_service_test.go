// internal/services/export_service_test.go
package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/storage"
)

func newTestExportService(t *testing.T) (*ExportService, *storage.Archive) {
	t.Helper()
	dir := t.TempDir()
	archive, err := storage.OpenArchive(filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	t.Cleanup(func() { _ = archive.Close() })
	return NewExportService(archive, filepath.Join(dir, "exports")), archive
}

func seedEvents(archive *storage.Archive, sessionID string, n int) {
	for i := 1; i <= n; i++ {
		archive.Record(sessionID, models.Event{
			ID: int64(i), Day: 1, Hour: 8, AgentName: "P1",
			EventType: models.EventTypeMove, Description: "moved to (1, 1)",
			Timestamp: "2026-08-30T08:00:00",
		})
	}
	archive.Flush()
}

func TestExportSessionJSON(t *testing.T) {
	svc, archive := newTestExportService(t)
	seedEvents(archive, "s-1", 3)

	result, err := svc.ExportSession(context.Background(), "s-1", "json")
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	if result.EventCount != 3 || result.FileSize == 0 {
		t.Errorf("result = %+v", result)
	}

	data, err := os.ReadFile(result.FilePath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var payload struct {
		SessionID string         `json:"session_id"`
		Events    []models.Event `json:"events"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if payload.SessionID != "s-1" || len(payload.Events) != 3 {
		t.Errorf("payload session=%s events=%d", payload.SessionID, len(payload.Events))
	}
}

func TestExportSessionCSV(t *testing.T) {
	svc, archive := newTestExportService(t)
	seedEvents(archive, "s-1", 2)

	result, err := svc.ExportSession(context.Background(), "s-1", "csv")
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}

	f, err := os.Open(result.FilePath)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// 表头 + 2 行
	if len(rows) != 3 {
		t.Errorf("got %d rows, want 3", len(rows))
	}
	if rows[0][0] != "id" {
		t.Errorf("header = %v", rows[0])
	}
}

func TestExportSessionRejectsBadInput(t *testing.T) {
	svc, archive := newTestExportService(t)
	seedEvents(archive, "s-1", 1)
	ctx := context.Background()

	if _, err := svc.ExportSession(ctx, "", "json"); err == nil {
		t.Error("empty session id must be rejected")
	}
	if _, err := svc.ExportSession(ctx, "s-1", "xml"); err == nil {
		t.Error("unsupported format must be rejected")
	}
	if _, err := svc.ExportSession(ctx, "s-missing", "json"); err == nil {
		t.Error("session without events must be rejected")
	}
}

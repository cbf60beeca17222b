// internal/storage/storage_test.go
package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Corphon/PrometheusObserver/internal/models"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchiveRecordAndReadBack(t *testing.T) {
	a := openTestArchive(t)

	a.Record("s-1", models.Event{
		ID: 1, Day: 1, Hour: 8, AgentID: "a1", AgentName: "P1",
		EventType: models.EventTypeMove, Description: "moved to (1, 1)",
		Timestamp: "2026-08-30T08:00:00",
	})
	a.Record("s-1", models.Event{
		ID: 2, Day: 1, Hour: 8, AgentName: "P2",
		EventType: models.EventTypeSpeech, Description: "Said to P1: 'hi'",
		Timestamp: "2026-08-30T08:01:00",
	})
	a.Flush()

	ctx := context.Background()
	events, err := a.Events(ctx, "s-1", "", 10, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ID != 1 || events[0].AgentID != "a1" {
		t.Errorf("first event = %+v", events[0])
	}

	moves, err := a.Events(ctx, "s-1", models.EventTypeMove, 10, 0)
	if err != nil {
		t.Fatalf("Events(move): %v", err)
	}
	if len(moves) != 1 || moves[0].EventType != models.EventTypeMove {
		t.Errorf("type filter returned %d events", len(moves))
	}
}

func TestArchiveIgnoresDuplicateIDsPerSession(t *testing.T) {
	a := openTestArchive(t)

	ev := models.Event{ID: 7, AgentName: "P1", EventType: models.EventTypeCombat,
		Description: "fight", Timestamp: "2026-08-30T08:00:00"}
	a.Record("s-1", ev)
	a.Record("s-1", ev)
	// 另一个会话里相同的ID是不同的事件
	a.Record("s-2", ev)
	a.Flush()

	ctx := context.Background()
	if n, _ := a.CountEvents(ctx, "s-1"); n != 1 {
		t.Errorf("s-1 count = %d, want 1 (duplicate ignored)", n)
	}
	if n, _ := a.CountEvents(ctx, "s-2"); n != 1 {
		t.Errorf("s-2 count = %d, want 1", n)
	}

	sessions, err := a.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("got %d sessions, want 2", len(sessions))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ws := &models.WorldState{
		SessionID: "s-1", Day: 2, Hour: 14, IsRunning: true,
		Agents: map[string]models.Agent{
			"a1": {AgentID: "a1", Name: "P1", Role: models.RoleGuard, Position: models.Position{3, 4}},
			"a2": {AgentID: "a2", Name: "P2", Role: models.RolePrisoner, Position: models.Position{0, 1}},
		},
	}
	ws.Normalize()

	path := SnapshotPath(t.TempDir(), "s-1", ws.SimHour())
	if err := WriteSnapshot(path, ws); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if got.SessionID != "s-1" || got.Day != 2 || len(got.Agents) != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Agents["a1"].Position != ws.Agents["a1"].Position {
		t.Error("agent position lost in round trip")
	}

	header, err := ReadSnapshotHeader(path)
	if err != nil {
		t.Fatalf("ReadSnapshotHeader: %v", err)
	}
	if header.Version != snapshotVersion || header.Agents != 2 {
		t.Errorf("header = %+v", header)
	}
}

// 磁盘写满时 WriteSnapshot 必须报错，而不是留下一份坏快照
func TestWriteSnapshotReportsFullDisk(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("依赖 /dev/full 设备")
	}
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("缺少 /dev/full 设备")
	}

	ws := &models.WorldState{SessionID: "s-1", Day: 1, Hour: 2}
	ws.Normalize()

	if err := WriteSnapshot("/dev/full", ws); err == nil {
		t.Fatal("写入已满设备必须返回错误")
	}
}

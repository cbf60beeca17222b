// internal/storage/archive.go

// Package storage 负责观测数据的本地落盘：
// 事件归档进 SQLite，世界快照压缩成文件。
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Corphon/PrometheusObserver/internal/models"
)

// Archive 把轮询到的事件镜像进本地 SQLite。
// 写入走单独的 goroutine，轮询路径只做非阻塞入队；
// 归档是次级数据，落后时丢弃而不是拖慢轮询。
type Archive struct {
	db *sql.DB

	ch   chan models.Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

// OpenArchive 打开（或创建）事件归档库并启动写入协程
func OpenArchive(path string) (*Archive, error) {
	if path == "" {
		return nil, fmt.Errorf("归档路径为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &Archive{
		db: db,
		ch: make(chan models.Event, 8192),
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop()
	}()
	return a, nil
}

func initPragmas(db *sql.DB) error {
	// WAL 对追加型负载快得多
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			id INTEGER NOT NULL,
			day INTEGER NOT NULL,
			hour INTEGER NOT NULL,
			minute INTEGER NOT NULL,
			agent_id TEXT,
			agent_name TEXT NOT NULL,
			event_type TEXT NOT NULL,
			description TEXT NOT NULL,
			details TEXT,
			timestamp TEXT NOT NULL,
			ai_prompt TEXT,
			ai_thinking TEXT,
			ai_decision TEXT,
			PRIMARY KEY (session_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(session_id, event_type, id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent ON events(session_id, agent_name, id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			session_id TEXT NOT NULL,
			sim_hour INTEGER NOT NULL,
			path TEXT NOT NULL,
			agents INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, sim_hour)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Record 把事件入队归档。队列满时丢弃，服务端仍是事实来源。
func (a *Archive) Record(sessionID string, ev models.Event) {
	if a == nil || a.closed.Load() || sessionID == "" {
		return
	}
	ev.SessionID = sessionID
	select {
	case a.ch <- ev:
	default:
	}
}

// RecordSnapshot 登记一份已写盘的快照文件
func (a *Archive) RecordSnapshot(sessionID string, simHour int, path string, agents int) error {
	if a == nil || a.closed.Load() {
		return nil
	}
	_, err := a.db.Exec(
		`INSERT OR REPLACE INTO snapshots(session_id,sim_hour,path,agents,recorded_at) VALUES(?,?,?,?,?)`,
		sessionID, simHour, path, agents, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Events 按会话读回归档事件，eventType 为空表示全部类型
func (a *Archive) Events(ctx context.Context, sessionID, eventType string, limit, offset int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id,day,hour,minute,agent_id,agent_name,event_type,description,
		COALESCE(details,''),timestamp,COALESCE(ai_prompt,''),COALESCE(ai_thinking,''),COALESCE(ai_decision,'')
		FROM events WHERE session_id=?`
	args := []any{sessionID}
	if eventType != "" {
		query += ` AND event_type=?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		ev := models.Event{SessionID: sessionID}
		var agentID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Day, &ev.Hour, &ev.Minute, &agentID, &ev.AgentName,
			&ev.EventType, &ev.Description, &ev.Details, &ev.Timestamp,
			&ev.AIPromptContent, &ev.AIThinkingProcess, &ev.AIDecision); err != nil {
			return nil, err
		}
		ev.AgentID = agentID.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountEvents 返回会话的归档事件总数
func (a *Archive) CountEvents(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE session_id=?`, sessionID).Scan(&n)
	return n, err
}

// Sessions 返回归档里出现过的全部会话ID
func (a *Archive) Sessions(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM events ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Flush 等待队列清空并给写入者留出提交时间，测试与关停前使用
func (a *Archive) Flush() {
	for len(a.ch) > 0 && !a.closed.Load() {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
}

// Close 停止写入协程并关闭数据库
func (a *Archive) Close() error {
	var err error
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.ch)
		a.wg.Wait()
		err = a.db.Close()
	})
	return err
}

// loop 是唯一的写入者：批量攒事务，定期或按量提交
func (a *Archive) loop() {
	insert, err := a.db.Prepare(`INSERT OR IGNORE INTO events
		(session_id,id,day,hour,minute,agent_id,agent_name,event_type,description,details,timestamp,ai_prompt,ai_thinking,ai_decision)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return
	}
	defer insert.Close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := a.db.Begin()
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushTick := time.NewTicker(200 * time.Millisecond)
	defer flushTick.Stop()

	for {
		select {
		case ev, ok := <-a.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			_, _ = tx.Stmt(insert).Exec(
				ev.SessionID, ev.ID, ev.Day, ev.Hour, ev.Minute,
				ev.AgentID, ev.AgentName, ev.EventType, ev.Description, ev.Details,
				ev.Timestamp, ev.AIPromptContent, ev.AIThinkingProcess, ev.AIDecision,
			)
			opCount++
			// 队列排空时立即提交，读侧不必等满批
			if opCount >= commitEvery || len(a.ch) == 0 {
				commit()
			}
		case <-flushTick.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

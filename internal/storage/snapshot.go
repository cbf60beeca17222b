// internal/storage/snapshot.go
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/Corphon/PrometheusObserver/internal/models"
)

// 快照文件格式版本
const snapshotVersion = 1

// SnapshotHeader 是快照文件首行的明文描述
type SnapshotHeader struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	Day       int    `json:"day"`
	Hour      int    `json:"hour"`
	Agents    int    `json:"agents"`
}

// SnapshotPath 返回某会话某仿真时刻的快照文件路径
func SnapshotPath(dir, sessionID string, simHour int) string {
	return filepath.Join(dir, sessionID, fmt.Sprintf("world-%06d.json.zst", simHour))
}

// WriteSnapshot 把世界快照压缩写盘。
// 文件首行是未压缩体裁的 JSON 头（zstd 流内），便于流式扫描。
func WriteSnapshot(path string, ws *models.WorldState) error {
	if ws == nil {
		return fmt.Errorf("快照为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return err
	}

	bw := bufio.NewWriterSize(enc, 64*1024)

	// 刷写失败（磁盘满等）必须上报，否则坏快照会被当成写好的
	write := func() error {
		header := SnapshotHeader{
			Version:   snapshotVersion,
			SessionID: ws.SessionID,
			Day:       ws.Day,
			Hour:      ws.Hour,
			Agents:    len(ws.Agents),
		}
		hb, _ := json.Marshal(header)
		if _, err := bw.Write(hb); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		if err := json.NewEncoder(bw).Encode(ws); err != nil {
			return fmt.Errorf("快照编码失败: %w", err)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("快照缓冲刷写失败: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("快照压缩收尾失败: %w", err)
		}
		return nil
	}

	if err := write(); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	return f.Close()
}

// ReadSnapshot 读回一份压缩快照
func ReadSnapshot(path string) (*models.WorldState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// 头行只做人读与扫描用，正文自带全部字段
	if _, err := br.ReadBytes('\n'); err != nil {
		return nil, fmt.Errorf("快照头损坏: %w", err)
	}

	var ws models.WorldState
	if err := json.NewDecoder(br).Decode(&ws); err != nil {
		return nil, fmt.Errorf("快照解码失败: %w", err)
	}
	ws.Normalize()
	return &ws, nil
}

// ReadSnapshotHeader 只解出快照头，不解压正文之外的部分
func ReadSnapshotHeader(path string) (SnapshotHeader, error) {
	var h SnapshotHeader
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("快照头损坏: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("快照头解析失败: %w", err)
	}
	return h, nil
}

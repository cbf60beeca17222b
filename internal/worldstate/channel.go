// internal/worldstate/channel.go
package worldstate

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/PrometheusObserver/internal/models"
)

// 推送通道消息类型，与后端 /ws 协议一致
const (
	MsgWorldUpdate       = "world_update"
	MsgExperimentStarted = "experiment_started"
	MsgExperimentStopped = "experiment_stopped"
	MsgError             = "error"

	CmdGetWorldState   = "get_world_state"
	CmdStartExperiment = "start_experiment"
	CmdStopExperiment  = "stop_experiment"
)

// Envelope 是推送通道上双向消息的统一信封
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnState 表示通道连接状态
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Channel 独占推送连接：接收整快照替换与启停信号，写入 Store。
// 连接断开后不自动重连，调用方须视为终止态直到再次 Connect。
type Channel struct {
	mutex sync.RWMutex
	conn  *websocket.Conn
	url   string
	state ConnState
	store *Store

	// 后端 error 消息的回调，供上层展示
	onBackendError func(string)
	onStateChange  func(ConnState)

	readerDone chan struct{}
}

// NewChannel 创建推送通道
func NewChannel(url string, store *Store) *Channel {
	return &Channel{
		url:   url,
		state: StateDisconnected,
		store: store,
	}
}

// OnBackendError 设置后端错误消息回调
func (c *Channel) OnBackendError(fn func(string)) {
	c.mutex.Lock()
	c.onBackendError = fn
	c.mutex.Unlock()
}

// OnStateChange 设置连接状态变化回调
func (c *Channel) OnStateChange(fn func(ConnState)) {
	c.mutex.Lock()
	c.onStateChange = fn
	c.mutex.Unlock()
}

// State 返回当前连接状态
func (c *Channel) State() ConnState {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

// IsConnected 返回连接是否打开
func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect 建立推送连接并启动读取循环。
// 已连接时再次调用是无害的 no-op。
func (c *Channel) Connect() error {
	c.mutex.Lock()
	if c.conn != nil {
		c.mutex.Unlock()
		return nil
	}
	c.mutex.Unlock()

	c.setState(StateConnecting)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("连接推送通道失败 %s: %w", c.url, err)
	}

	done := make(chan struct{})

	c.mutex.Lock()
	c.conn = conn
	c.readerDone = done
	c.mutex.Unlock()

	c.setState(StateConnected)
	log.Printf("✅ 推送通道已连接: %s", c.url)

	go c.readLoop(conn, done)

	// 连接后立即请求一次完整快照
	c.Send(CmdGetWorldState, nil)

	return nil
}

// Disconnect 关闭推送连接。之后不再应用任何快照；
// 已在途的派生视图请求会照常完成并落在当时的状态上。
func (c *Channel) Disconnect() {
	c.mutex.Lock()
	conn := c.conn
	c.conn = nil
	c.mutex.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}

	c.setState(StateDisconnected)
}

// Send 发送指令。连接未打开时是 no-op，返回 false。
func (c *Channel) Send(commandType string, payload any) bool {
	c.mutex.RLock()
	conn := c.conn
	c.mutex.RUnlock()

	if conn == nil {
		return false
	}

	env := Envelope{Type: commandType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("⚠️ 序列化指令载荷失败 %s: %v", commandType, err)
			return false
		}
		env.Payload = data
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("⚠️ 序列化指令失败 %s: %v", commandType, err)
		return false
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("⚠️ 发送指令失败 %s: %v", commandType, err)
		return false
	}
	return true
}

// RequestWorldState 请求一次完整世界快照
func (c *Channel) RequestWorldState() bool {
	return c.Send(CmdGetWorldState, nil)
}

// readLoop 持续读取推送消息直到连接关闭。
// 单条消息的解码失败只记日志，绝不终止连接。
func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		close(done)
		c.mutex.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mutex.Unlock()
		c.setState(StateDisconnected)
		log.Printf("🔌 推送通道已断开")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️ 推送通道读取错误: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("⚠️ 推送消息不是合法 JSON，已丢弃: %v", err)
			continue
		}

		c.handleMessage(env)
	}
}

// handleMessage 分发单条推送消息
func (c *Channel) handleMessage(env Envelope) {
	switch env.Type {
	case MsgWorldUpdate:
		if err := validateWorldUpdate(env.Payload); err != nil {
			log.Printf("⚠️ world_update 载荷无效，已丢弃: %v", err)
			return
		}

		var ws models.WorldState
		if err := json.Unmarshal(env.Payload, &ws); err != nil {
			log.Printf("⚠️ 解码 world_update 失败，已丢弃: %v", err)
			return
		}
		c.store.Replace(&ws)

	case MsgExperimentStarted:
		c.store.SetRunning(true)
		log.Printf("▶️ 实验已开始")

	case MsgExperimentStopped:
		c.store.SetRunning(false)
		log.Printf("⏹️ 实验已停止")

	case MsgError:
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			log.Printf("⚠️ 后端错误消息解码失败: %v", err)
			return
		}
		log.Printf("❌ 后端错误: %s", payload.Message)

		c.mutex.RLock()
		cb := c.onBackendError
		c.mutex.RUnlock()
		if cb != nil {
			cb(payload.Message)
		}

	default:
		log.Printf("⚠️ 未知推送消息类型，已忽略: %s", env.Type)
	}
}

func (c *Channel) setState(s ConnState) {
	c.mutex.Lock()
	changed := c.state != s
	c.state = s
	cb := c.onStateChange
	c.mutex.Unlock()

	if changed && cb != nil {
		cb(s)
	}
}

// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/PrometheusObserver/internal/models"
	"github.com/Corphon/PrometheusObserver/internal/services"
	"github.com/Corphon/PrometheusObserver/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 观测端只在内网/本机使用
		return true
	},
}

// PushClient 表示一个订阅了观测推送的浏览器连接
type PushClient struct {
	conn      *websocket.Conn
	clientID  string
	send      chan []byte
	closed    int32
	lastPing  time.Time
	createdAt time.Time
}

// Close 安全关闭客户端连接。
// 只设置关闭标志并关底层连接，发送通道永不关闭：
// 广播方随时可能持有旧客户端的引用，写循环靠写失败退出。
func (client *PushClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *PushClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// IsExpired 检查连接是否超时
func (client *PushClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(client.lastPing) > timeout
}

// PushHub 管理全部下游推送连接
type PushHub struct {
	clients     map[*websocket.Conn]*PushClient
	broadcast   chan []byte
	register    chan *PushClient
	unregister  chan *PushClient
	shutdownCh  chan struct{}
	mutex       sync.RWMutex
	pingTimeout time.Duration
	once        sync.Once
}

// NewPushHub 创建推送中心
func NewPushHub() *PushHub {
	return &PushHub{
		clients:     make(map[*websocket.Conn]*PushClient),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *PushClient, 64),
		unregister:  make(chan *PushClient, 64),
		shutdownCh:  make(chan struct{}),
		pingTimeout: 60 * time.Second,
	}
}

// 全局推送中心
var (
	pushHub     = NewPushHub()
	pushMetrics = utils.NewObserverMetrics()
)

func init() {
	go pushHub.run()
}

// run 推送中心主循环
func (hub *PushHub) run() {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-hub.register:
			hub.registerClient(client)
		case client := <-hub.unregister:
			hub.unregisterClient(client)
		case <-cleanupTicker.C:
			hub.cleanupExpired()
		case message := <-hub.broadcast:
			hub.fanout(message)
		case <-hub.shutdownCh:
			hub.closeAll()
			return
		}
	}
}

func (hub *PushHub) registerClient(client *PushClient) {
	if client == nil {
		return
	}
	hub.mutex.Lock()
	hub.clients[client.conn] = client
	client.lastPing = time.Now()
	hub.mutex.Unlock()
	log.Printf("✅ 推送客户端已连接: %s", client.clientID)
}

func (hub *PushHub) unregisterClient(client *PushClient) {
	if client == nil {
		return
	}
	hub.mutex.Lock()
	delete(hub.clients, client.conn)
	hub.mutex.Unlock()

	if !client.IsClosed() {
		client.Close()
	}
	log.Printf("🔌 推送客户端已断开: %s", client.clientID)
}

func (hub *PushHub) cleanupExpired() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for conn, client := range hub.clients {
		if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
			delete(hub.clients, conn)
			if !client.IsClosed() {
				client.Close()
			}
		}
	}
}

// fanout 把消息广播给全部存活客户端，队列满的连接直接放弃
func (hub *PushHub) fanout(message []byte) {
	hub.mutex.RLock()
	clients := make([]*PushClient, 0, len(hub.clients))
	for _, client := range hub.clients {
		if !client.IsClosed() {
			clients = append(clients, client)
		}
	}
	hub.mutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			client.Close()
		}
	}
	pushMetrics.RecordPushBroadcast(len(clients))
}

func (hub *PushHub) closeAll() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for _, client := range hub.clients {
		client.Close()
	}
	hub.clients = make(map[*websocket.Conn]*PushClient)
	log.Println("✅ 推送中心已关闭")
}

// Shutdown 优雅关闭推送中心
func (hub *PushHub) Shutdown() {
	hub.once.Do(func() { close(hub.shutdownCh) })
}

// ShutdownPush 关闭全局推送中心，进程退出前调用
func ShutdownPush() {
	pushHub.Shutdown()
}

// Broadcast 向全部下游连接推送一条带类型的消息
func (hub *PushHub) Broadcast(messageType string, payload any) {
	data, err := json.Marshal(map[string]any{
		"type":      messageType,
		"payload":   payload,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("❌ 序列化推送消息失败: %v", err)
		return
	}

	select {
	case hub.broadcast <- data:
	default:
		log.Println("⚠️ 推送队列已满，消息被丢弃")
	}
}

// Status 返回推送中心当前状态
func (hub *PushHub) Status() map[string]any {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	clients := make([]any, 0, len(hub.clients))
	for _, client := range hub.clients {
		if client != nil && !client.IsClosed() {
			clients = append(clients, map[string]any{
				"client_id":    client.clientID,
				"connected_at": client.createdAt.Format(time.RFC3339),
				"last_ping":    client.lastPing.Format(time.RFC3339),
			})
		}
	}
	return map[string]any{
		"total_connections": len(clients),
		"clients":           clients,
	}
}

// StartWorldForwarder 订阅权威快照并转发给下游连接。
// 返回注销函数，服务停止时调用。
func StartWorldForwarder(observer *services.ObserverService) func() {
	return observer.Store.Subscribe(func(ws *models.WorldState) {
		pushHub.Broadcast("world_update", ws)
	})
}

// ServeWS 处理下游浏览器的推送订阅
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("❌ WebSocket 升级失败: %v", err)
		return
	}

	client := &PushClient{
		conn:      conn,
		clientID:  c.GetString("request_id"),
		send:      make(chan []byte, 64),
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}
	pushHub.register <- client

	go h.pushWrites(client)
	go h.pushReads(client)

	// 新连接立即收到当前快照
	if ws := h.Observer.Store.Get(); ws != nil {
		if data, err := json.Marshal(map[string]any{
			"type": "world_update", "payload": ws,
		}); err == nil {
			select {
			case client.send <- data:
			default:
			}
		}
	}
}

// pushWrites 把队列里的消息写给客户端，并维持心跳
func (h *Handler) pushWrites(client *PushClient) {
	pingTicker := time.NewTicker(30 * time.Second)
	defer func() {
		pingTicker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.send:
			if client.IsClosed() {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-pingTicker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pushReads 消费客户端消息，只用来探活
func (h *Handler) pushReads(client *PushClient) {
	defer func() {
		pushHub.unregister <- client
	}()

	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(pushHub.pingTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.lastPing = time.Now()
		client.conn.SetReadDeadline(time.Now().Add(pushHub.pingTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
		client.lastPing = time.Now()
		client.conn.SetReadDeadline(time.Now().Add(pushHub.pingTimeout))
	}
}

// internal/api/websocket_test.go
package api

import (
	"testing"
	"time"
)

func newPushClient(id string, buf int) *PushClient {
	return &PushClient{
		clientID:  id,
		send:      make(chan []byte, buf),
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}
}

// 关闭只设标志不关通道：广播方可能还持有客户端引用，
// 向已关闭客户端的通道投递必须安全。
func TestCloseKeepsSendChannelOpen(t *testing.T) {
	client := newPushClient("c1", 4)

	client.Close()
	if !client.IsClosed() {
		t.Fatal("Close must set the closed flag")
	}

	// 旧连接关闭后投递不得 panic
	select {
	case client.send <- []byte("late message"):
	default:
		t.Fatal("buffered send channel must stay open and accept writes")
	}

	// 重复关闭是幂等的
	client.Close()
}

func TestFanoutSkipsClosedClients(t *testing.T) {
	hub := NewPushHub()
	client := newPushClient("c1", 1)
	hub.clients[client.conn] = client

	client.Close()
	hub.fanout([]byte("update"))

	select {
	case <-client.send:
		t.Error("closed client must not receive broadcasts")
	default:
	}
}

func TestFanoutClosesClientWithFullQueue(t *testing.T) {
	hub := NewPushHub()
	client := newPushClient("c1", 1)
	client.send <- []byte("backlog")
	hub.clients[client.conn] = client

	hub.fanout([]byte("update"))

	if !client.IsClosed() {
		t.Error("client with a full queue must be closed, not blocked on")
	}
	// 满队列客户端被关闭后再次广播同样安全
	hub.fanout([]byte("another update"))
}

func TestCleanupExpiredRemovesStaleClients(t *testing.T) {
	hub := NewPushHub()
	client := newPushClient("c1", 1)
	client.lastPing = time.Now().Add(-2 * hub.pingTimeout)
	hub.clients[client.conn] = client

	hub.cleanupExpired()

	if len(hub.clients) != 0 {
		t.Error("expired client must be removed from the hub")
	}
	if !client.IsClosed() {
		t.Error("expired client must be closed on eviction")
	}
}

package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebsocketHub 把事件以 JSON 推送给所有已连接的客户端
type WebsocketHub struct {
	lock    sync.Mutex
	clients map[*websocket.Conn]struct{}
}

var (
	_ Notifier     = (*WebsocketHub)(nil)
	_ http.Handler = (*WebsocketHub)(nil)
)

func NewWebsocketHub() *WebsocketHub {
	return &WebsocketHub{
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (h *WebsocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.lock.Lock()
	h.clients[conn] = struct{}{}
	h.lock.Unlock()

	// 只读取控制帧, 客户端断开后移除
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebsocketHub) remove(conn *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		_ = conn.Close()
	}
}

func (h *WebsocketHub) Notify(ctx context.Context, event Event) error {
	msg, err := json.Marshal(struct {
		Event
		Message string `json:"message"`
	}{Event: event, Message: event.Message()})
	if err != nil {
		return err
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Debug("drop websocket client", "remote", conn.RemoteAddr().String(), "error", err)
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
	return nil
}

func (h *WebsocketHub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

func (h *WebsocketHub) Name() string {
	return "websocket"
}

// Close 断开所有客户端
func (h *WebsocketHub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

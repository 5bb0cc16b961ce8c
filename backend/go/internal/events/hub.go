package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"factforge/backend/go/internal/models"
	"factforge/backend/go/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// clientMessage 是客户端发来的控制消息。
type clientMessage struct {
	Type   string   `json:"type"`
	Events []string `json:"events,omitempty"`
}

type client struct {
	conn     *websocket.Conn
	identity models.Identity
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	mu     sync.RWMutex
	filter map[string]bool // nil 表示接收全部有权限的事件
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) wants(eventType string) bool {
	if !c.identity.Role.AtLeast(Audience(eventType)) {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter == nil || c.filter[eventType]
}

func (c *client) subscribe(types []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(types) == 0 {
		c.filter = nil
		return
	}
	c.filter = make(map[string]bool, len(types))
	for _, t := range types {
		c.filter[t] = true
	}
}

// Hub 管理 websocket 连接，按角色把事件推送给订阅者。
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     *logger.Logger
}

// NewHub 创建 Hub。
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

// Serve 接管一个已升级的连接，阻塞直到连接关闭。
func (h *Hub) Serve(conn *websocket.Conn, id models.Identity) {
	c := &client{conn: conn, identity: id, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.WithPayload(map[string]interface{}{"user_id": id.UserID, "role": id.Role}).Debug("websocket 已连接")

	defer h.remove(c)
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Count 返回当前连接数。
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish 把事件投递给所有有权限的连接。发送缓冲已满的连接会被断开。
func (h *Hub) Publish(_ context.Context, e models.Event) error {
	msg, err := json.Marshal(e)
	if err != nil {
		return err
	}
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		if !c.wants(e.Type) {
			continue
		}
		select {
		case c.send <- msg:
		case <-c.done:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.WithField("user_id", c.identity.UserID).Warn("websocket 发送缓冲已满，断开连接")
		h.remove(c)
	}
	return nil
}

// Close 断开全部连接。
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithError(models.NewErrorInfo(err, "WebSocketError")).Debug("websocket 读取失败")
			}
			return
		}
		var m clientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch m.Type {
		case "ping":
			h.reply(c, map[string]interface{}{"type": "pong"})
		case "subscribe":
			c.subscribe(m.Events)
			h.reply(c, map[string]interface{}{"type": "subscribed", "events": m.Events})
		}
	}
}

func (h *Hub) reply(c *client, v interface{}) {
	msg, _ := json.Marshal(v)
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

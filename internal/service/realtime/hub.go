/*
 * WebSocket连接中心
 * @author: sun977
 * @date: 2025.11.26
 * @description: 连接与房间管理。
 * 客户端按房间(tasks/agents/alerts/system)订阅事件流，
 * 注册/注销/广播全部经单goroutine事件循环串行处理，无锁竞争。
 * 写缓冲打满的慢客户端直接断开，不拖慢整体广播。
 */

package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"neotasker/internal/config"
	"neotasker/internal/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// 房间名，与Redis事件频道后缀一一对应
const (
	RoomTasks  = "tasks"
	RoomAgents = "agents"
	RoomAlerts = "alerts"
	RoomSystem = "system"
)

// validRooms 允许订阅的房间集合
var validRooms = map[string]bool{
	RoomTasks:  true,
	RoomAgents: true,
	RoomAlerts: true,
	RoomSystem: true,
}

// clientCommand 客户端订阅指令
type clientCommand struct {
	Type string `json:"type"` // subscribe / unsubscribe
	Room string `json:"room"` // 目标房间
}

// Client WebSocket客户端连接
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte     // 出站消息缓冲
	rooms map[string]bool // 已订阅房间

	mu sync.Mutex
}

// broadcastRequest 房间广播请求
type broadcastRequest struct {
	room    string
	payload []byte
}

// Hub WebSocket连接中心
type Hub struct {
	cfg      *config.WebSocketConfig
	upgrader websocket.Upgrader

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastRequest

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub 创建WebSocket连接中心
func NewHub(cfg *config.WebSocketConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				// 同源校验按配置开关，内网部署场景放开
				return !cfg.CheckOrigin
			},
		},
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastRequest, 256),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run 启动事件循环，应在独立goroutine中运行
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			return

		case client := <-h.register:
			if h.cfg.MaxConnections > 0 && len(h.clients) >= h.cfg.MaxConnections {
				// 超出连接上限，拒绝新连接
				client.conn.Close()
				continue
			}
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case req := <-h.broadcast:
			for client := range h.clients {
				if !client.deliverable(req.room) {
					continue
				}
				select {
				case client.send <- req.payload:
				default:
					// 写缓冲打满，断开慢客户端
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// BroadcastToRoom 向房间内全部客户端广播原始JSON
// 房间为空串时广播给全部在线客户端
func (h *Hub) BroadcastToRoom(room string, payload []byte) {
	select {
	case h.broadcast <- broadcastRequest{room: room, payload: payload}:
	case <-h.ctx.Done():
	}
}

// BroadcastAll 向全部在线客户端广播原始JSON
func (h *Hub) BroadcastAll(payload []byte) {
	h.BroadcastToRoom("", payload)
}

// ServeWS 处理WebSocket升级请求
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.LogError(err, "", "websocket", "", nil)
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, 64),
		rooms: make(map[string]bool),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// Shutdown 关闭连接中心
func (h *Hub) Shutdown() {
	h.cancel()
	logger.LogSystemEvent("websocket", "shutdown",
		"WebSocket hub shut down", logrus.InfoLevel, nil)
}

// inRoom 判断客户端是否订阅了房间
func (c *Client) inRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[room]
}

// deliverable 判断事件是否应投递给该客户端
// 无房间的事件投递给全部在线客户端
func (c *Client) deliverable(room string) bool {
	if room == "" {
		return true
	}
	return c.inRoom(room)
}

// readPump 读取客户端订阅指令
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PingInterval * 2))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PingInterval * 2))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		if !validRooms[cmd.Room] {
			continue
		}

		c.mu.Lock()
		switch cmd.Type {
		case "subscribe":
			c.rooms[cmd.Room] = true
		case "unsubscribe":
			delete(c.rooms, cmd.Room)
		}
		c.mu.Unlock()
	}
}

// writePump 推送出站消息并周期性发心跳Ping
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

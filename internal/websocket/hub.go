package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心
// 向所有已连接的监控端广播状态令牌和机器事件。
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan *Message

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 状态快照提供者（客户端请求时回应当前状态）
	statusProvider func() interface{}

	stop chan struct{}

	logger *zap.Logger
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 出酒机消息
	MessageTypeStatusToken = "status_token" // 状态令牌（READY/POURING:n/COMPLETE/ERROR:msg）
	MessageTypeStatus      = "status"       // 完整状态快照
	MessageTypeEvent       = "event"        // 机器事件
)

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

// SetStatusProvider 设置状态快照提供者
func (h *Hub) SetStatusProvider(fn func() interface{}) {
	h.statusProvider = fn
}

// Run 运行Hub
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop 停止Hub并断开所有客户端
func (h *Hub) Stop() {
	close(h.stop)
}

// BroadcastStatusToken 广播状态令牌
func (h *Hub) BroadcastStatusToken(token string) {
	data, _ := json.Marshal(map[string]string{"token": token})
	h.Broadcast(&Message{
		Type:      MessageTypeStatusToken,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// BroadcastEvent 广播机器事件
func (h *Hub) BroadcastEvent(event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.Error(err))
		return
	}
	h.Broadcast(&Message{
		Type:      MessageTypeEvent,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// Broadcast 将消息放入广播队列
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("广播队列已满，消息被丢弃", zap.String("type", message.Type))
	}
}

// ClientCount 当前客户端数量
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.Int("total", h.ClientCount()),
	)

	// 连接成功后立即推送当前状态
	msg := &Message{
		Type:      MessageTypeConnected,
		Timestamp: time.Now().Unix(),
	}
	if h.statusProvider != nil {
		if data, err := json.Marshal(h.statusProvider()); err == nil {
			msg.Data = data
		}
	}
	h.sendToClient(client, msg)
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
}

// broadcastMessage 广播消息给所有客户端
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			// 发送缓冲区满，跳过该客户端
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
	h.clientsMu.RUnlock()
}

// sendToClient 发送消息给单个客户端
func (h *Hub) sendToClient(client *Client, message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// closeAll 关闭所有客户端连接
func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
	}
}

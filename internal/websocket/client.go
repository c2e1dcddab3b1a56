package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// 写超时
	writeWait = 10 * time.Second

	// 读取pong的超时
	pongWait = 60 * time.Second

	// ping周期（必须小于pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 最大消息大小
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 监控端为同一局域网内的展示终端，不做Origin校验
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client WebSocket客户端连接
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	Send chan []byte

	logger *zap.Logger
}

// ServeWS 处理WebSocket升级请求
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket升级失败", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		Send:   make(chan []byte, 256),
		logger: hub.logger,
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump 读取客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket异常关闭",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
			}
			break
		}

		c.handleMessage(data)
	}
}

// writePump 向客户端写消息
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理客户端发来的消息
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("无效的WebSocket消息", zap.String("client_id", c.ID))
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.reply(&Message{Type: MessageTypePong, Timestamp: time.Now().Unix()})

	case MessageTypeStatus:
		// 客户端主动请求当前状态
		reply := &Message{Type: MessageTypeStatus, Timestamp: time.Now().Unix()}
		if c.hub.statusProvider != nil {
			if d, err := json.Marshal(c.hub.statusProvider()); err == nil {
				reply.Data = d
			}
		}
		c.reply(reply)

	default:
		c.logger.Debug("未知消息类型",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type),
		)
	}
}

func (c *Client) reply(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

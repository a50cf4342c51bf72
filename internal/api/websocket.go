// Package api: WebSocket hub streaming job progress to clients.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	MsgTypeJobProgress MessageType = "job_progress"
	MsgTypeJobDone     MessageType = "job_done"
	MsgTypeHeartbeat   MessageType = "heartbeat"
	MsgTypeError       MessageType = "error"
)

// WSMessage is the envelope for every WebSocket frame.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// wsClient is one connected WebSocket client.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket connections and fan-out.
type Hub struct {
	logger     *zap.Logger
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
}

// NewHub creates a hub; call Run in a goroutine.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run processes registration and broadcast events until Close.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug("ws client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.logger.Debug("ws client unregistered", zap.String("id", client.id))

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}

		case <-ticker.C:
			h.enqueue(WSMessage{Type: MsgTypeHeartbeat, Timestamp: time.Now().Unix()})
		}
	}
}

// Close shuts the hub down. Idempotent.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// BroadcastJSON marshals the payload into the message envelope and fans it
// out to every client.
func (h *Hub) BroadcastJSON(msgType MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("ws payload marshal failed", zap.Error(err))
		return
	}
	h.enqueue(WSMessage{Type: msgType, Data: data, Timestamp: time.Now().Unix()})
}

func (h *Hub) enqueue(msg WSMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.logger.Warn("ws broadcast queue full, dropping message")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.hub.register <- client

	go client.writePump(s.hub)
	go client.readPump(s.hub)
}

func (c *wsClient) writePump(h *Hub) {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// readPump drains incoming frames so control messages are processed; the
// server does not accept client commands over the socket.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wellsgz/pingmon/internal/logging"
	"github.com/wellsgz/pingmon/internal/probe"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // The API is meant for loopback use
	},
}

// ClientMessage represents a message from client to server
type ClientMessage struct {
	Type    string   `json:"type"`    // "subscribe" or "unsubscribe"
	Targets []string `json:"targets"` // Target keys ("prefix:id") or ["all"]
}

// ServerMessage represents a message from server to client
type ServerMessage struct {
	Type string      `json:"type"` // "probe_result" or "error"
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and relays probe results to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan ServerMessage
	register   chan *Client
	unregister chan *Client

	source Source
	done   chan struct{}

	mu sync.RWMutex
}

// NewHub creates a hub relaying results from src. A nil src relays nothing.
func NewHub(src Source) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan ServerMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     src,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	if h.source != nil {
		sub := h.source.Subscribe()
		defer h.source.Unsubscribe(sub)
		go h.listen(sub)
	}

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			logging.Info("WebSocket", "Hub stopped", nil)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket", fmt.Sprintf("Client connected (total: %d)", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			n := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket", fmt.Sprintf("Client disconnected (total: %d)", n))

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver sends message to every interested client and drops clients whose
// buffer is full
func (h *Hub) deliver(message ServerMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if result, ok := message.Data.(probe.Result); ok && !client.isSubscribed(result.Target.Key()) {
			continue
		}

		select {
		case client.send <- message:
		default:
			client.closeSend()
			delete(h.clients, client)
		}
	}
}

// Stop signals the hub to shutdown
func (h *Hub) Stop() {
	close(h.done)
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// listen relays recorded probe results until the subscription closes
func (h *Hub) listen(sub <-chan probe.Result) {
	for result := range sub {
		select {
		case h.broadcast <- ServerMessage{Type: "probe_result", Data: result}:
		case <-h.done:
			return
		}
	}
}

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan ServerMessage

	// closed is set once the hub has closed send
	sendMu sync.Mutex
	closed bool

	// Subscribed target keys
	targets    map[string]bool
	allTargets bool
	mu         sync.RWMutex
}

// isSubscribed checks if client is subscribed to a target key
func (c *Client) isSubscribed(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.allTargets {
		return true
	}
	return c.targets[key]
}

// subscribe adds targets to subscription
func (c *Client) subscribe(targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range targets {
		if t == "all" {
			c.allTargets = true
			return
		}
		c.targets[t] = true
	}
}

// unsubscribe removes targets from subscription
func (c *Client) unsubscribe(targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range targets {
		if t == "all" {
			c.allTargets = false
			c.targets = make(map[string]bool)
			return
		}
		delete(c.targets, t)
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket", "Read error", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("Invalid message format")
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.subscribe(msg.Targets)
			logging.Debug("WebSocket", fmt.Sprintf("Client subscribed to: %v", msg.Targets))
		case "unsubscribe":
			c.unsubscribe(msg.Targets)
			logging.Debug("WebSocket", fmt.Sprintf("Client unsubscribed from: %v", msg.Targets))
		default:
			c.sendError("Unknown message type: " + msg.Type)
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				logging.Warn("WebSocket", "Marshal error", err)
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// closeSend closes the send channel once. Only the hub calls it.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendError queues an error message for the client. It is dropped when the
// buffer is full or the hub has already closed send.
func (c *Client) sendError(msg string) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ServerMessage{Type: "error", Data: msg}:
		return true
	default:
		return false
	}
}

// ServeWebSocket handles WebSocket requests from clients
func ServeWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Warn("WebSocket", "Upgrade error", err)
			return
		}

		client := &Client{
			hub:     hub,
			conn:    conn,
			send:    make(chan ServerMessage, 256),
			targets: make(map[string]bool),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

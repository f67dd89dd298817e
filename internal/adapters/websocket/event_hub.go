// Package websocket streams conversation events and log lines to admin dashboards
package websocket

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bewo-chat/internal/core/domain"
	"bewo-chat/internal/core/ports"
)

var _ ports.EventPublisher = (*EventHub)(nil)

// EventLog is the event type used for mirrored log lines
const EventLog = "log"

// EventHub manages WebSocket connections and fans events out to all clients.
// It also implements io.Writer so the process log can be mirrored to it.
// 1 source -> N admin clients, never blocking the source.
type EventHub struct {
	clients map[*Client]struct{}

	// Buffered channel for outgoing frames (drop-if-full)
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	mu sync.RWMutex

	adminKey string

	upgrader websocket.Upgrader
}

// Client represents a connected WebSocket client
type Client struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

const (
	broadcastBufferSize = 256
	clientBufferSize    = 64

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// NewEventHub creates a hub; adminKey guards ServeWS
func NewEventHub(adminKey string) *EventHub {
	return &EventHub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		adminKey:   adminKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard may live on another origin; the admin key protects the stream
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run is the hub's event loop; it returns when ctx is done and closes all clients
func (h *EventHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Debug("🟢 Event stream client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Debug("🔴 Event stream client disconnected", "total", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				// slow clients skip frames instead of blocking the hub
				select {
				case client.send <- message:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish implements ports.EventPublisher. Never blocks; drops when full.
func (h *EventHub) Publish(event domain.Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	frame, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Failed to encode event", "type", event.Type, "error", err)
		return
	}
	h.enqueue(frame)
}

// Write implements io.Writer for mirroring log output.
// Logging must never block the main app, so frames are dropped when full.
func (h *EventHub) Write(p []byte) (n int, err error) {
	line := bytes.TrimRight(p, "\n\r")
	if len(line) == 0 {
		return len(p), nil
	}

	var data any = string(line)
	if json.Valid(line) {
		// Clone: the logger reuses its buffer
		data = json.RawMessage(append([]byte(nil), line...))
	}
	frame, err := json.Marshal(domain.Event{Type: EventLog, Data: data, At: time.Now()})
	if err == nil {
		h.enqueue(frame)
	}
	return len(p), nil
}

func (h *EventHub) enqueue(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
	}
}

// Authorized checks the admin key from the query string or X-Admin-Key header
func (h *EventHub) Authorized(r *http.Request) bool {
	key := r.URL.Query().Get("secret_key")
	if key == "" {
		key = r.Header.Get("X-Admin-Key")
	}
	return h.adminKey != "" && key != "" &&
		subtle.ConstantTimeCompare([]byte(key), []byte(h.adminKey)) == 1
}

// ServeWS handles WebSocket upgrade requests
// Route: /ws/events?secret_key=ADMIN_KEY
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.Authorized(r) {
		http.Error(w, "Unauthorized: Invalid or missing secret_key", http.StatusUnauthorized)
		slog.Warn("⚠️ Unauthorized WebSocket attempt", "remote_addr", r.RemoteAddr)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("❌ WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so pongs and close frames are processed
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("Event stream read error", "error", err)
			}
			break
		}
	}
}

// writePump sends one JSON frame per event
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

// ClientCount returns the current number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

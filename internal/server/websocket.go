package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/eventshot/internal/orchestrator"
)

const (
	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingInterval must stay below pongWait.
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	// sendBuffer is the per-client backlog; messages beyond it are dropped.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status stream is read-only.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is a single websocket frame sent to clients. A "transition"
// message carries an orchestrator.Transition, a "stats" message a
// StatsResponse.
type Message struct {
	Type    string `json:"type"` // transition, stats
	Payload any    `json:"payload"`
}

// client is one websocket connection. send is closed exactly once, either by
// unregister or by CloseAll, which makes writePump send a close frame.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans item transitions and periodic stats out to websocket clients.
// It implements orchestrator.Observer.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

// OnTransition broadcasts t. Slow clients drop messages rather than block workers.
func (h *Hub) OnTransition(t orchestrator.Transition) {
	h.broadcast("transition", t)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run sends a stats message every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration, status StatusSource) {
	if status == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcast("stats", StatsResponse{
				Stats:  status.Stats(),
				Active: status.Active(),
				Live:   len(status.Items()),
				Time:   time.Now().UTC().Format(time.RFC3339),
			})
		}
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// broadcast encodes one message and offers it to every client without
// blocking.
func (h *Hub) broadcast(kind string, payload any) {
	data, err := json.Marshal(Message{Type: kind, Payload: payload})
	if err != nil {
		h.logger.Error("Failed to encode websocket message", "type", kind, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
			websocketMessagesTotal.WithLabelValues(kind).Inc()
		default:
			websocketMessagesTotal.WithLabelValues("dropped").Inc()
		}
	}
}

// register adds c to the broadcast set.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	websocketConnections.Inc()
}

// unregister removes c and closes its send channel if CloseAll has not.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	websocketConnections.Dec()
}

// websocketHandler upgrades the connection and streams hub messages.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.hub.register(c)
	s.logger.Debug("WebSocket client connected", "remote_addr", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(c)
}

// readPump discards client frames and keeps the read deadline fresh.
func (s *Server) readPump(c *client) {
	defer s.hub.unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
	}
}

// writePump drains c.send into the connection and pings every pingInterval.
// It owns all writes to c.conn and closes it on return.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

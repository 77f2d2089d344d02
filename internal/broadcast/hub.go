// Package broadcast fans supervisor events out to WebSocket observers. Slow
// subscribers never block producers: each client owns a bounded send queue
// and messages are dropped when it is full.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"streampulse/internal/supervisor"
)

const sendQueueSize = 32

// Config configures a Hub.
type Config struct {
	Logger *slog.Logger
	// Snapshot, when set, supplies the replay delivered to every client
	// right after it connects, before any live events.
	Snapshot func() []supervisor.Event
	// HeartbeatInterval controls WebSocket ping frames to connected
	// clients. A zero value disables heartbeats.
	HeartbeatInterval time.Duration
	// CheckOrigin overrides the upgrade origin policy. Nil allows all
	// origins, which suits same-host dashboards behind a reverse proxy.
	CheckOrigin func(r *http.Request) bool
}

// Hub tracks connected observers and broadcasts supervisor events to them.
type Hub struct {
	logger    *slog.Logger
	snapshot  func() []supervisor.Event
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub initialises a hub from the configuration.
func NewHub(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		logger:    logger,
		snapshot:  cfg.Snapshot,
		heartbeat: cfg.HeartbeatInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish broadcasts one event to every connected client. It never blocks;
// clients whose queues are full miss the event.
func (h *Hub) Publish(event supervisor.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "type", string(event.Type), "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// ClientCount reports the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnection upgrades the request and attaches the client to the hub.
// The current state snapshot is queued before the client sees live events.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
	if h.snapshot != nil {
		for _, event := range h.snapshot() {
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			select {
			case c.send <- payload:
			default:
			}
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop(h.heartbeat)
	go c.readLoop()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed sync.Once
}

func (c *client) writeLoop(heartbeat time.Duration) {
	defer c.close()

	var ping <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames; the stream is one-way. It exists to
// notice the peer going away.
func (c *client) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.closed.Do(func() {
		c.hub.detach(c)
		close(c.send)
		_ = c.conn.Close()
	})
}

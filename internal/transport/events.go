package transport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LifecycleEvent is a model/pipeline state change forwarded to connected
// /v1/events clients: a Poller's per-model and per-pipeline apply outcome
// ("model.applied", "model.failed", "pipeline.applied", "pipeline.failed").
type LifecycleEvent struct {
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans LifecycleEvents out to every connected WebSocket client.
// Grounded on the teacher's WebSocketHub (cmd/server/handlers/silence_ws.go),
// narrowed to one broadcast channel since this shell carries a single event
// kind rather than the teacher's per-feature hub set.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	broadcast chan LifecycleEvent
	logger    *slog.Logger
}

// NewHub creates a Hub with logger as its diagnostic sink.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan LifecycleEvent, 256),
		logger:    logger.With("component", "transport.hub"),
	}
}

// Run drains the broadcast channel until ctx-equivalent stop is signaled
// by closing done.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.closeAll()
			return
		case ev := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				go h.send(c, ev)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) send(c *websocket.Conn, ev LifecycleEvent) {
	c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.WriteJSON(ev); err != nil {
		h.logger.Warn("transport: dropping unresponsive event client", "error", err)
		h.unregister(c)
	}
}

// Publish queues ev for broadcast, dropping it if the channel is full
// rather than blocking the caller (a poller tick or an ApplyDiff call).
func (h *Hub) Publish(ev LifecycleEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("transport: event broadcast channel full, dropping event", "type", ev.Type, "name", ev.Name)
	}
}

func (h *Hub) register(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.Close()
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}

// PublishModelEvent satisfies internal/config.EventPublisher, letting a
// Poller forward each applied model's outcome without importing transport.
func (h *Hub) PublishModelEvent(name, outcome string) {
	h.Publish(LifecycleEvent{Type: "model." + outcome, Name: name, Timestamp: time.Now()})
}

// PublishPipelineEvent satisfies internal/config.EventPublisher for
// pipeline apply outcomes.
func (h *Hub) PublishPipelineEvent(name, outcome string) {
	h.Publish(LifecycleEvent{Type: "pipeline." + outcome, Name: name, Timestamp: time.Now()})
}

// ServeWS upgrades r to a WebSocket connection and registers it for
// lifecycle-event broadcast until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("transport: websocket upgrade failed", "error", err)
		return
	}
	h.register(conn)
	go h.readPump(conn)
}

func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.unregister(conn)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atmx/trade-engine/internal/metrics"
	"github.com/atmx/trade-engine/internal/model"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// subscriber is one connected client. A nil types set receives every event.
type subscriber struct {
	conn  *websocket.Conn
	types map[string]bool
}

func (s *subscriber) wants(typ string) bool {
	return s.types == nil || s.types[typ]
}

// Hub pushes events to WebSocket clients. A client may limit the event
// types it receives with ?types=buy,sell on the upgrade request.
type Hub struct {
	logger     *zap.Logger
	clients    map[*websocket.Conn]*subscriber
	events     chan model.Event
	register   chan *subscriber
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a hub with an empty client set.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*websocket.Conn]*subscriber),
		events:     make(chan model.Event, 256),
		register:   make(chan *subscriber),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = sub
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.logger.Info("ws client connected", zap.Int("total", n), zap.Strings("types", typeList(sub.types)))

		case conn := <-h.unregister:
			h.drop(conn)

		case e := <-h.events:
			h.deliver(e)
		}
	}
}

// deliver encodes e once and writes it to every interested client. A
// client whose write fails is dropped.
func (h *Hub) deliver(e model.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("ws event encode failed", zap.String("event", e.Type), zap.Error(err))
		return
	}
	h.mu.Lock()
	for conn, sub := range h.clients {
		if !sub.wants(e.Type) {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify queues e for delivery. It never blocks the caller; when the
// queue is full the event is dropped and counted.
func (h *Hub) Notify(e model.Event) {
	select {
	case h.events <- e:
	default:
		metrics.EventsDropped.Inc()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /api/v1/ws and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	types := parseTypes(r.URL.Query().Get("types"))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	select {
	case h.register <- &subscriber{conn: conn, types: types}:
	case <-h.done:
		conn.Close()
		return
	}

	go h.readPump(conn)
	go h.pingLoop(conn)
}

// readPump discards client messages; it exists to see pongs and
// disconnects.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		h.mu.Lock()
		_, ok := h.clients[conn]
		var err error
		if ok {
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
		h.mu.Unlock()
		if !ok || err != nil {
			return
		}
	}
}

// parseTypes reads a comma-separated event type list. Empty means all.
func parseTypes(raw string) map[string]bool {
	var types map[string]bool
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		if types == nil {
			types = make(map[string]bool)
		}
		types[t] = true
	}
	return types
}

func typeList(types map[string]bool) []string {
	if types == nil {
		return []string{"*"}
	}
	out := make([]string, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	return out
}

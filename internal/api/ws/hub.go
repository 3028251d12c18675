// Package ws implements the event stream endpoint: subscribers connect over
// WebSocket and receive every published log event as a JSON text frame.
// Subscribers keep their connection alive by sending timestamp-only ack
// frames; an ack carries no payload worth processing and is dropped after
// refreshing the read deadline.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tracelight/crunch/internal/infrastructure/monitoring"
	"github.com/tracelight/crunch/internal/shared/types"
)

// readDeadline is how long a subscriber may stay silent before the hub
// drops it. Crunch clients heartbeat every 15s by default, so this allows
// several missed beats.
const readDeadline = 60 * time.Second

// sendBuffer is the per-subscriber outbound queue. A subscriber that cannot
// keep up loses events rather than stalling the hub.
const sendBuffer = 256

// Hub fans published events out to all connected subscribers.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an event hub.
func NewHub(logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// HandleConnection upgrades the request and serves the subscription until
// the peer disconnects or goes silent.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	h.metrics.IncWSConnections()
	h.logger.Debug("event subscriber connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writeLoop(cl)
	h.readLoop(cl)
}

// readLoop consumes inbound frames. The only expected inbound traffic is
// keep-alive acks; anything readable refreshes the deadline, anything else
// is ignored.
func (h *Hub) readLoop(cl *client) {
	defer h.drop(cl)

	cl.conn.SetReadDeadline(time.Now().Add(readDeadline))

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		cl.conn.SetReadDeadline(time.Now().Add(readDeadline))

		var ack types.LogAck
		if err := sonic.Unmarshal(data, &ack); err == nil && ack.Type == types.AckType {
			h.metrics.RecordWSMessage("in", types.AckType)
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	for data := range cl.send {
		if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
		h.metrics.RecordWSMessage("out", "event")
	}
}

// Publish broadcasts one event to every subscriber. A subscriber with a
// full queue misses the event; the hub never blocks the publisher.
func (h *Hub) Publish(ev *types.LogEvent) {
	if ev == nil {
		return
	}

	data, err := sonic.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event for broadcast", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for cl := range h.clients {
		select {
		case cl.send <- data:
		default:
			h.logger.Warn("slow event subscriber, dropping frame",
				zap.String("remote", cl.conn.RemoteAddr().String()))
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown disconnects all subscribers and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		cl.conn.Close()
	}
}

// drop unregisters a client and tears its connection down.
func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
		h.metrics.DecWSConnections()
	}
	h.mu.Unlock()

	cl.conn.Close()
}

package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
)

const (
	// writeTimeout bounds a single frame write to one subscriber.
	writeTimeout = 10 * time.Second
	// sendBuffer frames may queue per subscriber before it is dropped.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from arbitrary origins in lab setups.
	CheckOrigin: func(*http.Request) bool { return true },
}

// subscriber owns one connection. All writes to the connection happen on
// its writeLoop goroutine; the hub only ever enqueues onto send.
type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan models.Frame
}

// Hub tracks live-channel subscribers and fans frames out to all of them.
// Broadcast never writes to a socket directly: it enqueues onto each
// subscriber's buffered channel and drops subscribers whose buffer is
// full, so a stalled reader cannot block incident ingress.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]*subscriber), logger: logger}
}

// ServeHTTP upgrades the request and serves the subscriber until it
// disconnects. An inbound "ping" text message is answered with a
// heartbeat frame; any other inbound payload is ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	sub := h.add(conn)
	go h.writeLoop(sub)
	defer h.remove(sub.id)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) != "ping" {
			continue
		}
		h.enqueue(sub.id, models.Frame{Type: models.FrameHeartbeat, Timestamp: time.Now().UTC()})
	}
}

// Broadcast sends one frame to every subscriber. A subscriber whose send
// buffer is full is dropped; nothing blocks and nothing propagates to the
// caller.
func (h *Hub) Broadcast(frameType models.FrameType, incidentID string, data any) {
	frame := models.Frame{
		Type:       frameType,
		IncidentID: incidentID,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		select {
		case sub.send <- frame:
		default:
			h.logger.Debug("dropping stalled subscriber", slog.String("subscriber", id))
			delete(h.subs, id)
			close(sub.send)
			sub.conn.Close()
		}
	}
	metrics.SetWSClients(len(h.subs))
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.send)
		sub.conn.Close()
	}
	metrics.SetWSClients(0)
}

// writeLoop drains the subscriber's queue onto its socket. Each write
// carries a deadline; a failed write unregisters the subscriber, which
// closes the channel and ends the loop.
func (h *Hub) writeLoop(sub *subscriber) {
	for frame := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteJSON(frame); err != nil {
			h.logger.Debug("dropping dead subscriber",
				slog.String("subscriber", sub.id), slog.Any("error", err))
			h.remove(sub.id)
		}
	}
}

// enqueue queues a frame for one subscriber if it is still registered,
// discarding the frame when the buffer is full.
func (h *Hub) enqueue(id string, frame models.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	select {
	case sub.send <- frame:
	default:
	}
}

func (h *Hub) add(conn *websocket.Conn) *subscriber {
	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan models.Frame, sendBuffer),
	}
	h.mu.Lock()
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	metrics.SetWSClients(n)
	h.logger.Info("subscriber connected",
		slog.String("subscriber", sub.id), slog.Int("total", n))
	return sub
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.send)
		sub.conn.Close()
	}
	n := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.SetWSClients(n)
	h.logger.Info("subscriber disconnected",
		slog.String("subscriber", id), slog.Int("total", n))
}

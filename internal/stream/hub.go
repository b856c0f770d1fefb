package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/y0f/probeboard/internal/storage"
)

const (
	defaultBuffer = 32
	writeTimeout  = 5 * time.Second
)

// Event is published once per committed health check.
type Event struct {
	Type        string               `json:"type"` // always "check"
	ServiceID   string               `json:"service_id"`
	ServiceName string               `json:"service_name"`
	Result      *storage.CheckRecord `json:"result"`
}

type subscriber struct {
	send chan []byte
}

// Hub fans events out to WebSocket clients. Publishing never blocks: a
// client whose buffer is full is disconnected.
type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	buffer  int
	origins []string
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewHub creates a hub. origins lists the host patterns allowed to open a
// stream from a browser; same-origin requests are always accepted.
func NewHub(origins []string, logger *slog.Logger) *Hub {
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		buffer:  defaultBuffer,
		origins: origins,
		logger:  logger,
	}
}

// Publish sends a check event to every connected client.
func (h *Hub) Publish(serviceID, serviceName string, rec *storage.CheckRecord) {
	data, err := json.Marshal(Event{Type: "check", ServiceID: serviceID, ServiceName: serviceName, Result: rec})
	if err != nil {
		h.logger.Error("stream: encode event", "service", serviceID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			delete(h.subs, s)
			close(s.send)
			h.dropped.Add(1)
			h.logger.Warn("stream: dropped slow client")
		}
	}
}

// Subscribe registers a client. The channel is closed when the client is
// dropped or cancel is called.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	s := &subscriber{send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s.send, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[s]; ok {
			delete(h.subs, s)
			close(s.send)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many clients were disconnected for falling behind.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("stream: upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	events, cancel := h.Subscribe()
	defer cancel()

	h.logger.Debug("stream: client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := write(ctx, conn, msg); err != nil {
				h.logger.Debug("stream: write failed", "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dontdude/walq/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 64
	writeWait        = 5 * time.Second
)

// Hub fans queue events out to WebSocket subscribers.
// Slow subscribers lose events rather than stall the broker.
type Hub struct {
	mu       sync.RWMutex
	subs     map[*subscriber]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type subscriber struct {
	conn *websocket.Conn
	send chan domain.Event
}

var _ domain.Observer = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // admin surface, any origin
		},
		logger: logger,
	}
}

// Notify queues ev for every subscriber without blocking.
func (h *Hub) Notify(ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.send <- ev:
		default:
			h.logger.Debug("Dropping event for slow subscriber", "remoteAddr", s.conn.RemoteAddr())
		}
	}
}

// Subscribers returns the number of connected WebSocket clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// HandleWS upgrades the request and streams events as JSON until the client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	s := &subscriber{conn: conn, send: make(chan domain.Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("Event subscriber connected", "remoteAddr", conn.RemoteAddr())

	done := make(chan struct{})
	go h.writeLoop(s, done)

	// Keep reading so close frames and disconnects are noticed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	close(s.send)
	<-done
	conn.Close()
	h.logger.Info("Event subscriber disconnected", "remoteAddr", conn.RemoteAddr())
}

func (h *Hub) writeLoop(s *subscriber, done chan<- struct{}) {
	defer close(done)
	for ev := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(ev); err != nil {
			h.logger.Warn("Failed to write event", "error", err)
			s.conn.Close()
			// Drain until HandleWS unregisters us and closes send.
			for range s.send {
			}
			return
		}
	}
}

// Package hub fans out alert events to WebSocket subscribers.
package hub

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hdnguyen/soc-sentinel/internal/observability"
)

const (
	// Per-subscriber outbound buffer. A subscriber that falls this far
	// behind is dropped rather than slowing the pipeline.
	sendBufferSize = 64

	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Hub tracks connected subscribers and broadcasts serialized events.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// New creates an empty hub. metrics may be nil.
func New(logger *zap.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		logger:      logger,
		metrics:     metrics,
	}
}

// Subscriber is one connected WebSocket client.
type Subscriber struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue places data on the outbound buffer. Reports false when the
// buffer is full or the subscriber is already closed.
func (s *Subscriber) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Subscribe registers conn, sends the handshake frame, and starts the
// read/write pumps. Returns after the pumps are running.
func (h *Hub) Subscribe(conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SubscribersConnected.Set(float64(count))
	}
	h.logger.Info("WebSocket subscriber connected", zap.Int("clients", count))

	handshake, _ := json.Marshal(map[string]any{
		"type":      "connected",
		"message":   "Live alert stream connected",
		"clients":   count,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	sub.enqueue(handshake)

	go sub.writePump()
	go sub.readPump()
	return sub
}

// Unsubscribe removes sub and closes its connection. Safe to call more
// than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, present := h.subscribers[sub]
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	sub.close()
	sub.conn.Close()

	if !present {
		return
	}
	if h.metrics != nil {
		h.metrics.SubscribersConnected.Set(float64(count))
	}
	h.logger.Info("WebSocket subscriber disconnected", zap.Int("clients", count))
}

// Broadcast serializes payload once and queues it to every subscriber.
// Subscribers whose buffers are full are dropped.
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Broadcast marshal failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.enqueue(data) {
			h.logger.Warn("Dropping slow WebSocket subscriber")
			if h.metrics != nil {
				h.metrics.SubscribersDropped.Inc()
			}
			h.Unsubscribe(sub)
		}
	}

	if h.metrics != nil {
		h.metrics.BroadcastsSent.Inc()
	}
}

// ClientCount returns the current subscriber count.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// readPump consumes client frames. The only client message handled is
// the literal text "ping", which gets a "pong" reply; a JSON
// {"type":"ping"} frame is accepted too. Everything else is ignored.
func (s *Subscriber) readPump() {
	defer s.hub.Unsubscribe(s)

	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if s.isPing(msg) {
			pong, _ := json.Marshal(map[string]any{
				"type":      "pong",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			s.enqueue(pong)
		}
	}
}

func (s *Subscriber) isPing(msg []byte) bool {
	if strings.TrimSpace(string(msg)) == "ping" {
		return true
	}
	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		return false
	}
	return frame.Type == "ping"
}

// writePump drains the send channel to the socket.
func (s *Subscriber) writePump() {
	defer s.hub.Unsubscribe(s)

	for data := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

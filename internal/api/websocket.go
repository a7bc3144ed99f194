package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fleet/internal/infrastructure/logging"
)

// Message types on the /ws stream.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll matches every device and action event.
	WSChannelAll = "*"

	// Events queued per subscriber before new ones are dropped.
	wsQueueSize = 256

	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 // seconds
	defaultWSPongTimeout    = 10 // seconds
)

// WSMessage is the envelope for every frame in either direction.
//
// Seq numbers events in broadcast order. A subscriber that sees a gap missed
// events because it fell behind and should re-read state over REST.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists event channels, e.g. "action.status_changed".
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans orchestrator events out to WebSocket subscribers.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	seq     atomic.Uint64
	dropped atomic.Uint64

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
}

// subscriber is one /ws connection.
type subscriber struct {
	hub  *Hub
	conn *websocket.Conn

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates a hub. Zero config values take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultWSMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultWSPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultWSPongTimeout
	}
	return &Hub{
		cfg:         cfg,
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
}

// Broadcast publishes an event on channel. It never blocks: a subscriber
// whose queue is full misses the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Seq:       h.seq.Add(1),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.subscribers {
		if !s.wants(channel) {
			continue
		}
		if s.enqueue(data) {
			delivered++
		} else {
			h.dropped.Add(1)
			h.logger.Warn("websocket subscriber lagging, event dropped", "channel", channel)
		}
	}
	if delivered > 0 {
		h.logger.Debug("event published", "channel", channel, "subscribers", delivered)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()
	h.logger.Debug("websocket subscriber connected", "subscribers", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	n := len(h.subscribers)
	h.mu.Unlock()
	s.close()
	h.logger.Debug("websocket subscriber disconnected", "subscribers", n)
}

// handleWebSocket upgrades the request and serves the event stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		hub:      s.hub,
		conn:     conn,
		queue:    make(chan []byte, wsQueueSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	s.hub.add(sub)

	go sub.writeLoop()
	go sub.readLoop()
}

// close ends the subscriber's loops. Safe to call more than once.
func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *subscriber) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.queue <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.channels[WSChannelAll]; ok {
		return true
	}
	_, ok := s.channels[channel]
	return ok
}

func (s *subscriber) readLoop() {
	defer s.hub.remove(s)

	cfg := s.hub.cfg
	keepAlive := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return s.conn.SetReadDeadline(time.Now().Add(keepAlive)) }

	s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend()
	s.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application-level pings count as liveness too.
		_ = extend()
		s.handle(frame)
	}
}

func (s *subscriber) writeLoop() {
	cfg := s.hub.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()

	write := func(kind int, data []byte) error {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return s.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-s.done:
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "fleetd shutting down"))
			return
		case data := <-s.queue:
			if err := write(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *subscriber) handle(frame []byte) {
	var msg WSMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		s.fail("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		s.updateChannels(msg, true)
	case WSTypeUnsubscribe:
		s.updateChannels(msg, false)
	case WSTypePing:
		s.reply(msg.ID, WSTypePong, nil)
	default:
		s.fail(msg.ID, "unknown message type: "+msg.Type)
	}
}

// updateChannels applies a subscribe or unsubscribe request.
func (s *subscriber) updateChannels(msg WSMessage, subscribe bool) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		s.fail(msg.ID, "invalid payload")
		return
	}
	var req WSSubscribePayload
	if err := json.Unmarshal(raw, &req); err != nil || len(req.Channels) == 0 {
		s.fail(msg.ID, "payload must list channels")
		return
	}

	s.mu.Lock()
	for _, ch := range req.Channels {
		if subscribe {
			s.channels[ch] = struct{}{}
		} else {
			delete(s.channels, ch)
		}
	}
	s.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
		s.hub.logger.Debug("websocket subscriber joined channels", "channels", req.Channels)
	}
	s.reply(msg.ID, WSTypeResponse, map[string]any{key: req.Channels})
}

func (s *subscriber) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	s.enqueue(data)
}

func (s *subscriber) fail(id, message string) {
	s.reply(id, WSTypeError, map[string]string{"message": message})
}

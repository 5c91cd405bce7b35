// Package realtime fans attendance events out to websocket subscribers.
// Delivery is best effort: nothing is replayed and slow subscribers are dropped.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// EventType names a broadcast event.
type EventType string

const (
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"
	EventMarkRecorded  EventType = "mark_recorded"
)

// Event is the payload pushed to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	CourseID  string    `json:"course_id"`
	SessionID string    `json:"session_id"`
	Code      string    `json:"code,omitempty"`
	Count     int       `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

// Hub owns the subscriber set. Only the Run goroutine touches it.
type Hub struct {
	events     chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	clients    map[*Client]struct{}
	clientsN   atomic.Int64
	dropped    atomic.Uint64
	sendBuffer int

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub builds a hub whose per-client queues hold sendBuffer messages.
func NewHub(sendBuffer int, logger *zap.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		events:     make(chan Event, sendBuffer*4),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run dispatches events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.remove(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.clientsN.Store(int64(len(h.clients)))
		case c := <-h.unregister:
			h.remove(c)
		case evt := <-h.events:
			h.broadcast(evt)
		}
	}
}

func (h *Hub) broadcast(evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("marshal realtime event", zap.Error(err))
		return
	}
	for c := range h.clients {
		if !c.wants(evt) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("dropping slow realtime subscriber", zap.String("subscriber", c.id))
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.clientsN.Store(int64(len(h.clients)))
}

// Publish enqueues evt without blocking. It reports false when the event was dropped.
func (h *Hub) Publish(evt Event) bool {
	if h == nil {
		return false
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case h.events <- evt:
		return true
	default:
		h.dropped.Add(1)
		h.logger.Warn("realtime queue full, event dropped", zap.String("type", string(evt.Type)), zap.String("session_id", evt.SessionID))
		return false
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	return int(h.clientsN.Load())
}

// Dropped returns how many events were discarded because the queue was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ServeWS upgrades the request and streams events to it. courseID, when set,
// limits the stream to that course.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, subscriberID, courseID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, h.sendBuffer), id: subscriberID, courseID: courseID}
	if !h.attach(c) {
		_ = conn.Close()
		return nil
	}

	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

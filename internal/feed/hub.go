package feed

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Message types exchanged with websocket clients.
const (
	MessageTypeChange       = "change"
	MessageTypeNotification = "notification"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message is the websocket envelope.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Notification is a transient, user-facing message addressed to a device.
type Notification struct {
	Level   string    `json:"level"` // info | success | error
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type deviceNote struct {
	deviceID string
	note     Notification
}

// Hub keeps the connected clients and delivers changes to the ones whose
// subscriptions match, and notifications to the clients of one device.
type Hub struct {
	log        logrus.FieldLogger
	clients    map[*Client]bool
	broadcast  chan Change
	notes      chan deviceNote
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	lmu       sync.RWMutex
	listeners []func(Change)
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:        log.WithField("component", "feed-hub"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Change, 256),
		notes:      make(chan deviceNote, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Run processes registrations and deliveries until ctx is done, then
// closes every client.  Lifecycle events are drained before deliveries so
// a client registered before a change is published receives it.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.Register:
			h.add(c)
			continue
		case c := <-h.Unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.Register:
			h.add(c)
		case c := <-h.Unregister:
			h.remove(c)
		case ch := <-h.broadcast:
			h.deliverChange(ch)
		case n := <-h.notes:
			h.deliverNote(n)
		}
	}
}

// Publish queues c for local delivery.  The Hub doubles as the Publisher
// when no broker is configured.
func (h *Hub) Publish(ctx context.Context, c Change) error {
	select {
	case h.broadcast <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify queues a notification for every client of deviceID.  It never
// blocks; a full queue drops the notification.
func (h *Hub) Notify(deviceID, level, message string) {
	select {
	case h.notes <- deviceNote{deviceID: deviceID, note: Notification{Level: level, Message: message, At: time.Now().UTC()}}:
	default:
		h.log.WithField("device_id", deviceID).Warn("notification queue full, dropping")
	}
}

// Listen registers fn to be called, on the hub goroutine, for every
// change before it is delivered to clients.  In-process caches use it to
// reconcile with the feed.
func (h *Hub) Listen(fn func(Change)) {
	h.lmu.Lock()
	h.listeners = append(h.listeners, fn)
	h.lmu.Unlock()
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("total_clients", n).Debug("client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("total_clients", n).Debug("client disconnected")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) deliverChange(ch Change) {
	h.lmu.RLock()
	for _, fn := range h.listeners {
		fn(ch)
	}
	h.lmu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(ch) {
			continue
		}
		select {
		case c.send <- Message{Type: MessageTypeChange, Data: ch}:
		default:
			// slow consumer
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) deliverNote(n deviceNote) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.deviceID != n.deviceID {
			continue
		}
		select {
		case c.send <- Message{Type: MessageTypeNotification, Data: n.note}:
		default:
		}
	}
}

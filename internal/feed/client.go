package feed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Client is one websocket connection.  Subscriptions are added and
// removed by the client itself through subscribe/unsubscribe messages.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan Message
	deviceID string

	mu   sync.RWMutex
	subs map[string]Subscription // keyed by table+filter
}

func NewClient(hub *Hub, conn *websocket.Conn, deviceID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan Message, 256),
		deviceID: deviceID,
		subs:     make(map[string]Subscription),
	}
}

// Subscribe adds s after validating it.
func (c *Client) Subscribe(s Subscription) error {
	if err := s.Parse(); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[s.Table+"|"+s.Filter] = s
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes s; unknown subscriptions are ignored.
func (c *Client) Unsubscribe(s Subscription) {
	c.mu.Lock()
	delete(c.subs, s.Table+"|"+s.Filter)
	c.mu.Unlock()
}

func (c *Client) wants(ch Change) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.subs {
		if s.Matches(ch) {
			return true
		}
	}
	return false
}

// Start launches the read and write pumps and registers with the hub.
func (c *Client) Start() {
	c.hub.Register <- c
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("unexpected websocket close")
			}
			return
		}
		c.handle(in.Type, in.Data)
	}
}

func (c *Client) handle(typ string, data json.RawMessage) {
	switch typ {
	case MessageTypePing:
		c.trySend(Message{Type: MessageTypePong})
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		var s Subscription
		if err := json.Unmarshal(data, &s); err != nil {
			c.trySend(Message{Type: MessageTypeError, Data: "invalid subscription"})
			return
		}
		if typ == MessageTypeUnsubscribe {
			c.Unsubscribe(s)
			return
		}
		if err := c.Subscribe(s); err != nil {
			c.trySend(Message{Type: MessageTypeError, Data: err.Error()})
		}
	default:
		c.trySend(Message{Type: MessageTypeError, Data: "unknown message type"})
	}
}

func (c *Client) trySend(m Message) {
	defer func() { _ = recover() }() // send may be closed by the hub
	select {
	case c.send <- m:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package realtime

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait / 2
	maxMessageSize = 4 << 10 // subscription frames only
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin admits non-browser clients, which send no Origin, and pages
// served from this host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Subscription narrows a client's stream. Empty fields match everything;
// AllEvents overrides the rest. Clients start subscribed to everything.
type Subscription struct {
	AllEvents  bool     `json:"allEvents"`
	EventTypes []string `json:"eventTypes"`
	Principals []string `json:"principals"`
	MinAmount  uint64   `json:"minAmount"`
}

// controlFrame answers a subscription message.
type controlFrame struct {
	Type         string        `json:"type"` // "subscribed" or "error"
	Subscription *Subscription `json:"subscription,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub Subscription
}

func (c *Client) wants(e *Event) bool {
	c.mu.RLock()
	sub := c.sub
	c.mu.RUnlock()

	switch {
	case sub.AllEvents:
		return true
	case len(sub.EventTypes) > 0 && !slices.Contains(sub.EventTypes, e.Type):
		return false
	case len(sub.Principals) > 0 && !slices.ContainsFunc(e.principals, func(p string) bool {
		return slices.Contains(sub.Principals, p)
	}):
		return false
	case sub.MinAmount > 0 && e.amount < sub.MinAmount:
		return false
	}
	return true
}

// subscribe applies a subscription message and queues the reply.
func (c *Client) subscribe(msg []byte) {
	var sub Subscription
	reply := controlFrame{Type: "subscribed", Subscription: &sub}
	if err := json.Unmarshal(msg, &sub); err != nil {
		reply = controlFrame{Type: "error", Message: "invalid subscription: " + err.Error()}
	} else {
		for i, p := range sub.Principals {
			sub.Principals[i] = strings.ToLower(p)
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}

	data, _ := json.Marshal(reply)
	// send is closed under the hub lock once the client leaves the hub.
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// HandleWebSocket upgrades the request and attaches the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	full := len(h.clients) >= h.maxClients
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		sub:  Subscription{AllEvents: true},
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.hub.logger.Debug("stream client read error", "error", err)
			}
			return
		}
		c.subscribe(msg)
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
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

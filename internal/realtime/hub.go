// Package realtime streams committed ledger events over WebSocket.
//
// Every event carries a sequence number assigned in commit order. A client
// that sees a gap has missed events, either because the hub's queue was
// full or because the client was too slow and got disconnected.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/sentinel/internal/metrics"
	"github.com/mbd888/sentinel/internal/state"
)

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

const queueSize = 256

// Event is a committed ledger event as delivered to clients.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`

	principals []string
	amount     uint64
	payload    []byte
}

// Stats describes hub activity since start.
type Stats struct {
	Clients         int    `json:"clients"`
	LastSeq         uint64 `json:"lastSeq"`
	Delivered       uint64 `json:"delivered"`
	DroppedEvents   uint64 `json:"droppedEvents"`
	SlowDisconnects uint64 `json:"slowDisconnects"`
}

// Hub fans committed events out to subscribed clients.
type Hub struct {
	logger     *slog.Logger
	maxClients int

	queue      chan *Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run exits

	mu      sync.RWMutex
	clients map[*Client]struct{}

	seq          atomic.Uint64
	delivered    atomic.Uint64
	dropped      atomic.Uint64
	disconnected atomic.Uint64
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		maxClients: MaxClients,
		queue:      make(chan *Event, queueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// Publish is a state.Listener. The store calls it in commit order, so the
// sequence numbers it assigns follow commit order too. It never blocks:
// when the queue is full the event is counted as dropped and its sequence
// number is skipped.
func (h *Hub) Publish(events []state.Event) {
	now := time.Now().UTC()
	for _, ev := range events {
		e := newEvent(ev, now)
		e.Seq = h.seq.Add(1)
		e.payload, _ = json.Marshal(e)
		select {
		case h.queue <- e:
		default:
			h.dropped.Add(1)
			h.logger.Warn("event queue full, dropping event", "seq", e.Seq, "type", e.Type)
		}
	}
}

// Run delivers queued events until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("stream client connected", "clients", n)

		case c := <-h.unregister:
			h.drop(c)

		case e := <-h.queue:
			h.deliver(e)
		}
	}
}

func (h *Hub) deliver(e *Event) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.send <- e.payload:
			h.delivered.Add(1)
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.disconnected.Add(1)
		h.logger.Warn("disconnecting slow stream client", "seq", e.Seq)
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		Clients:         n,
		LastSeq:         h.seq.Load(),
		Delivered:       h.delivered.Load(),
		DroppedEvents:   h.dropped.Load(),
		SlowDisconnects: h.disconnected.Load(),
	}
}

// eventFields picks the filterable fields out of any event payload.
type eventFields struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Account   string `json:"account"`
	User      string `json:"user"`
	Amount    uint64 `json:"amount"`
}

func newEvent(ev state.Event, at time.Time) *Event {
	out := &Event{Type: ev.Type, Timestamp: at, Data: ev.Data}

	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return out
	}
	var f eventFields
	if json.Unmarshal(raw, &f) != nil {
		return out
	}
	for _, p := range []string{f.Sender, f.Recipient, f.Account, f.User} {
		if p != "" {
			out.principals = append(out.principals, p)
		}
	}
	out.amount = f.Amount
	return out
}

package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/state"
)

type transfer struct {
	Sender    state.Principal `json:"sender"`
	Recipient state.Principal `json:"recipient"`
	Amount    uint64          `json:"amount"`
}

func testHub() *Hub {
	return NewHub(logging.NewTo(&bytes.Buffer{}, "error", "text"))
}

func payment(from, to string, amount uint64) state.Event {
	return state.Event{
		Type: "payment",
		Data: transfer{Sender: state.Principal(from), Recipient: state.Principal(to), Amount: amount},
	}
}

func clientWith(sub Subscription) *Client {
	return &Client{send: make(chan []byte, sendBuffer), sub: sub}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func attach(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	c.hub = h
	h.register <- c
	require.Eventually(t, func() bool { return h.Stats().Clients > 0 }, time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case msg := <-c.send:
		var out map[string]any
		require.NoError(t, json.Unmarshal(msg, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestWants(t *testing.T) {
	pay := newEvent(payment("0xaa", "0xbb", 15), time.Now())
	frozen := newEvent(state.Event{
		Type: "account_frozen",
		Data: map[string]any{"account": "0xcc", "by": "0x01"},
	}, time.Now())
	day := newEvent(state.Event{Type: "day_advanced", Data: uint64(7)}, time.Now())

	tests := []struct {
		name string
		sub  Subscription
		ev   *Event
		want bool
	}{
		{"all events", Subscription{AllEvents: true, EventTypes: []string{"x"}}, pay, true},
		{"empty subscription", Subscription{}, day, true},
		{"type match", Subscription{EventTypes: []string{"payment", "escrow_created"}}, pay, true},
		{"type miss", Subscription{EventTypes: []string{"escrow_released"}}, pay, false},
		{"sender", Subscription{Principals: []string{"0xaa"}}, pay, true},
		{"recipient", Subscription{Principals: []string{"0xbb"}}, pay, true},
		{"account", Subscription{Principals: []string{"0xcc"}}, frozen, true},
		{"unrelated principal", Subscription{Principals: []string{"0xdd"}}, pay, false},
		{"principal filter drops scalar payloads", Subscription{Principals: []string{"0xaa"}}, day, false},
		{"min amount met", Subscription{MinAmount: 15}, pay, true},
		{"min amount missed", Subscription{MinAmount: 16}, pay, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clientWith(tt.sub).wants(tt.ev))
		})
	}
}

func TestNewEvent_ExtractsFilterFields(t *testing.T) {
	ev := newEvent(payment("0xaa", "0xbb", 500), time.Now())
	assert.Equal(t, []string{"0xaa", "0xbb"}, ev.principals)
	assert.Equal(t, uint64(500), ev.amount)

	ev = newEvent(state.Event{Type: "day_advanced", Data: uint64(7)}, time.Now())
	assert.Empty(t, ev.principals)
	assert.Zero(t, ev.amount)
}

func TestPublish_SequencesInOrder(t *testing.T) {
	h := startHub(t)
	c := clientWith(Subscription{AllEvents: true})
	attach(t, h, c)

	h.Publish([]state.Event{payment("0xaa", "0xbb", 1), payment("0xaa", "0xbb", 2)})
	h.Publish([]state.Event{payment("0xbb", "0xaa", 3)})

	for want := 1; want <= 3; want++ {
		got := receive(t, c)
		assert.Equal(t, float64(want), got["seq"])
		assert.Equal(t, "payment", got["type"])
		assert.Equal(t, float64(want), got["data"].(map[string]any)["amount"])
	}
	assert.Equal(t, uint64(3), h.Stats().LastSeq)
	assert.Equal(t, uint64(3), h.Stats().Delivered)
}

func TestPublish_FullQueueSkipsSequence(t *testing.T) {
	h := testHub() // not running, so nothing drains the queue

	events := make([]state.Event, queueSize+2)
	for i := range events {
		events[i] = payment("0xaa", "0xbb", 1)
	}
	h.Publish(events)

	st := h.Stats()
	assert.Equal(t, uint64(queueSize+2), st.LastSeq)
	assert.Equal(t, uint64(2), st.DroppedEvents)
}

func TestDeliver_FiltersPerClient(t *testing.T) {
	h := startHub(t)
	escrows := clientWith(Subscription{EventTypes: []string{"escrow_released"}})
	attach(t, h, escrows)

	h.Publish([]state.Event{payment("0xaa", "0xbb", 1), {Type: "escrow_released", Data: transfer{Amount: 9}}})

	got := receive(t, escrows)
	assert.Equal(t, "escrow_released", got["type"])
	assert.Equal(t, float64(2), got["seq"], "filtered events still consume a sequence number")
}

func TestDeliver_DisconnectsSlowClient(t *testing.T) {
	h := startHub(t)
	slow := &Client{send: make(chan []byte), sub: Subscription{AllEvents: true}} // never drained
	attach(t, h, slow)

	h.Publish([]state.Event{payment("0xaa", "0xbb", 1)})

	require.Eventually(t, func() bool { return h.Stats().Clients == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), h.Stats().SlowDisconnects)
	_, open := <-slow.send
	assert.False(t, open)
}

func TestRun_ClosesClientsOnShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	c := clientWith(Subscription{AllEvents: true})
	attach(t, h, c)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	_, open := <-c.send
	assert.False(t, open)
	assert.Zero(t, h.Stats().Clients)
}

func TestWebSocket_SubscribeAndStream(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"principals":["0xAA"],"minAmount":10}`)))
	var ack controlFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
	require.NotNil(t, ack.Subscription)
	assert.Equal(t, []string{"0xaa"}, ack.Subscription.Principals)

	h.Publish([]state.Event{
		payment("0xaa", "0xbb", 5),  // below minimum
		payment("0xcc", "0xbb", 50), // other principals
		payment("0xbb", "0xaa", 50),
	})

	var ev struct {
		Seq  uint64   `json:"seq"`
		Data transfer `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, uint64(3), ev.Seq)
	assert.Equal(t, state.Principal("0xaa"), ev.Data.Recipient)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	var nack controlFrame
	require.NoError(t, conn.ReadJSON(&nack))
	assert.Equal(t, "error", nack.Type)
	assert.Contains(t, nack.Message, "invalid subscription")
}

func TestHandleWebSocket_RejectsAfterShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/v1/stream", nil))
	assert.Equal(t, 503, w.Code)
}

func TestSameOrigin(t *testing.T) {
	r := httptest.NewRequest("GET", "http://ledger.local/v1/stream", nil)
	assert.True(t, sameOrigin(r))
	r.Header.Set("Origin", "https://ledger.local")
	assert.True(t, sameOrigin(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, sameOrigin(r))
}

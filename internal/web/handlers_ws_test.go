package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"ledstrip-bridge/internal/hub"
	"ledstrip-bridge/internal/light"
)

func startWSHub(t *testing.T) *WSHub {
	t.Helper()
	h := NewWSHub(testLogger())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

// waitClients polls until the hub has n clients or the deadline passes.
func waitClients(t *testing.T, h *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recv(t *testing.T, c *wsClient) wsMessage {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return wsMessage{}
}

func TestWSHubRegisterUnregister(t *testing.T) {
	h := startWSHub(t)

	client := &wsClient{send: make(chan []byte, 16)}
	h.register <- client
	waitClients(t, h, 1)

	h.unregister <- client
	waitClients(t, h, 0)

	if _, ok := <-client.send; ok {
		t.Error("send should be closed after unregister")
	}
}

func TestWSHubBroadcast(t *testing.T) {
	h := startWSHub(t)

	c1 := &wsClient{send: make(chan []byte, 16)}
	c2 := &wsClient{send: make(chan []byte, 16)}
	h.register <- c1
	h.register <- c2
	waitClients(t, h, 2)

	h.Broadcast(hub.Event{Type: hub.EventStateChanged, Data: map[string]interface{}{"host": "10.0.0.7"}})

	for _, c := range []*wsClient{c1, c2} {
		msg := recv(t, c)
		if msg.Type != hub.EventStateChanged {
			t.Errorf("type = %q", msg.Type)
		}
		if data, _ := msg.Data.(map[string]interface{}); data["host"] != "10.0.0.7" {
			t.Errorf("data = %v", msg.Data)
		}
		if msg.Time.IsZero() {
			t.Error("time not set")
		}
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	h := startWSHub(t)

	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 64)}
	h.register <- slow
	h.register <- fast
	waitClients(t, h, 2)

	h.Broadcast(hub.Event{Type: "a"})
	h.Broadcast(hub.Event{Type: "b"})
	waitClients(t, h, 1)

	h.mu.RLock()
	_, slowPresent := h.clients[slow]
	_, fastPresent := h.clients[fast]
	h.mu.RUnlock()
	if slowPresent || !fastPresent {
		t.Errorf("slow present = %v, fast present = %v", slowPresent, fastPresent)
	}
}

func TestWSHubBroadcastDropsWhenFull(t *testing.T) {
	// Not running, so nothing drains the channel.
	h := NewWSHub(testLogger())
	for i := 0; i < wsBroadcastBuffer; i++ {
		h.Broadcast(hub.Event{Type: "fill"})
	}

	done := make(chan struct{})
	go func() {
		h.Broadcast(hub.Event{Type: "overflow"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Broadcast blocked when channel is full")
	}
}

func TestWSHubStop(t *testing.T) {
	h := NewWSHub(testLogger())
	go h.Run()

	client := &wsClient{send: make(chan []byte, 16)}
	h.register <- client
	waitClients(t, h, 1)

	h.Stop()
	h.Stop()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("client.send should be closed after hub stop")
		}
	case <-time.After(time.Second):
		t.Error("client.send not closed after hub stop")
	}
}

func TestWSHubUnregisterUnknownClient(t *testing.T) {
	h := startWSHub(t)

	unknown := &wsClient{send: make(chan []byte, 16)}
	h.unregister <- unknown
	waitClients(t, h, 0)

	select {
	case unknown.send <- []byte("test"):
	default:
		t.Error("channel should still be open for a client that never registered")
	}
}

func TestWSStream(t *testing.T) {
	srv, h := setupTestServer(t, "")
	host, _ := addSimStrip(t, h, "Desk")

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() wsMessage {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		return msg
	}

	if msg := read(); msg.Type != "snapshot" {
		t.Fatalf("first message = %q, want snapshot", msg.Type)
	}
	waitClients(t, srv.wsHub, 1)

	if _, err := h.TurnOn(ctx, host, light.Intent{}); err != nil {
		t.Fatal(err)
	}

	for {
		msg := read()
		if msg.Type != hub.EventStateChanged {
			continue
		}
		data, _ := msg.Data.(map[string]interface{})
		if data["host"] != host || data["on"] != true {
			t.Errorf("state_changed data = %v", data)
		}
		return
	}
}

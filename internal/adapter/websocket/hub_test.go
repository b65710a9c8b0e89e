package websocket

import (
	"testing"
	"time"
)

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.clientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d registered clients, got %d", want, h.clientCount())
}

func TestHub_BroadcastDeliversToRegisteredClients(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := &Client{hub: h, send: make(chan []byte, 4)}
	h.register <- c
	waitForCount(t, h, 1)

	h.Broadcast([]byte("session started"))

	select {
	case msg := <-c.send:
		if string(msg) != "session started" {
			t.Errorf("unexpected message %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the broadcast delivered")
	}
}

func TestHub_EvictsStalledClient(t *testing.T) {
	h := NewHub()
	go h.Run()

	stalled := &Client{hub: h, send: make(chan []byte, 1)}
	live := &Client{hub: h, send: make(chan []byte, 4)}
	h.register <- stalled
	h.register <- live
	waitForCount(t, h, 2)

	// First event fills the stalled client's buffer; the second overflows
	// it and drops the client without blocking delivery to the live one.
	h.Broadcast([]byte("one"))
	h.Broadcast([]byte("two"))
	waitForCount(t, h, 1)

	h.mu.RLock()
	_, stillThere := h.clients[stalled]
	h.mu.RUnlock()
	if stillThere {
		t.Error("expected the stalled client evicted")
	}

	if got := <-live.send; string(got) != "one" {
		t.Errorf("expected the live client to keep receiving, got %q", got)
	}
	if got := <-live.send; string(got) != "two" {
		t.Errorf("expected the live client to keep receiving, got %q", got)
	}

	// The evicted client's channel is closed after draining its buffer.
	<-stalled.send
	if _, open := <-stalled.send; open {
		t.Error("expected the stalled client's channel closed")
	}
}

func TestHub_UnregisterClosesTheSendChannel(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- c
	waitForCount(t, h, 1)

	h.unregister <- c
	waitForCount(t, h, 0)

	if _, open := <-c.send; open {
		t.Error("expected the send channel closed on unregister")
	}
}

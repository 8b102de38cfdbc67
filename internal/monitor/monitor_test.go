package monitor

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rtpmidid/internal/rtpmidi"
	"rtpmidid/util"
)

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), want)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func TestNewEventMessage(t *testing.T) {
	msg := NewEventMessage(rtpmidi.Event{Status: 0x90, Data1: 0x3C, Data2: 0x64})
	if msg.Frame != "29903c64" {
		t.Errorf("Frame = %q, want 29903c64", msg.Frame)
	}
	if msg.Status != 0x90 || msg.Data1 != 0x3C || msg.Data2 != 0x64 {
		t.Errorf("bytes = %02x %02x %02x", msg.Status, msg.Data1, msg.Data2)
	}
	if msg.Text == "" {
		t.Error("Text should describe the message")
	}
}

func TestHub_PublishReachesClient(t *testing.T) {
	hub := NewHub(util.NewLogger(0))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	defer conn.Close()
	waitClients(t, hub, 1)

	hub.Publish(rtpmidi.Event{Status: 0xB2, Data1: 7, Data2: 100})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got EventMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if got.Status != 0xB2 || got.Data1 != 7 || got.Data2 != 100 || got.Frame != "2bb20764" {
		t.Errorf("got %+v", got)
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub(util.NewLogger(0))
	hub.Publish(rtpmidi.Event{Status: 0xF8})
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub(util.NewLogger(0))
	c := &client{hub: hub, send: make(chan []byte)}
	hub.clients[c] = struct{}{}

	hub.Publish(rtpmidi.Event{Status: 0x90, Data1: 60, Data2: 1})

	if hub.ClientCount() != 0 {
		t.Error("client with a full queue should be removed")
	}
	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed")
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(util.NewLogger(0))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)
}

func TestServer_ServeUntilCancelled(t *testing.T) {
	s, err := Listen("127.0.0.1:0", util.NewLogger(0))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	conn := dial(t, "ws://"+s.Addr().String()+Path)
	defer conn.Close()
	waitClients(t, s.Hub, 1)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("client should be disconnected on shutdown")
	}
	if s.Hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after shutdown", s.Hub.ClientCount())
	}
}

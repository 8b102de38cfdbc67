// Package monitor streams decoded MIDI events to WebSocket clients for
// live inspection.  It sits beside the shared-memory path and never
// slows it down: a client that cannot keep up is disconnected.
package monitor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rtpmidid/internal/rtpmidi"
	"rtpmidid/internal/shm"
	"rtpmidid/util"
)

// Path is where the event feed is served.
const Path = "/events"

const (
	sendQueue    = 256
	writeTimeout = 2 * time.Second
)

// EventMessage is the JSON record sent for each event.
type EventMessage struct {
	Status byte   `json:"status"`
	Data1  byte   `json:"data1"`
	Data2  byte   `json:"data2"`
	Frame  string `json:"frame"`
	Text   string `json:"text"`
}

// NewEventMessage renders ev together with the frame written for it.
func NewEventMessage(ev rtpmidi.Event) EventMessage {
	f := shm.Frame(ev)
	return EventMessage{
		Status: ev.Status,
		Data1:  ev.Data1,
		Data2:  ev.Data2,
		Frame:  hex.EncodeToString(f[:]),
		Text:   ev.Message().String(),
	}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) writePump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeTimeout))
}

// readPump discards client input and notices disconnects.
func (c *client) readPump() {
	defer c.hub.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Hub fans events out to connected clients.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *util.Logger
}

// NewHub returns a Hub with no clients.
func NewHub(logger *util.Logger) *Hub {
	h := &Hub{clients: make(map[*client]struct{}), logger: logger}
	// Read-only diagnostics feed; any origin may watch.
	h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	return h
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Verbose("monitor upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendQueue)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Verbose("monitor client connected: %s", r.RemoteAddr)
	go c.writePump()
	go c.readPump()
}

// Publish queues ev for every client without blocking.
func (h *Hub) Publish(ev rtpmidi.Event) {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n == 0 {
		return
	}

	data, err := json.Marshal(NewEventMessage(ev))
	if err != nil {
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Verbose("monitor client too slow, disconnecting")
		h.remove(c)
	}
}

// remove unregisters c and ends its writePump.  Safe to call more than
// once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Server serves a Hub over HTTP.
type Server struct {
	Hub  *Hub
	http *http.Server
	ln   net.Listener
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr string, logger *util.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	hub := NewHub(logger)
	mux := http.NewServeMux()
	mux.Handle(Path, hub)
	return &Server{
		Hub:  hub,
		http: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:   ln,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs until ctx is cancelled, then disconnects clients.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.http.Serve(s.ln) }()

	select {
	case err := <-errc:
		s.Hub.Close()
		return err
	case <-ctx.Done():
	}

	s.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.http.Shutdown(shutdownCtx) //nolint:errcheck
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

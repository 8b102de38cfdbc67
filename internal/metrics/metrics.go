// Package metrics provides lightweight, lock-free counters for tracking
// the bridge's traffic: datagrams per port, decoded and dropped events,
// shared-memory flushes and session transitions.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one daemon lifetime.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	controlDatagrams atomic.Int64
	dataDatagrams    atomic.Int64
	eventsDecoded    atomic.Int64
	eventsDropped    atomic.Int64
	flushes          atomic.Int64
	invitations      atomic.Int64
	byes             atomic.Int64
	errorsTotal      atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastPeer     string
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Datagram metrics ─────────────────────────────────────────────────

// ControlDatagram records one AppleMIDI command packet, whichever port
// it arrived on.
func (c *Collector) ControlDatagram() {
	if c == nil {
		return
	}
	c.controlDatagrams.Add(1)
}

// DataDatagram records one RTP-MIDI datagram on the data port.
func (c *Collector) DataDatagram() {
	if c == nil {
		return
	}
	c.dataDatagrams.Add(1)
}

// ControlDatagrams returns the number of AppleMIDI command packets seen.
func (c *Collector) ControlDatagrams() int64 {
	if c == nil {
		return 0
	}
	return c.controlDatagrams.Load()
}

// DataDatagrams returns the number of RTP-MIDI datagrams seen.
func (c *Collector) DataDatagrams() int64 {
	if c == nil {
		return 0
	}
	return c.dataDatagrams.Load()
}

// ── Event metrics ────────────────────────────────────────────────────

// EventDecoded records one MIDI event produced by the decoder.
func (c *Collector) EventDecoded() {
	if c == nil {
		return
	}
	c.eventsDecoded.Add(1)
}

// EventDropped records one event rejected because the shared-memory
// buffer was full.
func (c *Collector) EventDropped() {
	if c == nil {
		return
	}
	c.eventsDropped.Add(1)
}

// Flushed records one generation bump.
func (c *Collector) Flushed() {
	if c == nil {
		return
	}
	c.flushes.Add(1)
}

// EventsDecoded returns the total decoded event count.
func (c *Collector) EventsDecoded() int64 {
	if c == nil {
		return 0
	}
	return c.eventsDecoded.Load()
}

// EventsDropped returns the total dropped event count.
func (c *Collector) EventsDropped() int64 {
	if c == nil {
		return 0
	}
	return c.eventsDropped.Load()
}

// Flushes returns the total number of generation bumps.
func (c *Collector) Flushes() int64 {
	if c == nil {
		return 0
	}
	return c.flushes.Load()
}

// ── Session metrics ──────────────────────────────────────────────────

// Invitation records an accepted invitation from peer.
func (c *Collector) Invitation(peer string) {
	if c == nil {
		return
	}
	c.invitations.Add(1)
	c.mu.Lock()
	c.lastPeer = peer
	c.mu.Unlock()
}

// Bye records a session teardown in either direction.
func (c *Collector) Bye() {
	if c == nil {
		return
	}
	c.byes.Add(1)
}

// Invitations returns the number of invitations answered.
func (c *Collector) Invitations() int64 {
	if c == nil {
		return 0
	}
	return c.invitations.Load()
}

// Byes returns the number of session teardowns.
func (c *Collector) Byes() int64 {
	if c == nil {
		return 0
	}
	return c.byes.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	ControlDatagrams int64  `json:"control_datagrams"`
	DataDatagrams    int64  `json:"data_datagrams"`
	EventsDecoded    int64  `json:"events_decoded"`
	EventsDropped    int64  `json:"events_dropped"`
	Flushes          int64  `json:"flushes"`
	Invitations      int64  `json:"invitations"`
	Byes             int64  `json:"byes"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastPeer         string `json:"last_peer,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:           time.Since(c.startTime).Truncate(time.Second).String(),
		ControlDatagrams: c.controlDatagrams.Load(),
		DataDatagrams:    c.dataDatagrams.Load(),
		EventsDecoded:    c.eventsDecoded.Load(),
		EventsDropped:    c.eventsDropped.Load(),
		Flushes:          c.flushes.Load(),
		Invitations:      c.invitations.Load(),
		Byes:             c.byes.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
		LastPeer:         c.lastPeer,
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// Package bridge runs the daemon's event loop: it reads both session
// sockets, hands control traffic to the AppleMIDI session and writes
// decoded MIDI into the shared-memory channel.
package bridge

import (
	"context"
	"net"
	"sync"
	"time"

	"rtpmidid/internal/advertise"
	"rtpmidid/internal/applemidi"
	"rtpmidid/internal/metrics"
	"rtpmidid/internal/rtpmidi"
	"rtpmidid/internal/shm"
	"rtpmidid/util"
)

// DefaultPollTimeout bounds each socket wait so shutdown is noticed
// promptly.
const DefaultPollTimeout = time.Second

// Port identifies which socket of the pair a datagram arrived on.
type Port int

const (
	ControlPort Port = iota
	DataPort
)

func (p Port) String() string {
	if p == ControlPort {
		return "control"
	}
	return "data"
}

// Publisher receives a copy of every event written to the channel.
type Publisher interface {
	Publish(ev rtpmidi.Event)
}

// Dispatcher owns the socket pair for the lifetime of Run.  Datagrams
// are handled one at a time on the Run goroutine; the session, decoder
// and channel are never touched concurrently.
type Dispatcher struct {
	Control    net.PacketConn
	Data       net.PacketConn
	Session    *applemidi.Session
	Channel    *shm.Channel
	Advertiser advertise.Advertiser
	// Publisher is optional.
	Publisher   Publisher
	Metrics     *metrics.Collector
	Logger      *util.Logger
	PollTimeout time.Duration

	events []rtpmidi.Event
}

type datagram struct {
	port Port
	buf  *[]byte
	n    int
	addr net.Addr
}

// Run dispatches datagrams until ctx is cancelled, then says goodbye
// to the peer, withdraws the advertisement and releases the sockets and
// the channel.
func (d *Dispatcher) Run(ctx context.Context) error {
	in := make(chan datagram, 64)
	readCtx, stopReaders := context.WithCancel(ctx)
	defer stopReaders()

	var wg sync.WaitGroup
	wg.Add(2)
	go d.read(readCtx, ControlPort, d.Control, in, &wg)
	go d.read(readCtx, DataPort, d.Data, in, &wg)

	d.Logger.Info("listening on control %s, data %s", d.Control.LocalAddr(), d.Data.LocalAddr())

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			stopReaders()
			wg.Wait()
			d.drain(in)
			if err := d.Channel.Close(); err != nil {
				d.Logger.Warn("close shm: %v", err)
			}
			return nil
		case dg := <-in:
			d.HandleDatagram(dg.port, (*dg.buf)[:dg.n], dg.addr)
			util.PutBuf(dg.buf)
		}
	}
}

// read pulls datagrams off conn.  Each wait is bounded by PollTimeout
// so a cancelled context is seen even on an idle socket.
func (d *Dispatcher) read(ctx context.Context, port Port, conn net.PacketConn, out chan<- datagram, wg *sync.WaitGroup) {
	defer wg.Done()
	timeout := d.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck
		buf := util.GetBuf()
		n, addr, err := conn.ReadFrom(*buf)
		if err != nil {
			util.PutBuf(buf)
			switch {
			case util.IsTimeout(err):
				continue
			case util.IsHarmless(err):
				return
			default:
				d.Metrics.RecordError(err.Error())
				d.Logger.Verbose("%s read: %v", port, err)
				continue
			}
		}

		select {
		case out <- datagram{port: port, buf: buf, n: n, addr: addr}:
		case <-ctx.Done():
			util.PutBuf(buf)
			return
		}
	}
}

// HandleDatagram processes one datagram received on port from addr.
func (d *Dispatcher) HandleDatagram(port Port, data []byte, addr net.Addr) {
	if port == ControlPort {
		d.Session.HandleControl(d.Control, data, addr)
		return
	}

	d.Metrics.DataDatagram()
	events, kind := rtpmidi.Decode(data, d.events[:0])
	d.events = events

	switch kind {
	case rtpmidi.Control:
		// Some peers run the handshake on the data port too; replies go
		// back out of the same socket.
		d.Session.HandleControl(d.Data, data, addr)
	case rtpmidi.MIDI:
		for _, ev := range events {
			d.Metrics.EventDecoded()
			if err := d.Channel.Append(ev); err != nil {
				continue
			}
			if d.Publisher != nil {
				d.Publisher.Publish(ev)
			}
		}
		d.Channel.Flush()
	default:
		if d.Logger.Enabled(util.LogDebug) {
			d.Logger.Debug("discarded %d-byte datagram from %s", len(data), addr)
		}
	}
}

func (d *Dispatcher) shutdown() {
	d.Logger.Info("shutting down")
	d.Session.SendBye(d.Control)
	if d.Advertiser != nil {
		d.Advertiser.Unregister()
	}
	if err := d.Control.Close(); err != nil && !util.IsHarmless(err) {
		d.Logger.Warn("close control socket: %v", err)
	}
	if err := d.Data.Close(); err != nil && !util.IsHarmless(err) {
		d.Logger.Warn("close data socket: %v", err)
	}
}

func (d *Dispatcher) drain(in <-chan datagram) {
	for {
		select {
		case dg := <-in:
			util.PutBuf(dg.buf)
		default:
			return
		}
	}
}

package applemidi

import (
	"encoding/binary"
	"net"
	"time"

	"rtpmidid/internal/metrics"
	"rtpmidid/util"
)

// State is the session's connection state.
type State int

const (
	Idle State = iota
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Sender is the reply side of a UDP socket.  *net.UDPConn satisfies it.
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Session tracks the single remote peer.  It is not safe for concurrent
// use; the dispatcher owns it.
//
// A new invitation always replaces the current peer.
type Session struct {
	state      State
	localSSRC  uint32
	remoteSSRC uint32
	token      uint32
	remoteAddr net.Addr
	peerName   string

	serviceName string
	clock       func() uint64

	logger  *util.Logger
	metrics *metrics.Collector
}

// NewSession returns an idle session that answers invitations with
// serviceName and identifies itself as localSSRC.
func NewSession(serviceName string, localSSRC uint32, logger *util.Logger, m *metrics.Collector) *Session {
	return &Session{
		localSSRC:   localSSRC,
		serviceName: serviceName,
		clock:       monotonicTicks(time.Now()),
		logger:      logger,
		metrics:     m,
	}
}

// monotonicTicks counts 100µs units since start, the resolution
// AppleMIDI clock-sync timestamps use.
func monotonicTicks(start time.Time) func() uint64 {
	return func() uint64 {
		return uint64(time.Since(start) / (100 * time.Microsecond))
	}
}

func (s *Session) State() State { return s.state }
func (s *Session) LocalSSRC() uint32 { return s.localSSRC }
func (s *Session) RemoteSSRC() uint32 { return s.remoteSSRC }
func (s *Session) Token() uint32 { return s.token }
func (s *Session) RemoteAddr() net.Addr { return s.remoteAddr }
func (s *Session) PeerName() string { return s.peerName }

// HandleControl processes one AppleMIDI command packet received from
// addr.  Replies go out through conn, which is the socket the packet
// arrived on.  Malformed or unknown packets are ignored.
func (s *Session) HandleControl(conn Sender, data []byte, addr net.Addr) {
	if len(data) < 4 || !IsCommand(data) {
		return
	}
	s.metrics.ControlDatagram()

	switch cmd := binary.BigEndian.Uint16(data[2:]); cmd {
	case CmdInvitation:
		s.handleInvitation(conn, data, addr)
	case CmdClockSync:
		s.handleClockSync(conn, data, addr)
	case CmdBye:
		s.handleBye(data, addr)
	default:
		s.logger.Debug("ignoring command %#04x from %s", cmd, addr)
	}
}

func (s *Session) handleInvitation(conn Sender, data []byte, addr net.Addr) {
	inv, ok := ParseExchange(data)
	if !ok {
		return
	}
	name := inv.Name
	if name == "" {
		name = "unknown"
	}

	s.remoteSSRC = inv.SSRC
	s.token = inv.Token
	s.remoteAddr = addr
	s.peerName = name

	reply := AppendExchange(make([]byte, 0, exchangeLen+len(s.serviceName)+1), Exchange{
		Command: CmdAccept,
		Version: ProtocolVersion,
		Token:   inv.Token,
		SSRC:    s.localSSRC,
		Name:    s.serviceName,
	})
	if _, err := conn.WriteTo(reply, addr); err != nil {
		s.logger.Verbose("accept to %s: %v", addr, err)
		s.metrics.RecordError(err.Error())
	}

	s.state = Connected
	s.metrics.Invitation(addr.String())
	s.logger.Info("session CONNECTED with %s (%s, SSRC=0x%08X)", name, addr, inv.SSRC)
}

func (s *Session) handleClockSync(conn Sender, data []byte, addr net.Addr) {
	if len(data) < clockSyncLen {
		return
	}
	// Only the first round is answered; the peer completes the exchange.
	if data[ckCountOff] != 0 {
		return
	}
	reply := clockSyncReply(data, s.localSSRC, s.clock())
	if _, err := conn.WriteTo(reply, addr); err != nil {
		s.logger.Verbose("clock sync to %s: %v", addr, err)
		s.metrics.RecordError(err.Error())
		return
	}
	s.logger.Debug("clock sync answered for %s", addr)
}

func (s *Session) handleBye(data []byte, addr net.Addr) {
	bye, ok := ParseExchange(data)
	if !ok || bye.SSRC != s.remoteSSRC {
		return
	}
	s.state = Idle
	s.metrics.Bye()
	s.logger.Info("BYE from %s", addr)
}

// SendBye tells the connected peer we are going away and returns the
// session to Idle.  It does nothing when no peer is connected.  Write
// errors are ignored: this runs on shutdown.
func (s *Session) SendBye(conn Sender) {
	if s.state != Connected || s.remoteAddr == nil {
		return
	}
	pkt := AppendExchange(make([]byte, 0, exchangeLen), Exchange{
		Command: CmdBye,
		Version: ProtocolVersion,
		Token:   s.token,
		SSRC:    s.localSSRC,
	})
	if _, err := conn.WriteTo(pkt, s.remoteAddr); err != nil {
		s.logger.Debug("bye to %s: %v", s.remoteAddr, err)
	} else {
		s.logger.Info("sent BYE to %s", s.remoteAddr)
	}
	s.state = Idle
	s.metrics.Bye()
}

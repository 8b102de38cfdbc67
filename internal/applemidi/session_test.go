package applemidi

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"

	"rtpmidid/internal/metrics"
	"rtpmidid/util"
)

type sent struct {
	data []byte
	addr net.Addr
}

// recorder is a Sender that keeps every packet written to it.
type recorder struct {
	packets []sent
	err     error
}

func (r *recorder) WriteTo(b []byte, addr net.Addr) (int, error) {
	r.packets = append(r.packets, sent{append([]byte(nil), b...), addr})
	if r.err != nil {
		return 0, r.err
	}
	return len(b), nil
}

func (r *recorder) last(t *testing.T) sent {
	t.Helper()
	if len(r.packets) == 0 {
		t.Fatal("nothing sent")
	}
	return r.packets[len(r.packets)-1]
}

var peer = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 5004}

func newTestSession() *Session {
	s := NewSession("Move", 0x11223344, util.NewLogger(0), metrics.New())
	s.clock = func() uint64 { return 0x0102030405060708 }
	return s
}

func invitation(token, ssrc uint32, name string) []byte {
	return AppendExchange(nil, Exchange{
		Command: CmdInvitation, Version: 2, Token: token, SSRC: ssrc, Name: name,
	})
}

func bye(token, ssrc uint32) []byte {
	return AppendExchange(nil, Exchange{Command: CmdBye, Version: 2, Token: token, SSRC: ssrc})
}

func clockSync(ssrc uint32, count byte) []byte {
	p := make([]byte, clockSyncLen)
	binary.BigEndian.PutUint16(p, Signature)
	binary.BigEndian.PutUint16(p[2:], CmdClockSync)
	binary.BigEndian.PutUint32(p[4:], ssrc)
	p[8] = count
	binary.BigEndian.PutUint64(p[12:], 0xAAAAAAAAAAAAAAAA)
	binary.BigEndian.PutUint64(p[28:], 0xCCCCCCCCCCCCCCCC)
	return p
}

func TestSession_InvitationAccepted(t *testing.T) {
	s := newTestSession()
	r := &recorder{}

	s.HandleControl(r, invitation(0xAABBCCDD, 0x55667788, "iPad"), peer)

	if s.State() != Connected {
		t.Fatalf("state = %v, want connected", s.State())
	}
	if s.RemoteSSRC() != 0x55667788 || s.Token() != 0xAABBCCDD {
		t.Errorf("remote ssrc=%#x token=%#x", s.RemoteSSRC(), s.Token())
	}
	if s.PeerName() != "iPad" {
		t.Errorf("peer name = %q", s.PeerName())
	}

	out := r.last(t)
	if out.addr != peer {
		t.Errorf("reply sent to %v, want %v", out.addr, peer)
	}
	accept, valid := ParseExchange(out.data)
	if !valid {
		t.Fatalf("reply is not an exchange: % x", out.data)
	}
	want := Exchange{Command: CmdAccept, Version: ProtocolVersion, Token: 0xAABBCCDD, SSRC: 0x11223344, Name: "Move"}
	if accept != want {
		t.Errorf("reply = %+v, want %+v", accept, want)
	}
	if out.data[len(out.data)-1] != 0 {
		t.Error("name must be NUL-terminated")
	}
}

func TestSession_InvitationIdempotent(t *testing.T) {
	s := newTestSession()
	r := &recorder{}

	tokens := []uint32{1, 0xDEADBEEF, 1, 42}
	for i, tok := range tokens {
		s.HandleControl(r, invitation(tok, uint32(100+i), ""), peer)
		got, _ := ParseExchange(r.last(t).data)
		if got.Token != tok {
			t.Errorf("invitation %d: reply token = %#x, want %#x", i, got.Token, tok)
		}
	}
	if len(r.packets) != len(tokens) {
		t.Errorf("sent %d replies, want %d", len(r.packets), len(tokens))
	}
	if s.RemoteSSRC() != 103 {
		t.Errorf("latest invitation should win, remote ssrc = %d", s.RemoteSSRC())
	}
	if s.PeerName() != "unknown" {
		t.Errorf("missing name should default to unknown, got %q", s.PeerName())
	}
}

func TestSession_InvitationReplacesPeer(t *testing.T) {
	s := newTestSession()
	r := &recorder{}
	other := &net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 6000}

	s.HandleControl(r, invitation(1, 10, "a"), peer)
	s.HandleControl(r, invitation(2, 20, "b"), other)

	if s.RemoteAddr() != other || s.RemoteSSRC() != 20 {
		t.Errorf("peer = %v/%d, want %v/20", s.RemoteAddr(), s.RemoteSSRC(), other)
	}
}

func TestSession_InvitationWriteErrorStillConnects(t *testing.T) {
	s := newTestSession()
	r := &recorder{err: errors.New("network unreachable")}

	s.HandleControl(r, invitation(1, 10, ""), peer)
	if s.State() != Connected {
		t.Errorf("state = %v, want connected", s.State())
	}
}

func TestSession_IgnoresMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte{0xFF, 0xFF, 0x49}},
		{"bad signature", append([]byte{0xFE, 0xFF}, invitation(1, 2, "")[2:]...)},
		{"short invitation", invitation(1, 2, "")[:15]},
		{"short clock sync", clockSync(2, 0)[:35]},
		{"short bye", bye(1, 2)[:12]},
		{"unknown command", AppendExchange(nil, Exchange{Command: 0x5253, Token: 1, SSRC: 2})},
		{"reject", AppendExchange(nil, Exchange{Command: CmdReject, Token: 1, SSRC: 2})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession()
			r := &recorder{}
			s.HandleControl(r, tt.data, peer)
			if s.State() != Idle {
				t.Errorf("state = %v, want idle", s.State())
			}
			if len(r.packets) != 0 {
				t.Errorf("unexpected reply % x", r.packets[0].data)
			}
		})
	}
}

func TestSession_ClockSyncFirstRound(t *testing.T) {
	s := newTestSession()
	r := &recorder{}
	req := clockSync(0x55667788, 0)

	s.HandleControl(r, req, peer)

	out := r.last(t).data
	if len(out) != clockSyncLen {
		t.Fatalf("reply length = %d", len(out))
	}
	if out[8] != 1 {
		t.Errorf("count = %d, want 1", out[8])
	}
	if got := binary.BigEndian.Uint32(out[4:]); got != 0x11223344 {
		t.Errorf("sender ssrc = %#x", got)
	}
	if got := binary.BigEndian.Uint64(out[20:]); got != 0x0102030405060708 {
		t.Errorf("timestamp2 = %#x", got)
	}
	if got := binary.BigEndian.Uint64(out[12:]); got != 0xAAAAAAAAAAAAAAAA {
		t.Errorf("timestamp1 not echoed: %#x", got)
	}
	if got := binary.BigEndian.Uint64(out[28:]); got != 0xCCCCCCCCCCCCCCCC {
		t.Errorf("timestamp3 not echoed: %#x", got)
	}
	if req[8] != 0 {
		t.Error("request buffer must not be modified")
	}
}

func TestSession_ClockSyncLaterRoundsIgnored(t *testing.T) {
	s := newTestSession()
	r := &recorder{}

	s.HandleControl(r, clockSync(1, 1), peer)
	s.HandleControl(r, clockSync(1, 2), peer)
	if len(r.packets) != 0 {
		t.Errorf("sent %d replies, want 0", len(r.packets))
	}
}

func TestSession_ClockSyncLongerPacketTruncated(t *testing.T) {
	s := newTestSession()
	r := &recorder{}

	s.HandleControl(r, append(clockSync(1, 0), 0xEE, 0xEE), peer)
	if got := len(r.last(t).data); got != clockSyncLen {
		t.Errorf("reply length = %d, want %d", got, clockSyncLen)
	}
}

func TestSession_ByeFromPeer(t *testing.T) {
	s := newTestSession()
	r := &recorder{}

	s.HandleControl(r, invitation(7, 0x99, ""), peer)
	s.HandleControl(r, bye(7, 0x98), peer)
	if s.State() != Connected {
		t.Fatalf("bye with foreign SSRC changed state to %v", s.State())
	}

	s.HandleControl(r, bye(7, 0x99), peer)
	if s.State() != Idle {
		t.Fatalf("state = %v, want idle", s.State())
	}

	// Clock sync is still answered after the peer left.
	before := len(r.packets)
	s.HandleControl(r, clockSync(0x99, 0), peer)
	if len(r.packets) != before+1 {
		t.Error("clock sync should still be answered while idle")
	}
	if s.State() != Idle {
		t.Error("clock sync must not reconnect the session")
	}
}

func TestSession_SendBye(t *testing.T) {
	s := newTestSession()
	r := &recorder{}

	s.SendBye(r)
	if len(r.packets) != 0 {
		t.Fatal("SendBye while idle must not send")
	}

	s.HandleControl(r, invitation(0xCAFEF00D, 0x42, ""), peer)
	s.SendBye(r)

	out := r.last(t)
	got, ok := ParseExchange(out.data)
	if !ok {
		t.Fatalf("bye not parseable: % x", out.data)
	}
	want := Exchange{Command: CmdBye, Version: ProtocolVersion, Token: 0xCAFEF00D, SSRC: 0x11223344}
	if got != want {
		t.Errorf("bye = %+v, want %+v", got, want)
	}
	if len(out.data) != exchangeLen {
		t.Errorf("bye length = %d, want %d", len(out.data), exchangeLen)
	}
	if out.addr != peer {
		t.Errorf("bye sent to %v", out.addr)
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}

	n := len(r.packets)
	s.SendBye(r)
	if len(r.packets) != n {
		t.Error("second SendBye must be a no-op")
	}
}

func TestSession_SendByeWriteErrorStillIdles(t *testing.T) {
	s := newTestSession()
	r := &recorder{}
	s.HandleControl(r, invitation(1, 2, ""), peer)

	r.err = errors.New("socket closed")
	s.SendBye(r)
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestMonotonicTicks(t *testing.T) {
	clock := monotonicTicks(timeAgo(t))
	a := clock()
	b := clock()
	if a == 0 || b < a {
		t.Errorf("ticks not monotonic: %d then %d", a, b)
	}
}

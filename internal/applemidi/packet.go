// Package applemidi implements the AppleMIDI session protocol that
// RTP-MIDI peers use to invite, synchronise clocks and hang up on the
// control/data port pair.
package applemidi

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Signature prefixes every AppleMIDI command packet.
const Signature uint16 = 0xFFFF

// Command codes, as the two ASCII letters the wire carries.
const (
	CmdInvitation uint16 = 0x494E // "IN"
	CmdAccept     uint16 = 0x4F4B // "OK"
	CmdReject     uint16 = 0x4E4F // "NO"
	CmdBye        uint16 = 0x4259 // "BY"
	CmdClockSync  uint16 = 0x434B // "CK"
)

// ProtocolVersion is the version this daemon announces in every reply.
const ProtocolVersion uint32 = 2

const (
	exchangeLen  = 16 // signature, command, version, token, SSRC
	clockSyncLen = 36

	ckSenderOff = 4
	ckCountOff  = 8
	ckTS2Off    = 20
)

// IsCommand reports whether data starts with the AppleMIDI signature.
func IsCommand(data []byte) bool {
	return len(data) >= 2 && binary.BigEndian.Uint16(data) == Signature
}

// Exchange is the body shared by invitation, accept, reject and bye.
type Exchange struct {
	Command uint16
	Version uint32
	Token   uint32
	SSRC    uint32
	Name    string
}

// ParseExchange decodes an exchange packet.  The trailing name runs to
// the first NUL or the end of the packet; invalid UTF-8 is replaced.
func ParseExchange(data []byte) (Exchange, bool) {
	if len(data) < exchangeLen || !IsCommand(data) {
		return Exchange{}, false
	}
	ex := Exchange{
		Command: binary.BigEndian.Uint16(data[2:]),
		Version: binary.BigEndian.Uint32(data[4:]),
		Token:   binary.BigEndian.Uint32(data[8:]),
		SSRC:    binary.BigEndian.Uint32(data[12:]),
	}
	if name := data[exchangeLen:]; len(name) > 0 {
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		ex.Name = strings.ToValidUTF8(string(name), "�")
	}
	return ex, true
}

// AppendExchange encodes ex onto dst.  A non-empty Name is written
// NUL-terminated; bye packets leave it empty.
func AppendExchange(dst []byte, ex Exchange) []byte {
	dst = binary.BigEndian.AppendUint16(dst, Signature)
	dst = binary.BigEndian.AppendUint16(dst, ex.Command)
	dst = binary.BigEndian.AppendUint32(dst, ex.Version)
	dst = binary.BigEndian.AppendUint32(dst, ex.Token)
	dst = binary.BigEndian.AppendUint32(dst, ex.SSRC)
	if ex.Name != "" {
		dst = append(dst, ex.Name...)
		dst = append(dst, 0)
	}
	return dst
}

// clockSyncReply builds the answer to a count-0 clock synchronisation
// packet: count 1, our SSRC, and our receive time in the second
// timestamp slot.  The first timestamp is echoed unchanged.
func clockSyncReply(req []byte, ssrc uint32, now uint64) []byte {
	reply := make([]byte, clockSyncLen)
	copy(reply, req[:clockSyncLen])
	reply[ckCountOff] = 1
	binary.BigEndian.PutUint32(reply[ckSenderOff:], ssrc)
	binary.BigEndian.PutUint64(reply[ckTS2Off:], now)
	return reply
}

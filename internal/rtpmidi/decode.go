// Package rtpmidi decodes the MIDI command section of RTP-MIDI
// (RFC 6295) datagrams received on the AppleMIDI data port.
//
// Decoding is stateless across datagrams: running status lives only
// for the duration of one command section.  Journals, delta-time values
// and SysEx content are consumed and discarded.
package rtpmidi

import (
	"encoding/binary"

	"rtpmidid/internal/applemidi"
)

const (
	// Version is the only accepted RTP version.
	Version = 2
	// PayloadType is the dynamic payload type AppleMIDI peers use.
	PayloadType = 97

	headerLen   = 12
	minDatagram = headerLen + 1 // header plus the command-section length byte
)

// Kind classifies a data-port datagram.
type Kind int

const (
	// Discarded datagrams were too short or failed RTP validation.
	Discarded Kind = iota
	// Control datagrams carry the AppleMIDI signature and belong to the
	// session layer, not the decoder.
	Control
	// MIDI datagrams carried a valid command section (possibly empty).
	MIDI
)

func (k Kind) String() string {
	switch k {
	case Discarded:
		return "discarded"
	case Control:
		return "control"
	case MIDI:
		return "midi"
	default:
		return "unknown"
	}
}

// Decode appends the events carried in data to dst and reports how the
// datagram was classified.  dst may be nil; passing a reused slice keeps
// the dispatcher allocation-free.
func Decode(data []byte, dst []Event) ([]Event, Kind) {
	if len(data) < minDatagram {
		return dst, Discarded
	}
	if binary.BigEndian.Uint16(data) == applemidi.Signature {
		return dst, Control
	}
	if data[0]>>6 != Version || data[1]&0x7F != PayloadType {
		return dst, Discarded
	}

	off := headerLen
	flags := data[off]
	var length int
	if flags&0x80 != 0 {
		// B flag: 12-bit length across two bytes.
		if off+1 >= len(data) {
			return dst, Discarded
		}
		length = int(flags&0x0F)<<8 | int(data[off+1])
		off += 2
	} else {
		length = int(flags & 0x0F)
		off++
	}
	if length == 0 {
		return dst, MIDI
	}

	end := off + length
	if end > len(data) {
		end = len(data)
	}
	return walk(data[off:end], dst), MIDI
}

// walk decodes a command section: a sequence of MIDI messages with a
// delta-time in front of every message except the first.
func walk(sec []byte, dst []Event) []Event {
	var running byte
	off := 0
	for first := true; off < len(sec); first = false {
		if !first {
			off = skipDelta(sec, off)
			if off >= len(sec) {
				break
			}
		}

		b := sec[off]
		var status byte
		switch {
		case b >= 0xF8:
			// System real-time: single byte, leaves running status alone.
			dst = append(dst, Event{Status: b})
			off++
			continue
		case b >= 0x80:
			status = b
			running = b
			off++
		case running == 0:
			// Data byte with no status established yet.
			off++
			continue
		default:
			status = running
		}
		if off >= len(sec) {
			break
		}

		switch status & 0xF0 {
		case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
			if off+1 >= len(sec) {
				return dst
			}
			dst = append(dst, Event{Status: status, Data1: sec[off], Data2: sec[off+1]})
			off += 2
		case 0xC0, 0xD0:
			dst = append(dst, Event{Status: status, Data1: sec[off]})
			off++
		default:
			if status == 0xF0 {
				for off < len(sec) && sec[off] != 0xF7 {
					off++
				}
				if off < len(sec) {
					off++
				}
			} else {
				off++
			}
		}
	}
	return dst
}

// skipDelta consumes one delta-time: any number of continuation bytes
// followed by a single terminal byte.  The value itself is ignored.
func skipDelta(sec []byte, off int) int {
	for off < len(sec) && sec[off]&0x80 != 0 {
		off++
	}
	if off < len(sec) {
		off++
	}
	return off
}

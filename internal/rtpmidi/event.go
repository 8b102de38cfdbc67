package rtpmidi

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

// Event is one MIDI channel or system real-time message recovered from
// a command section.  Data bytes the message type does not carry are 0.
type Event struct {
	Status byte
	Data1  byte
	Data2  byte
}

// Message returns the event as a gomidi message trimmed to the length
// its status byte defines.
func (e Event) Message() midi.Message {
	switch {
	case e.Status >= 0xF8:
		return midi.Message{e.Status}
	case e.Status&0xF0 == 0xC0, e.Status&0xF0 == 0xD0:
		return midi.Message{e.Status, e.Data1}
	default:
		return midi.Message{e.Status, e.Data1, e.Data2}
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%02x %02x %02x (%s)", e.Status, e.Data1, e.Data2, e.Message())
}

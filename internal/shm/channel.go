package shm

import (
	"encoding/binary"

	rerrors "rtpmidid/internal/errors"
	"rtpmidid/internal/metrics"
	"rtpmidid/internal/rtpmidi"
	"rtpmidid/util"
)

// CableTag marks frames as external MIDI (USB-MIDI cable 2).  The shim
// relies on this value to tell network MIDI from the pads.
const CableTag = 0x20

// Frame returns the 4-byte USB-MIDI packet for ev: cable and code index
// number, then the three MIDI bytes.
func Frame(ev rtpmidi.Event) [FrameSize]byte {
	return [FrameSize]byte{CableTag | ev.Status>>4, ev.Status, ev.Data1, ev.Data2}
}

// Channel is the producer side of the mailbox.  It is not safe for
// concurrent use; the dispatcher is its only writer.
type Channel struct {
	region  Region
	mem     []byte
	pending bool

	logger  *util.Logger
	metrics *metrics.Collector
}

// Open maps the named POSIX segment and wraps it in a Channel.
func Open(name string, logger *util.Logger, m *metrics.Collector) (*Channel, error) {
	r, err := OpenPOSIX(name)
	if err != nil {
		return nil, err
	}
	return NewChannel(r, logger, m), nil
}

// NewChannel zeroes r and returns a Channel writing into it.
func NewChannel(r Region, logger *util.Logger, m *metrics.Collector) *Channel {
	mem := r.Bytes()
	clear(mem)
	return &Channel{region: r, mem: mem, logger: logger, metrics: m}
}

// WriteOffset returns the byte offset of the next free frame slot.
func (c *Channel) WriteOffset() int {
	if c.mem == nil {
		return 0
	}
	return int(binary.LittleEndian.Uint16(c.mem[offWriteIdx:]))
}

// Generation returns the current change counter.
func (c *Channel) Generation() uint8 {
	if c.mem == nil {
		return 0
	}
	return c.mem[offGeneration]
}

// Append writes ev as the next frame.  When the buffer has no room the
// event is dropped and ErrBufferFull returned; earlier frames are left
// untouched.  Nothing becomes visible to the consumer until Flush.
func (c *Channel) Append(ev rtpmidi.Event) error {
	if c.mem == nil {
		return rerrors.ErrRegionClosed
	}
	idx := c.WriteOffset()
	if idx+FrameSize > BufferSize {
		c.metrics.EventDropped()
		c.logger.Warn("shm buffer full, dropping %02x %02x %02x", ev.Status, ev.Data1, ev.Data2)
		return rerrors.ErrBufferFull
	}

	frame := Frame(ev)
	copy(c.mem[offBuffer+idx:], frame[:])
	binary.LittleEndian.PutUint16(c.mem[offWriteIdx:], uint16(idx+FrameSize))
	c.pending = true

	if c.logger.Enabled(util.LogDebug) {
		c.logger.Debug("MIDI [%x] %s -> shm idx=%d", frame[0]&0x0F, ev.Message(), idx)
	}
	return nil
}

// Flush bumps the generation counter if any frame was appended since
// the previous flush.  Call it once per datagram so a chord arrives at
// the consumer as one update.
func (c *Channel) Flush() {
	if c.mem == nil || !c.pending {
		return
	}
	c.pending = false
	idx := c.WriteOffset()
	if idx == 0 {
		return
	}
	prev := c.mem[offGeneration]
	c.mem[offGeneration] = prev + 1
	c.metrics.Flushed()
	c.logger.Debug("flush idx=%d ready %d->%d", idx, prev, prev+1)
}

// Close unmaps the region.  The named segment is left for the consumer.
func (c *Channel) Close() error {
	if c.mem == nil {
		return nil
	}
	c.mem = nil
	return c.region.Close()
}

// Consumer is the reading side of the mailbox, as the shim sees it.
// The daemon never uses it; tools and tests do.
type Consumer struct {
	mem []byte
}

// NewConsumer wraps a region for reading.
func NewConsumer(r Region) *Consumer {
	return &Consumer{mem: r.Bytes()}
}

// Generation returns the current change counter.
func (c *Consumer) Generation() uint8 { return c.mem[offGeneration] }

// Frames copies out every frame below the current write offset.
func (c *Consumer) Frames() [][FrameSize]byte {
	n := int(binary.LittleEndian.Uint16(c.mem[offWriteIdx:]))
	if n > BufferSize {
		n = BufferSize
	}
	out := make([][FrameSize]byte, 0, n/FrameSize)
	for off := 0; off+FrameSize <= n; off += FrameSize {
		var f [FrameSize]byte
		copy(f[:], c.mem[offBuffer+off:])
		out = append(out, f)
	}
	return out
}

// Reset returns the write offset to zero after the frames were drained.
func (c *Consumer) Reset() {
	binary.LittleEndian.PutUint16(c.mem[offWriteIdx:], 0)
}

// Package shm publishes decoded MIDI into the fixed-layout shared-memory
// mailbox read by the hardware shim.
//
// Layout (RegionSize bytes):
//
//	offset 0  uint16  write offset into buffer (little-endian)
//	offset 2  uint8   generation, bumped once per flushed datagram
//	offset 3  uint8   reserved
//	offset 4  [256]   buffer of 4-byte USB-MIDI frames
//
// There is no lock.  The consumer polls the generation byte and, when
// it changes, reads frames from 0 up to the write offset.  Only the
// consumer ever moves the write offset back to zero.
package shm

import "sync"

const (
	HeaderSize = 4
	BufferSize = 256
	RegionSize = HeaderSize + BufferSize
	FrameSize  = 4

	// DefaultName is the region the shim maps.
	DefaultName = "/move-shadow-rtp-midi"

	offWriteIdx   = 0
	offGeneration = 2
	offBuffer     = HeaderSize
)

// Region is a mapped, fixed-size shared-memory segment.
type Region interface {
	// Bytes returns the mapped memory; it is RegionSize long.
	Bytes() []byte
	// Close unmaps the region.  The named segment itself stays.
	Close() error
}

// memRegion is a heap-backed Region for tests and dry runs.
type memRegion struct {
	once sync.Once
	mem  []byte
}

// NewMemRegion returns a process-private Region.
func NewMemRegion() Region {
	return &memRegion{mem: make([]byte, RegionSize)}
}

func (r *memRegion) Bytes() []byte { return r.mem }

func (r *memRegion) Close() error {
	r.once.Do(func() { r.mem = nil })
	return nil
}

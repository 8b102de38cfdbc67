package util

import "sync"

// DatagramSize bounds a single UDP read.  AppleMIDI control packets and
// RTP-MIDI payloads from real peers stay well below it.
const DatagramSize = 2048

// BufPool provides reusable datagram buffers so the socket readers do
// not allocate per packet.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DatagramSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.  Buffers that were
// resliced are restored to full length first.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	*buf = (*buf)[:cap(*buf)]
	BufPool.Put(buf)
}

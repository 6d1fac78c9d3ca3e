package marshal

import (
	"sync"

	"github.com/crossvm/bridge/errors"
)

const (
	// Pool limits to prevent memory bloat
	poolMaxCap  = 64 * 1024
	poolInitCap = 256
)

var bufPool = sync.Pool{
	New: func() any {
		return &MarshalBuffer{data: make([]byte, 0, poolInitCap)}
	},
}

// MarshalBuffer is the scratch storage a gather produces: the fixed region
// first, then the variable section. Owned exclusively by the call that
// created it.
type MarshalBuffer struct {
	data []byte
}

// Bytes returns the encoded contents. The slice aliases pool memory and is
// valid only until cleanup.
func (b *MarshalBuffer) Bytes() []byte {
	return b.data
}

// Len returns the encoded size in bytes.
func (b *MarshalBuffer) Len() int {
	return len(b.data)
}

// reserve appends n zero bytes and returns their offset.
func (b *MarshalBuffer) reserve(n uint32) uint32 {
	off := uint32(len(b.data))
	b.data = append(b.data, make([]byte, n)...)
	return off
}

func getBuffer() *MarshalBuffer {
	return bufPool.Get().(*MarshalBuffer)
}

func putBuffer(b *MarshalBuffer) {
	if b == nil || cap(b.data) > poolMaxCap {
		return // reject oversized
	}
	b.data = b.data[:0]
	bufPool.Put(b)
}

// CleanupToken releases a MarshalBuffer back to the pool. Every gather
// hands one out and the caller must run it exactly once after fully
// consuming the buffer; a second run panics.
type CleanupToken struct {
	buf      *MarshalBuffer
	released bool
}

func newCleanupToken(buf *MarshalBuffer) *CleanupToken {
	return &CleanupToken{buf: buf}
}

// Cleanup returns the buffer to the pool.
func (t *CleanupToken) Cleanup() {
	if t.released {
		panic(errors.ProtocolViolation(errors.PhaseGather, "cleanup token released twice"))
	}
	t.released = true
	putBuffer(t.buf)
	t.buf = nil
}

// Package common holds the pieces of §4.4's backend contract that don't
// vary per architecture: a growable code buffer (adapted from
// internal/asm/buffer.go in the teacher, minus the mmap-backed
// CodeSegment half of that file -- executable memory management belongs
// to internal/codecache, not to the three encoders), the forward-branch
// pending-list-then-patch machinery every backend shares, and the
// Metadata an encoder hands back to the tier controller (C9).
package common

import "encoding/binary"

// Buffer accumulates encoded machine code. Unlike the teacher's
// asm.Buffer, which views into a CodeSegment's mmap'd memory so the JIT
// can write directly into executable pages, this Buffer is a plain
// growable byte slice: copying the finished bytes into an executable
// mapping is internal/codecache's job, keeping the three instruction
// encoders free of any platform-specific memory management concern.
type Buffer struct {
	b []byte
}

// Len returns the number of bytes written so far.
func (buf *Buffer) Len() int { return len(buf.b) }

// Bytes returns the accumulated code.
func (buf *Buffer) Bytes() []byte { return buf.b }

// Emit1 appends a single byte.
func (buf *Buffer) Emit1(v byte) { buf.b = append(buf.b, v) }

// Emit4 appends v as 4 little-endian bytes.
func (buf *Buffer) Emit4(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.b = append(buf.b, tmp[:]...)
}

// Emit8 appends v as 8 little-endian bytes.
func (buf *Buffer) Emit8(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.b = append(buf.b, tmp[:]...)
}

// Patch4 overwrites the 4 bytes at offset off with v, used by the label
// resolver below to fill in a branch's real offset once its target is
// known.
func (buf *Buffer) Patch4(off int, v uint32) {
	binary.LittleEndian.PutUint32(buf.b[off:off+4], v)
}

// Align16 pads the buffer with zero bytes up to the next 16-byte
// boundary, the same alignment internal/asm/buffer.go's Next gives each
// function's entry point.
func (buf *Buffer) Align16() {
	for len(buf.b)%16 != 0 {
		buf.b = append(buf.b, 0)
	}
}

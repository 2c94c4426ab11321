package network

import (
	"encoding/binary"
	"math"
)

// bufferFlavor records which pool a region belongs to.
type bufferFlavor uint8

const (
	flavorSized bufferFlavor = iota
	flavorRead
	flavorPending
	flavorWrite
)

// Buffer is a fixed-capacity byte region with independent read and write
// cursors. Writes past the capacity and reads past the written bytes set a
// sticky error instead of panicking; check Err after a sequence of calls.
//
// A Buffer is owned by one goroutine at a time and is not safe for concurrent use.
type Buffer struct {
	buf    []byte
	r, w   int
	order  binary.ByteOrder
	err    error
	flavor bufferFlavor
	owned  bool // true while taken from an Allocator
}

// NewBuffer allocates an unpooled region of the given capacity.
func NewBuffer(size int, order binary.ByteOrder) *Buffer {
	if order == nil {
		order = binary.BigEndian
	}
	return &Buffer{buf: make([]byte, size), order: order}
}

// WrapBuffer builds a read-only view over p. Nothing is copied.
func WrapBuffer(p []byte, order binary.ByteOrder) *Buffer {
	b := &Buffer{}
	b.wrap(p, order)
	return b
}

func (b *Buffer) wrap(p []byte, order binary.ByteOrder) {
	if order == nil {
		order = binary.BigEndian
	}
	b.buf = p
	b.r = 0
	b.w = len(p)
	b.order = order
	b.err = nil
}

// Reset clears both cursors and the sticky error.
func (b *Buffer) Reset() {
	b.r, b.w = 0, 0
	b.err = nil
}

// Cap returns the capacity of the region.
func (b *Buffer) Cap() int { return len(b.buf) }

// Len returns the number of written, unread bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// Available returns how many bytes can still be written.
func (b *Buffer) Available() int { return len(b.buf) - b.w }

// Bytes returns the unread bytes. The slice aliases the region.
func (b *Buffer) Bytes() []byte { return b.buf[b.r:b.w] }

// Err returns the first overflow or underflow error.
func (b *Buffer) Err() error { return b.err }

// Order returns the byte order used for multi-byte values.
func (b *Buffer) Order() binary.ByteOrder { return b.order }

// Free returns the writable tail of the region, for reading into directly.
func (b *Buffer) Free() []byte { return b.buf[b.w:] }

// Advance marks n bytes of Free as written.
func (b *Buffer) Advance(n int) {
	if n < 0 || n > b.Available() {
		b.fail(ErrBufferOverflow)
		return
	}
	b.w += n
}

// Skip discards n unread bytes.
func (b *Buffer) Skip(n int) {
	if n < 0 || n > b.Len() {
		b.fail(ErrBufferUnderflow)
		return
	}
	b.r += n
}

// Compact moves the unread bytes to the start of the region.
func (b *Buffer) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.r:b.w])
	b.r, b.w = 0, n
}

func (b *Buffer) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Buffer) grab(n int) []byte {
	if b.err != nil {
		return nil
	}
	if n > b.Available() {
		b.fail(ErrBufferOverflow)
		return nil
	}
	p := b.buf[b.w : b.w+n]
	b.w += n
	return p
}

func (b *Buffer) take(n int) []byte {
	if b.err != nil {
		return nil
	}
	if n < 0 || n > b.Len() {
		b.fail(ErrBufferUnderflow)
		return nil
	}
	p := b.buf[b.r : b.r+n]
	b.r += n
	return p
}

// PutUint8 appends one byte.
func (b *Buffer) PutUint8(v uint8) {
	if p := b.grab(1); p != nil {
		p[0] = v
	}
}

// PutBool appends 1 or 0.
func (b *Buffer) PutBool(v bool) {
	if v {
		b.PutUint8(1)
	} else {
		b.PutUint8(0)
	}
}

func (b *Buffer) PutUint16(v uint16) {
	if p := b.grab(2); p != nil {
		b.order.PutUint16(p, v)
	}
}

func (b *Buffer) PutUint32(v uint32) {
	if p := b.grab(4); p != nil {
		b.order.PutUint32(p, v)
	}
}

func (b *Buffer) PutUint64(v uint64) {
	if p := b.grab(8); p != nil {
		b.order.PutUint64(p, v)
	}
}

func (b *Buffer) PutInt16(v int16)     { b.PutUint16(uint16(v)) }
func (b *Buffer) PutInt32(v int32)     { b.PutUint32(uint32(v)) }
func (b *Buffer) PutInt64(v int64)     { b.PutUint64(uint64(v)) }
func (b *Buffer) PutFloat32(v float32) { b.PutUint32(math.Float32bits(v)) }
func (b *Buffer) PutFloat64(v float64) { b.PutUint64(math.Float64bits(v)) }

// PutBytes appends p as is.
func (b *Buffer) PutBytes(p []byte) {
	if dst := b.grab(len(p)); dst != nil {
		copy(dst, p)
	}
}

// PutString appends s prefixed with its byte length as a uint16.
func (b *Buffer) PutString(s string) {
	if len(s) > math.MaxUint16 {
		b.fail(ErrBufferOverflow)
		return
	}
	b.PutUint16(uint16(len(s)))
	if dst := b.grab(len(s)); dst != nil {
		copy(dst, s)
	}
}

// SetUint16At overwrites two already written bytes at offset off from the
// start of the region. Used to patch the frame length placeholder.
func (b *Buffer) SetUint16At(off int, v uint16) {
	if off < 0 || off+2 > b.w {
		b.fail(ErrBufferOverflow)
		return
	}
	b.order.PutUint16(b.buf[off:], v)
}

func (b *Buffer) Uint8() uint8 {
	if p := b.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (b *Buffer) Bool() bool { return b.Uint8() != 0 }

func (b *Buffer) Uint16() uint16 {
	if p := b.take(2); p != nil {
		return b.order.Uint16(p)
	}
	return 0
}

func (b *Buffer) Uint32() uint32 {
	if p := b.take(4); p != nil {
		return b.order.Uint32(p)
	}
	return 0
}

func (b *Buffer) Uint64() uint64 {
	if p := b.take(8); p != nil {
		return b.order.Uint64(p)
	}
	return 0
}

func (b *Buffer) Int16() int16     { return int16(b.Uint16()) }
func (b *Buffer) Int32() int32     { return int32(b.Uint32()) }
func (b *Buffer) Int64() int64     { return int64(b.Uint64()) }
func (b *Buffer) Float32() float32 { return math.Float32frombits(b.Uint32()) }
func (b *Buffer) Float64() float64 { return math.Float64frombits(b.Uint64()) }

// ReadBytes returns a copy of the next n bytes.
func (b *Buffer) ReadBytes(n int) []byte {
	p := b.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

// ReadString reads a uint16 length-prefixed string.
func (b *Buffer) ReadString() string {
	n := int(b.Uint16())
	if p := b.take(n); p != nil {
		return string(p)
	}
	return ""
}

// Rest returns a copy of every unread byte.
func (b *Buffer) Rest() []byte {
	return b.ReadBytes(b.Len())
}

package network

import (
	"sync"
	"sync/atomic"

	"github.com/yinyihanbing/gutils/logs"
)

// Packet is a typed unit of wire data identified by a stable id.
type Packet interface {
	PacketID() uint16
}

// Writable packets serialize their payload into the write region.
// The frame header is written by the connection.
type Writable interface {
	Packet
	Write(b *Buffer) error
}

// Readable packets decode their payload from a frame view.
type Readable interface {
	Packet
	Read(b *Buffer) error
}

// Runnable packets execute against the connection that received them.
type Runnable interface {
	Run(conn *Connection)
}

// Poolable packets are reference counted across sends. Send retains the
// packet and its completion releases it, whether the write succeeded or not.
type Poolable interface {
	Writable
	Retain()
	Release()
}

// Reusable implements Poolable's reference counting for embedding. A packet
// taken from a PacketPool starts with one reference held by the caller.
type Reusable struct {
	refs    atomic.Int32
	recycle func()
}

func (r *Reusable) Retain() {
	r.refs.Add(1)
}

func (r *Reusable) Release() {
	n := r.refs.Add(-1)
	switch {
	case n == 0:
		if r.recycle != nil {
			r.recycle()
		}
	case n < 0:
		logs.Error("reusable packet released more often than retained")
	}
}

// Refs returns the outstanding reference count.
func (r *Reusable) Refs() int32 {
	return r.refs.Load()
}

func (r *Reusable) reuse() *Reusable { return r }

type reusable interface {
	Poolable
	reuse() *Reusable
}

// PacketPool recycles writable packets whose last reference was released.
type PacketPool[T reusable] struct {
	pool  sync.Pool
	reset func(T)
}

// NewPacketPool builds a pool using newFn for fresh packets and reset, when
// non-nil, to clear a packet before it is reused.
func NewPacketPool[T reusable](newFn func() T, reset func(T)) *PacketPool[T] {
	p := &PacketPool[T]{reset: reset}
	p.pool.New = func() any {
		pkt := newFn()
		pkt.reuse().recycle = p.recycler(pkt)
		return pkt
	}
	return p
}

func (p *PacketPool[T]) recycler(pkt T) func() {
	return func() {
		if p.reset != nil {
			p.reset(pkt)
		}
		p.pool.Put(pkt)
	}
}

// Get returns a packet holding one reference for the caller.
func (p *PacketPool[T]) Get() T {
	pkt := p.pool.Get().(T)
	r := pkt.reuse()
	if r.recycle == nil {
		// reset wiped the embedded Reusable
		r.recycle = p.recycler(pkt)
	}
	r.refs.Store(1)
	return pkt
}

// sendComplete runs the completion hook of a packet whose send finished.
func sendComplete(p Writable) {
	if pp, ok := p.(Poolable); ok {
		pp.Release()
	}
}

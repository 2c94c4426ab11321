package network

import (
	"encoding/binary"
	"math/bits"
	"sync"
	"sync/atomic"

	"gpnet/conf"

	"github.com/yinyihanbing/gutils/logs"
)

// AllocatorStats is a snapshot of allocator counters.
type AllocatorStats struct {
	Allocated  uint64 // regions created because a pool was empty
	Reused     uint64 // takes served from a pool
	Returned   uint64 // puts that went back into a pool
	Dropped    uint64 // puts discarded because the pool was full
	DoublePuts uint64 // puts of a region that was not taken
	InUse      int64  // regions currently handed out
}

// freeList is one pool of equally sized regions.
type freeList struct {
	mu    sync.Mutex
	size  int
	limit int
	free  []*Buffer
}

// Allocator issues and reclaims fixed-size regions for read, pending and
// write use, plus explicitly sized regions pooled by power-of-two class.
// A region is never handed out again until it has been put back.
type Allocator struct {
	cfg     conf.NetworkConfig
	order   binary.ByteOrder
	read    freeList
	pending freeList
	write   freeList

	sizedMu sync.Mutex
	sized   map[int]*freeList

	allocated  atomic.Uint64
	reused     atomic.Uint64
	returned   atomic.Uint64
	dropped    atomic.Uint64
	doublePuts atomic.Uint64
	inUse      atomic.Int64

	metrics *Metrics
}

// NewAllocator creates an allocator sized by cfg.
func NewAllocator(cfg conf.NetworkConfig) *Allocator {
	conf.ApplyDefaults(&cfg)
	a := &Allocator{
		cfg:   cfg,
		order: cfg.Order(),
		sized: make(map[int]*freeList),
	}
	limit := max(cfg.PoolCapacity, 0)
	a.read = freeList{size: cfg.ReadBufferSize, limit: limit}
	a.pending = freeList{size: cfg.PendingBufferSize, limit: limit}
	a.write = freeList{size: cfg.WriteBufferSize, limit: limit}
	return a
}

// SetMetrics attaches pool metrics. Call before the allocator is shared.
func (a *Allocator) SetMetrics(m *Metrics) {
	a.metrics = m
}

// Config returns the configuration the allocator was built with.
func (a *Allocator) Config() conf.NetworkConfig {
	return a.cfg
}

func (a *Allocator) TakeReadBuffer() *Buffer    { return a.takeFrom(&a.read, flavorRead) }
func (a *Allocator) TakePendingBuffer() *Buffer { return a.takeFrom(&a.pending, flavorPending) }
func (a *Allocator) TakeWriteBuffer() *Buffer   { return a.takeFrom(&a.write, flavorWrite) }

// TakeBuffer returns a region of exactly size bytes capacity, backed by a
// pooled power-of-two class.
func (a *Allocator) TakeBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	class := sizeClass(size)

	a.sizedMu.Lock()
	fl, ok := a.sized[class]
	if !ok {
		fl = &freeList{size: class, limit: max(a.cfg.PoolCapacity, 0)}
		a.sized[class] = fl
	}
	a.sizedMu.Unlock()

	b := a.takeFrom(fl, flavorSized)
	b.buf = b.buf[:size]
	return b
}

func (a *Allocator) PutReadBuffer(b *Buffer)    { a.put(b, flavorRead) }
func (a *Allocator) PutPendingBuffer(b *Buffer) { a.put(b, flavorPending) }
func (a *Allocator) PutWriteBuffer(b *Buffer)   { a.put(b, flavorWrite) }
func (a *Allocator) PutBuffer(b *Buffer)        { a.put(b, flavorSized) }

// Release returns any region to the pool it came from.
func (a *Allocator) Release(b *Buffer) {
	if b == nil {
		return
	}
	a.put(b, b.flavor)
}

// Stats returns the current counters.
func (a *Allocator) Stats() AllocatorStats {
	return AllocatorStats{
		Allocated:  a.allocated.Load(),
		Reused:     a.reused.Load(),
		Returned:   a.returned.Load(),
		Dropped:    a.dropped.Load(),
		DoublePuts: a.doublePuts.Load(),
		InUse:      a.inUse.Load(),
	}
}

func (a *Allocator) takeFrom(fl *freeList, flavor bufferFlavor) *Buffer {
	fl.mu.Lock()
	if n := len(fl.free); n > 0 {
		b := fl.free[n-1]
		fl.free[n-1] = nil
		fl.free = fl.free[:n-1]
		b.owned = true
		fl.mu.Unlock()

		b.Reset()
		a.reused.Add(1)
		a.inUse.Add(1)
		a.metrics.bufferTaken(true)
		return b
	}
	fl.mu.Unlock()

	b := NewBuffer(fl.size, a.order)
	b.flavor = flavor
	b.owned = true
	a.allocated.Add(1)
	a.inUse.Add(1)
	a.metrics.bufferTaken(false)
	return b
}

func (a *Allocator) put(b *Buffer, flavor bufferFlavor) {
	if b == nil {
		return
	}
	if b.flavor != flavor {
		logs.Error("buffer of flavor %d returned as flavor %d", b.flavor, flavor)
		flavor = b.flavor
	}

	var fl *freeList
	switch flavor {
	case flavorRead:
		fl = &a.read
	case flavorPending:
		fl = &a.pending
	case flavorWrite:
		fl = &a.write
	default:
		a.sizedMu.Lock()
		fl = a.sized[cap(b.buf)]
		a.sizedMu.Unlock()
		if fl == nil {
			logs.Error("buffer of capacity %d does not belong to this allocator", cap(b.buf))
			return
		}
	}

	fl.mu.Lock()
	if !b.owned {
		fl.mu.Unlock()
		a.doublePuts.Add(1)
		logs.Error("buffer returned to the allocator twice")
		return
	}
	b.owned = false
	b.buf = b.buf[:cap(b.buf)]
	a.inUse.Add(-1)
	if len(fl.free) >= fl.limit || len(b.buf) != fl.size {
		fl.mu.Unlock()
		a.dropped.Add(1)
		return
	}
	fl.free = append(fl.free, b)
	fl.mu.Unlock()
	a.returned.Add(1)
}

// sizeClass rounds size up to the next power of two.
func sizeClass(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

package network

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/eapache/queue"
	"github.com/yinyihanbing/gutils/logs"
)

// Connection runs the packet protocol over one Channel. Reading and writing
// proceed independently: a read goroutine assembles and decodes frames for
// the life of the connection, and at most one write goroutine drains the
// FIFO send queue, so only one write is ever in flight.
//
// The mutex guards the queue, the flags and the owner. It is never held
// across channel I/O.
type Connection struct {
	id     uint64
	e      *Engine
	ch     Channel
	origin string

	mu       sync.Mutex
	sendQ    *queue.Queue
	writing  bool
	reading  bool
	closed   bool
	owner    Agent
	userData any
	cryptor  Cryptor

	// sends are held until the cryptor is negotiated
	handshaking bool

	closeFlag    atomic.Bool
	lastActivity atomic.Int64
	done         chan struct{}

	// owned by the read loop once it runs
	readBuf *Buffer
	pending *Buffer
	frame   Buffer

	// owned by the write loop while writing is set
	writeBuf *Buffer
}

func newConnection(e *Engine, ch Channel, origin string) *Connection {
	c := &Connection{
		id:       e.nextID.Add(1),
		e:        e,
		ch:       ch,
		origin:   origin,
		sendQ:    queue.New(),
		cryptor:  NopCryptor{},
		done:     make(chan struct{}),
		readBuf:  e.Allocator.TakeReadBuffer(),
		pending:  e.Allocator.TakePendingBuffer(),
		writeBuf: e.Allocator.TakeWriteBuffer(),

		handshaking: e.NewCryptor != nil,
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// ID returns a number unique within the network that created the connection.
func (c *Connection) ID() uint64 { return c.id }

// Origin tells which kind of network created the connection.
func (c *Connection) Origin() string { return c.origin }

func (c *Connection) LocalAddr() net.Addr  { return c.ch.LocalAddr() }
func (c *Connection) RemoteAddr() net.Addr { return c.ch.RemoteAddr() }

// LastActivity returns when bytes were last received.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// IsClosed reports whether Close has run.
func (c *Connection) IsClosed() bool { return c.closeFlag.Load() }

// Done is closed once the connection is closed and its read loop has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Owner returns the attached agent, nil after close.
func (c *Connection) Owner() Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

func (c *Connection) UserData() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userData
}

func (c *Connection) SetUserData(data any) {
	c.mu.Lock()
	c.userData = data
	c.mu.Unlock()
}

// SetCryptor replaces the crypto hook. Frames already queued are encrypted
// with the hook current when they are written.
func (c *Connection) SetCryptor(cr Cryptor) {
	if cr == nil {
		cr = NopCryptor{}
	}
	c.mu.Lock()
	c.cryptor = cr
	c.mu.Unlock()
}

func (c *Connection) currentCryptor() Cryptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cryptor
}

// QueueLen returns the number of packets waiting to be written.
func (c *Connection) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendQ.Length()
}

func (c *Connection) setOwner(a Agent) {
	if a == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.notifyOwner(a)
		return
	}
	c.owner = a
	c.mu.Unlock()
}

// StartRead launches the read loop. Calling it again, or after Close, does nothing.
func (c *Connection) StartRead() {
	c.mu.Lock()
	if c.closed || c.reading {
		c.mu.Unlock()
		return
	}
	c.reading = true
	c.mu.Unlock()

	go c.readLoop()
}

func (c *Connection) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			logPanic("read loop", r)
		}
		c.Close()
		c.releaseReadRegions()
		close(c.done)
	}()

	if c.handshaking && !c.negotiate() {
		return
	}

	for {
		c.readBuf.Reset()
		n, err := c.ch.Read(c.readBuf.Free())
		if c.IsClosed() {
			return
		}
		if n > 0 {
			c.readBuf.Advance(n)
			if !c.onRead(c.readBuf.Bytes()) {
				return
			}
		}
		if err != nil {
			if !isClosedErr(err) {
				logs.Debug("connection %v read error: %v", c.id, err)
			}
			return
		}
	}
}

// negotiate runs the NewCryptor hook, installs its cryptor and starts the
// write loop for packets queued in the meantime. It reports whether the
// connection is still open.
func (c *Connection) negotiate() bool {
	cr, err := c.e.NewCryptor(c, c.ch)

	c.mu.Lock()
	c.handshaking = false
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if err != nil {
		c.mu.Unlock()
		c.e.Metrics.packetError(errKindHandshake)
		logs.Error("connection %v: negotiate cryptor: %v, closing", c.id, err)
		return false
	}
	if cr != nil {
		c.cryptor = cr
	}
	start := !c.writing && c.sendQ.Length() > 0
	if start {
		c.writing = true
	}
	c.mu.Unlock()

	if start {
		go c.writeLoop()
	}
	return true
}

// onRead handles one read completion. It returns false when the stream can
// no longer be framed and the connection must close.
func (c *Connection) onRead(data []byte) bool {
	c.lastActivity.Store(time.Now().UnixNano())
	c.e.Metrics.bytesRead(len(data))

	data = transform(c.currentCryptor().Decrypt, data)

	if c.pending.Len() == 0 {
		consumed, ok := c.carve(data)
		if !ok {
			return false
		}
		if consumed < len(data) {
			c.keep(data[consumed:])
		}
		return true
	}

	c.keep(data)
	consumed, ok := c.carve(c.pending.Bytes())
	if !ok {
		return false
	}
	c.pending.Skip(consumed)
	c.pending.Compact()
	c.shrinkPending()
	return true
}

// keep appends an incomplete frame tail to the pending region, swapping in
// a larger region when the frame would not fit.
func (c *Connection) keep(p []byte) {
	if c.pending.Available() < len(p) {
		c.pending.Compact()
	}
	if c.pending.Available() < len(p) {
		need := c.pending.Len() + len(p)
		var head [lenFieldLen]byte
		n := copy(head[:], c.pending.Bytes())
		copy(head[n:], p)
		if frameLen, ok := c.e.parser.FrameLen(head[:min(need, lenFieldLen)]); ok && frameLen > need {
			need = frameLen
		}
		bigger := c.e.Allocator.TakeBuffer(need)
		bigger.PutBytes(c.pending.Bytes())
		c.e.Allocator.Release(c.pending)
		c.pending = bigger
	}
	c.pending.PutBytes(p)
}

// shrinkPending gives back an oversized pending region once it drained.
func (c *Connection) shrinkPending() {
	if c.pending.flavor == flavorPending || c.pending.Len() > 0 {
		return
	}
	c.e.Allocator.Release(c.pending)
	c.pending = c.e.Allocator.TakePendingBuffer()
}

// carve decodes every complete frame at the head of data and returns how
// many bytes it consumed.
func (c *Connection) carve(data []byte) (consumed int, ok bool) {
	for !c.IsClosed() {
		id, payload, n, err := c.e.parser.Next(data[consumed:])
		if err != nil {
			logs.Error("connection %v: %v, closing", c.id, err)
			return consumed, false
		}
		if n == 0 {
			break
		}
		consumed += n
		if !c.handleFrame(id, payload) {
			return consumed, false
		}
	}
	return consumed, true
}

func (c *Connection) handleFrame(id uint16, payload []byte) bool {
	pkt, err := c.e.Registry.FindByID(id)
	if err != nil {
		c.e.Metrics.packetError(errKindUnknown)
		if c.e.Config.CloseOnUnknownPacket {
			logs.Error("connection %v: %v, closing", c.id, err)
			return false
		}
		logs.Error("connection %v: %v, skipping %v bytes", c.id, err, len(payload))
		return true
	}

	c.frame.wrap(payload, c.e.parser.Order())
	if err := decode(pkt, &c.frame); err != nil {
		c.e.Metrics.packetError(errKindDecode)
		logs.Error("connection %v: decode packet %v (%T) failed: %v", c.id, id, pkt, err)
		return true
	}
	c.e.Metrics.packetReceived(id)
	c.deliver(pkt)
	return true
}

func decode(pkt Readable, b *Buffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := pkt.Read(b); err != nil {
		return err
	}
	return b.Err()
}

func (c *Connection) deliver(pkt Readable) {
	proc := c.e.Processor
	if proc == nil {
		logs.Debug("connection %v: no processor, dropping packet %v", c.id, pkt.PacketID())
		return
	}
	c.e.Group.Submit(c.id, func() {
		if err := proc.Route(c, pkt); err != nil {
			c.e.Metrics.packetError(errKindHandler)
			logs.Error("connection %v: route packet %v: %v", c.id, pkt.PacketID(), err)
		}
	})
}

// Send queues pkt behind every packet sent before it and starts the write
// loop if it is idle. A Poolable packet is retained until its write completes.
// When the queue already holds PendingWriteNum packets the connection is
// closed, as a peer that stopped reading would only grow it further.
func (c *Connection) Send(pkt Writable) error {
	if pp, ok := pkt.(Poolable); ok {
		pp.Retain()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sendComplete(pkt)
		return ErrConnClosed
	}
	if c.sendQ.Length() >= c.e.Config.PendingWriteNum {
		c.mu.Unlock()
		sendComplete(pkt)
		logs.Debug("close connection %v: send queue full", c.id)
		c.Close()
		return ErrSendQueueFull
	}
	c.sendQ.Add(pkt)
	start := !c.writing && !c.handshaking
	if start {
		c.writing = true
	}
	c.mu.Unlock()

	if start {
		go c.writeLoop()
	}
	return nil
}

// writeLoop writes queued packets one at a time until the queue is empty or
// the connection closes. The write region is released here when the
// connection closed while a write was in flight.
func (c *Connection) writeLoop() {
	for {
		c.mu.Lock()
		if c.closed || c.sendQ.Length() == 0 {
			c.writing = false
			closed := c.closed
			c.mu.Unlock()
			if closed {
				c.releaseWriteRegion()
			}
			return
		}
		pkt := c.sendQ.Remove().(Writable)
		cr := c.cryptor
		c.mu.Unlock()

		c.writeNextPacket(pkt, cr)
	}
}

func (c *Connection) writeNextPacket(pkt Writable, cr Cryptor) {
	defer sendComplete(pkt)

	buf := c.writeBuf
	buf.Reset()
	err := encode(c.e.parser, buf, pkt)
	if errors.Is(err, ErrBufferOverflow) && buf.Cap() < MaxFrameLen {
		big := c.e.Allocator.TakeBuffer(MaxFrameLen)
		defer c.e.Allocator.Release(big)
		buf = big
		err = encode(c.e.parser, buf, pkt)
	}
	if err != nil {
		c.e.Metrics.packetError(errKindEncode)
		logs.Error("connection %v: serialize packet %v (%T) failed: %v", c.id, pkt.PacketID(), pkt, err)
		return
	}

	frame := transform(cr.Encrypt, buf.Bytes())
	_, plain := cr.(NopCryptor)
	size := len(frame)
	for len(frame) > 0 {
		n, err := c.ch.Write(frame)
		if n > 0 {
			frame = frame[n:]
		}
		if err == nil && n > 0 {
			continue
		}
		if err == nil {
			err = io.ErrShortWrite
		}

		c.e.Metrics.packetError(errKindWrite)
		switch {
		case isClosedErr(err) || c.IsClosed():
			logs.Debug("connection %v write error: %v", c.id, err)
			c.Close()
		case len(frame) < size || !plain:
			// the peer lost the frame boundary or the keystream position
			logs.Error("connection %v: write packet %v failed after %v of %v bytes: %v, closing",
				c.id, pkt.PacketID(), size-len(frame), size, err)
			c.Close()
		default:
			logs.Error("connection %v: write packet %v failed: %v", c.id, pkt.PacketID(), err)
		}
		return
	}
	c.e.Metrics.packetSent(pkt.PacketID(), size)
}

func encode(p *FrameParser, b *Buffer, pkt Writable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Encode(b, pkt)
}

// Close closes the channel, drops the send queue, returns every region no
// loop is using and notifies the owner. It is safe to call more than once
// and from any goroutine, including packet handlers.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeFlag.Store(true)

	dropped := make([]Writable, 0, c.sendQ.Length())
	for c.sendQ.Length() > 0 {
		dropped = append(dropped, c.sendQ.Remove().(Writable))
	}
	releaseWrite := !c.writing
	releaseRead := !c.reading
	owner := c.owner
	c.owner = nil
	c.mu.Unlock()

	if err := c.ch.Close(); err != nil && !isClosedErr(err) {
		logs.Debug("connection %v close: %v", c.id, err)
	}
	for _, pkt := range dropped {
		sendComplete(pkt)
	}
	if releaseWrite {
		c.releaseWriteRegion()
	}
	if releaseRead {
		c.releaseReadRegions()
		close(c.done)
	}

	c.e.remove(c)
	c.e.Metrics.connClosed()
	logs.Debug("connection %v closed", c.id)

	if owner != nil {
		c.notifyOwner(owner)
	}
}

func (c *Connection) notifyOwner(a Agent) {
	defer func() {
		if r := recover(); r != nil {
			logPanic("agent OnClose", r)
		}
	}()
	a.OnClose()
}

func (c *Connection) releaseReadRegions() {
	c.e.Allocator.Release(c.readBuf)
	c.e.Allocator.Release(c.pending)
	c.readBuf, c.pending = nil, nil
}

func (c *Connection) releaseWriteRegion() {
	c.e.Allocator.Release(c.writeBuf)
	c.writeBuf = nil
}

// isClosedErr reports errors meaning the channel itself is gone.
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

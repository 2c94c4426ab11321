package network

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gpnet/conf"

	"github.com/stretchr/testify/require"
)

const (
	idPing      uint16 = 10
	idBlob      uint16 = 11
	idBroken    uint16 = 12
	idPanicky   uint16 = 13
	idCounted   uint16 = 14
	idRunnable  uint16 = 15
	idRejected  uint16 = 16
	idForgotten uint16 = 99
)

type ping struct {
	Seq  uint32
	Text string
}

func (*ping) PacketID() uint16 { return idPing }

func (p *ping) Write(b *Buffer) error {
	b.PutUint32(p.Seq)
	b.PutString(p.Text)
	return nil
}

func (p *ping) Read(b *Buffer) error {
	p.Seq = b.Uint32()
	p.Text = b.ReadString()
	return nil
}

type blob struct {
	Data []byte
}

func (*blob) PacketID() uint16 { return idBlob }

func (p *blob) Write(b *Buffer) error {
	b.PutUint32(uint32(len(p.Data)))
	b.PutBytes(p.Data)
	return nil
}

func (p *blob) Read(b *Buffer) error {
	n := int(b.Uint32())
	p.Data = b.ReadBytes(n)
	return nil
}

type broken struct{}

func (*broken) PacketID() uint16      { return idBroken }
func (*broken) Write(b *Buffer) error { b.PutUint8(1); return nil }
func (*broken) Read(b *Buffer) error  { return errors.New("broken payload") }

type panicky struct{}

func (*panicky) PacketID() uint16      { return idPanicky }
func (*panicky) Write(b *Buffer) error { b.PutUint8(1); return nil }
func (*panicky) Read(b *Buffer) error  { panic("bad packet") }

// rejected is a pooled packet that never serializes.
type rejected struct {
	Reusable
}

func (*rejected) PacketID() uint16 { return idRejected }

func (*rejected) Write(b *Buffer) error { return errors.New("cannot serialize") }

// forgotten is writable but never registered on the receiving side.
type forgotten struct{}

func (*forgotten) PacketID() uint16      { return idForgotten }
func (*forgotten) Write(b *Buffer) error { b.PutUint32(7); return nil }

type counted struct {
	Reusable
	N uint32
}

func (*counted) PacketID() uint16 { return idCounted }

func (p *counted) Write(b *Buffer) error {
	b.PutUint32(p.N)
	return nil
}

func (p *counted) Read(b *Buffer) error {
	p.N = b.Uint32()
	return nil
}

type runnable struct{}

func (*runnable) PacketID() uint16      { return idRunnable }
func (*runnable) Write(b *Buffer) error { return nil }
func (*runnable) Read(b *Buffer) error  { return nil }

var runnableSeen = make(chan uint64, 16)

func (*runnable) Run(conn *Connection) { runnableSeen <- conn.ID() }

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(&ping{}, &blob{}, &broken{}, &panicky{}, &counted{}, &runnable{})
	require.NoError(t, err)
	return r
}

func testConfig() conf.NetworkConfig {
	cfg := conf.DefaultNetworkConfig()
	cfg.ReadBufferSize = 1024
	cfg.PendingBufferSize = 1024
	cfg.WriteBufferSize = 1024
	cfg.PoolCapacity = 16
	return cfg
}

// collector is a Processor recording every packet it routes.
type collector struct {
	mu   sync.Mutex
	pkts []Readable
	ch   chan Readable
}

func newCollector() *collector {
	return &collector{ch: make(chan Readable, 4096)}
}

func (c *collector) Route(conn *Connection, pkt Readable) error {
	c.mu.Lock()
	c.pkts = append(c.pkts, pkt)
	c.mu.Unlock()
	c.ch <- pkt
	return nil
}

func (c *collector) next(t *testing.T) Readable {
	t.Helper()
	select {
	case pkt := <-c.ch:
		return pkt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a packet")
		return nil
	}
}

func (c *collector) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case pkt := <-c.ch:
		t.Fatalf("unexpected packet %d (%T)", pkt.PacketID(), pkt)
	case <-time.After(d):
	}
}

func newEngine(t *testing.T, cfg conf.NetworkConfig, proc Processor) *Engine {
	t.Helper()
	e := &Engine{Config: cfg, Registry: testRegistry(t), Processor: proc}
	require.NoError(t, e.init())
	t.Cleanup(e.Shutdown)
	return e
}

// pipePair connects a server and a client engine through net.Pipe.
func pipePair(t *testing.T, server, client *Engine) (sc, cc *Connection) {
	t.Helper()
	a, b := net.Pipe()
	sc, err := server.Open(a, OriginTCPServer)
	require.NoError(t, err)
	cc, err = client.Open(b, OriginTCPClient)
	require.NoError(t, err)
	return sc, cc
}

func waitDone(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("connection %v did not finish", c.ID())
	}
}

// encodeFrames serializes pkts as they would appear on the wire.
func encodeFrames(t *testing.T, cfg conf.NetworkConfig, pkts ...Writable) []byte {
	t.Helper()
	p := NewFrameParser(cfg.Order())
	var out []byte
	for _, pkt := range pkts {
		b := NewBuffer(MaxFrameLen, cfg.Order())
		require.NoError(t, p.Encode(b, pkt))
		out = append(out, b.Bytes()...)
	}
	return out
}

// trickle writes at most three bytes per call.
type trickle struct {
	net.Conn
	calls atomic.Int32
}

func (t *trickle) Write(p []byte) (int, error) {
	t.calls.Add(1)
	return t.Conn.Write(p[:min(len(p), 3)])
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// flaky fails write call number failAt with a timeout after passing on its
// first partial bytes.
type flaky struct {
	net.Conn
	failAt  int
	partial int

	mu    sync.Mutex
	calls int
}

func (f *flaky) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failAt
	f.mu.Unlock()

	if !fail {
		return f.Conn.Write(p)
	}
	if f.partial == 0 {
		return 0, timeoutError{}
	}
	n, err := f.Conn.Write(p[:min(len(p), f.partial)])
	if err != nil {
		return n, err
	}
	return n, timeoutError{}
}

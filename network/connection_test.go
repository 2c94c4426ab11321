package network

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gpnet/conf"
	"gpnet/network/chacha"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRoundTrip(t *testing.T) {
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	client := newEngine(t, testConfig(), nil)
	sc, cc := pipePair(t, server, client)

	before := sc.LastActivity()
	time.Sleep(time.Millisecond)
	require.NoError(t, cc.Send(&ping{Seq: 1, Text: "hello"}))

	pkt := got.next(t)
	assert.Equal(t, &ping{Seq: 1, Text: "hello"}, pkt)
	assert.True(t, sc.LastActivity().After(before))
	assert.False(t, sc.IsClosed())
}

func TestConnectionFIFOOrder(t *testing.T) {
	cfg := testConfig()
	cfg.ThreadGroupSize = 4

	var mu sync.Mutex
	order := make(map[uint64][]uint32)
	var total atomic.Int64
	proc := ProcessorFunc(func(conn *Connection, pkt Readable) error {
		mu.Lock()
		order[conn.ID()] = append(order[conn.ID()], pkt.(*ping).Seq)
		mu.Unlock()
		total.Add(1)
		return nil
	})

	server := newEngine(t, cfg, proc)
	client := newEngine(t, testConfig(), nil)

	const conns = 4
	const perConn = 300
	var wg sync.WaitGroup
	for i := 0; i < conns; i++ {
		_, cc := pipePair(t, server, client)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := uint32(0); seq < perConn; seq++ {
				assert.NoError(t, cc.Send(&ping{Seq: seq}))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return total.Load() == conns*perConn }, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, conns)
	for id, seqs := range order {
		for i, seq := range seqs {
			if !assert.Equal(t, uint32(i), seq, "connection %v out of order", id) {
				break
			}
		}
	}
}

func TestConnectionChunkedReassembly(t *testing.T) {
	for _, readSize := range []int{16, 64, 1024} {
		cfg := testConfig()
		cfg.ReadBufferSize = readSize
		cfg.PendingBufferSize = readSize

		got := newCollector()
		server := newEngine(t, cfg, got)
		a, b := net.Pipe()
		t.Cleanup(func() { b.Close() })
		_, err := server.Open(a, OriginTCPServer)
		require.NoError(t, err)

		big := bytes.Repeat([]byte{0x5A}, 300)
		wire := encodeFrames(t, cfg,
			&ping{Seq: 1, Text: "first"},
			&blob{Data: big},
			&ping{Seq: 2, Text: ""},
			&blob{Data: nil},
			&ping{Seq: 3, Text: "last"},
		)

		// odd chunk sizes so frame and length-field boundaries fall mid-chunk
		sizes := []int{1, 2, 3, 5, 7, 11, 13}
		for off, i := 0, 0; off < len(wire); i++ {
			n := min(sizes[i%len(sizes)], len(wire)-off)
			_, err := b.Write(wire[off : off+n])
			require.NoError(t, err)
			off += n
		}

		assert.Equal(t, &ping{Seq: 1, Text: "first"}, got.next(t))
		assert.Equal(t, big, got.next(t).(*blob).Data)
		assert.Equal(t, &ping{Seq: 2, Text: ""}, got.next(t))
		assert.Empty(t, got.next(t).(*blob).Data)
		assert.Equal(t, &ping{Seq: 3, Text: "last"}, got.next(t))
	}
}

func TestConnectionSmallBuffersLargePacket(t *testing.T) {
	cfg := testConfig()
	cfg.ReadBufferSize = 64
	cfg.PendingBufferSize = 64
	cfg.WriteBufferSize = 64

	got := newCollector()
	allocator := NewAllocator(cfg)
	server := &Engine{Config: cfg, Registry: testRegistry(t), Processor: got, Allocator: allocator}
	client := &Engine{Config: cfg, Registry: testRegistry(t), Allocator: allocator}
	t.Cleanup(server.Shutdown)
	t.Cleanup(client.Shutdown)
	sc, cc := pipePair(t, server, client)

	data := make([]byte, 500)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, cc.Send(&blob{Data: data}))
	require.NoError(t, cc.Send(&ping{Seq: 9, Text: "after"}))

	assert.Equal(t, data, got.next(t).(*blob).Data)
	assert.Equal(t, &ping{Seq: 9, Text: "after"}, got.next(t))

	cc.Close()
	waitDone(t, sc)
	waitDone(t, cc)
	require.Eventually(t, func() bool { return allocator.Stats().InUse == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), allocator.Stats().DoublePuts)
}

func TestConnectionDecodeFailuresAreContained(t *testing.T) {
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	client := newEngine(t, testConfig(), nil)
	sc, cc := pipePair(t, server, client)

	require.NoError(t, cc.Send(&broken{}))
	require.NoError(t, cc.Send(&panicky{}))
	require.NoError(t, cc.Send(&ping{Seq: 5}))

	assert.Equal(t, &ping{Seq: 5}, got.next(t))
	assert.False(t, sc.IsClosed())
}

func TestConnectionUnknownPacketTolerated(t *testing.T) {
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	client := newEngine(t, testConfig(), nil)
	sc, cc := pipePair(t, server, client)

	require.NoError(t, cc.Send(&forgotten{}))
	require.NoError(t, cc.Send(&ping{Seq: 6}))

	assert.Equal(t, &ping{Seq: 6}, got.next(t))
	assert.False(t, sc.IsClosed())
}

func TestEnginePartialConfigKeepsDefaults(t *testing.T) {
	partial := conf.NetworkConfig{ReadBufferSize: 1024, PendingBufferSize: 1024, WriteBufferSize: 1024}

	got := newCollector()
	server := newEngine(t, partial, got)
	client := newEngine(t, partial, nil)
	assert.Equal(t, conf.DefaultNetworkConfig().PoolCapacity, server.Config.PoolCapacity)
	assert.False(t, server.Config.CloseOnUnknownPacket)

	sc, cc := pipePair(t, server, client)
	require.NoError(t, cc.Send(&forgotten{}))
	require.NoError(t, cc.Send(&ping{Seq: 9}))

	assert.Equal(t, &ping{Seq: 9}, got.next(t))
	assert.False(t, sc.IsClosed())

	// the regions of a closed connection are pooled for the next one
	sc.Close()
	waitDone(t, sc)
	waitDone(t, cc)
	require.Eventually(t, func() bool { return server.Allocator.Stats().InUse == 0 }, 5*time.Second, time.Millisecond)

	pipePair(t, server, client)
	s := server.Allocator.Stats()
	assert.Equal(t, uint64(3), s.Reused)
	assert.Equal(t, uint64(0), s.Dropped)
}

func TestConnectionUnknownPacketClosesWhenStrict(t *testing.T) {
	cfg := testConfig()
	cfg.CloseOnUnknownPacket = true

	got := newCollector()
	server := newEngine(t, cfg, got)
	client := newEngine(t, testConfig(), nil)
	sc, cc := pipePair(t, server, client)

	require.NoError(t, cc.Send(&forgotten{}))
	waitDone(t, sc)
	waitDone(t, cc)
	got.none(t, 50*time.Millisecond)
}

func TestConnectionMalformedFrameCloses(t *testing.T) {
	server := newEngine(t, testConfig(), newCollector())
	a, b := net.Pipe()
	t.Cleanup(func() { b.Close() })
	sc, err := server.Open(a, OriginTCPServer)
	require.NoError(t, err)

	_, err = b.Write([]byte{0x00, 0x02, 0x00, 0x0A})
	require.NoError(t, err)
	waitDone(t, sc)
	assert.True(t, sc.IsClosed())
}

func TestConnectionRunnablePackets(t *testing.T) {
	server := newEngine(t, testConfig(), NewRouter())
	client := newEngine(t, testConfig(), nil)
	sc, cc := pipePair(t, server, client)

	require.NoError(t, cc.Send(&runnable{}))
	select {
	case id := <-runnableSeen:
		assert.Equal(t, sc.ID(), id)
	case <-time.After(5 * time.Second):
		t.Fatal("runnable packet did not run")
	}
}

func TestConnectionCloseReleasesRegionsOnce(t *testing.T) {
	cfg := testConfig()
	allocator := NewAllocator(cfg)
	got := newCollector()
	server := &Engine{Config: cfg, Registry: testRegistry(t), Processor: got, Allocator: allocator}
	client := &Engine{Config: cfg, Registry: testRegistry(t), Allocator: allocator}
	t.Cleanup(server.Shutdown)
	t.Cleanup(client.Shutdown)

	for round := 0; round < 20; round++ {
		sc, cc := pipePair(t, server, client)
		for i := 0; i < 10; i++ {
			_ = cc.Send(&ping{Seq: uint32(i)})
			_ = sc.Send(&ping{Seq: uint32(i)})
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() { defer wg.Done(); sc.Close() }()
			go func() { defer wg.Done(); cc.Close() }()
		}
		wg.Wait()
		waitDone(t, sc)
		waitDone(t, cc)

		assert.ErrorIs(t, sc.Send(&ping{}), ErrConnClosed)
		assert.Equal(t, 0, sc.QueueLen())
	}

	require.Eventually(t, func() bool { return allocator.Stats().InUse == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), allocator.Stats().DoublePuts)
	assert.Equal(t, 0, server.ConnNum())
	assert.Equal(t, 0, client.ConnNum())
}

func TestConnectionCloseBeforeRead(t *testing.T) {
	cfg := testConfig()
	e := newEngine(t, cfg, nil)
	a, b := net.Pipe()
	defer b.Close()

	c := newConnection(e, a, OriginTCPServer)
	c.Close()
	waitDone(t, c)
	c.StartRead()
	assert.Equal(t, int64(0), e.Allocator.Stats().InUse)
}

func TestConnectionOwnerNotifiedOnce(t *testing.T) {
	var closes atomic.Int32
	server := newEngine(t, testConfig(), nil)
	server.NewAgent = func(*Connection) Agent {
		return AgentFunc(func() { closes.Add(1) })
	}
	client := newEngine(t, testConfig(), nil)
	sc, cc := pipePair(t, server, client)
	assert.NotNil(t, sc.Owner())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() { defer wg.Done(); sc.Close() }()
	}
	wg.Wait()
	waitDone(t, cc)

	assert.Equal(t, int32(1), closes.Load())
	assert.Nil(t, sc.Owner())

	// an owner attached after close hears about it at once
	late := make(chan struct{})
	sc.setOwner(AgentFunc(func() { close(late) }))
	select {
	case <-late:
	default:
		t.Fatal("late owner was not notified")
	}
}

func TestConnectionPooledPacketReferences(t *testing.T) {
	var recycled atomic.Int32
	pool := NewPacketPool(
		func() *counted { return new(counted) },
		func(p *counted) { p.N = 0; recycled.Add(1) },
	)

	got := newCollector()
	server := newEngine(t, testConfig(), got)
	client := newEngine(t, testConfig(), nil)
	_, cc := pipePair(t, server, client)

	pkt := pool.Get()
	pkt.N = 77
	assert.Equal(t, int32(1), pkt.Refs())

	for i := 0; i < 3; i++ {
		require.NoError(t, cc.Send(pkt))
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint32(77), got.next(t).(*counted).N)
	}
	require.Eventually(t, func() bool { return pkt.Refs() == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(0), recycled.Load())

	pkt.Release()
	assert.Equal(t, int32(1), recycled.Load())

	// a send refused on a closed connection still releases its reference
	again := pool.Get()
	cc.Close()
	assert.ErrorIs(t, cc.Send(again), ErrConnClosed)
	assert.Equal(t, int32(1), again.Refs())
	again.Release()
}

func TestConnectionSendQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.PendingWriteNum = 2
	e := newEngine(t, cfg, nil)

	// nobody reads b, so the first write never completes
	a, b := net.Pipe()
	defer b.Close()
	c, err := e.Open(a, OriginTCPServer)
	require.NoError(t, err)

	var sendErr error
	for i := 0; i < 10 && sendErr == nil; i++ {
		sendErr = c.Send(&ping{Seq: uint32(i)})
	}
	assert.ErrorIs(t, sendErr, ErrSendQueueFull)
	assert.True(t, c.IsClosed())
	waitDone(t, c)
	require.Eventually(t, func() bool { return e.Allocator.Stats().InUse == 0 }, 5*time.Second, time.Millisecond)
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func serverHandshake(_ *Connection, ch Channel) (Cryptor, error) {
	cr, err := chacha.ServerHandshake(ch, testSecret)
	if err != nil {
		return nil, err
	}
	return cr, nil
}

func clientHandshake(_ *Connection, ch Channel) (Cryptor, error) {
	cr, err := chacha.ClientHandshake(ch, testSecret)
	if err != nil {
		return nil, err
	}
	return cr, nil
}

func TestConnectionChachaRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.ReadBufferSize = 64
	cfg.PendingBufferSize = 64

	got := newCollector()
	server := newEngine(t, cfg, ProcessorFunc(func(conn *Connection, pkt Readable) error {
		p := pkt.(*ping)
		return conn.Send(&ping{Seq: p.Seq + 1, Text: "re: " + p.Text})
	}))
	server.NewCryptor = serverHandshake
	client := newEngine(t, cfg, got)
	client.NewCryptor = clientHandshake
	_, cc := pipePair(t, server, client)

	long := string(bytes.Repeat([]byte("x"), 200))
	for i := uint32(0); i < 20; i++ {
		require.NoError(t, cc.Send(&ping{Seq: i * 2, Text: long}))
	}
	for i := uint32(0); i < 20; i++ {
		assert.Equal(t, &ping{Seq: i*2 + 1, Text: "re: " + long}, got.next(t))
	}
}

// recorder keeps a copy of everything written through it.
type recorder struct {
	net.Conn
	mu      sync.Mutex
	written bytes.Buffer
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.written.Write(p)
	r.mu.Unlock()
	return r.Conn.Write(p)
}

func (r *recorder) bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.written.Bytes()...)
}

// encryptedSession sends pkt from a fresh client connection and returns
// what the client put on the wire.
func encryptedSession(t *testing.T, pkt *ping) []byte {
	t.Helper()
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	server.NewCryptor = serverHandshake
	client := newEngine(t, testConfig(), nil)
	client.NewCryptor = clientHandshake

	a, b := net.Pipe()
	rec := &recorder{Conn: b}
	_, err := server.Open(a, OriginTCPServer)
	require.NoError(t, err)
	cc, err := client.Open(rec, OriginTCPClient)
	require.NoError(t, err)

	require.NoError(t, cc.Send(pkt))
	assert.Equal(t, pkt, got.next(t))
	return rec.bytes()
}

func TestConnectionEncryptsWholeFrames(t *testing.T) {
	pkt := &ping{Seq: 3, Text: "plaintext"}
	plain := encodeFrames(t, testConfig(), pkt)

	first := encryptedSession(t, pkt)
	require.Len(t, first, chacha.SaltLen+len(plain), "the salt then a length preserving frame")
	assert.NotEqual(t, plain, first[chacha.SaltLen:])
	assert.NotContains(t, string(first), "plaintext")

	second := encryptedSession(t, pkt)
	require.Len(t, second, len(first))
	assert.NotEqual(t, first[:chacha.SaltLen], second[:chacha.SaltLen])
	assert.NotEqual(t, first[chacha.SaltLen:], second[chacha.SaltLen:], "each session has its own keystream")
}

func TestConnectionCryptorFailureCloses(t *testing.T) {
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	server.NewCryptor = serverHandshake
	client := newEngine(t, testConfig(), nil)
	client.NewCryptor = func(*Connection, Channel) (Cryptor, error) {
		return nil, errors.New("no key material")
	}
	sc, cc := pipePair(t, server, client)

	pool := NewPacketPool(func() *counted { return new(counted) }, nil)
	pkt := pool.Get()
	pkt.N = 1
	err := cc.Send(pkt)
	if err != nil {
		assert.ErrorIs(t, err, ErrConnClosed)
	}

	waitDone(t, cc)
	waitDone(t, sc)
	got.none(t, 50*time.Millisecond)
	assert.Equal(t, int32(1), pkt.Refs(), "the dropped packet was completed")
	require.Eventually(t, func() bool { return client.Allocator.Stats().InUse == 0 }, 5*time.Second, time.Millisecond)
}

func TestConnectionSendsWaitForCryptor(t *testing.T) {
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	server.NewCryptor = serverHandshake

	release := make(chan struct{})
	client := newEngine(t, testConfig(), nil)
	client.NewCryptor = func(c *Connection, ch Channel) (Cryptor, error) {
		<-release
		return clientHandshake(c, ch)
	}
	_, cc := pipePair(t, server, client)

	require.NoError(t, cc.Send(&ping{Seq: 1}))
	require.NoError(t, cc.Send(&ping{Seq: 2}))
	assert.Equal(t, 2, cc.QueueLen(), "nothing is written before the cryptor is in place")
	got.none(t, 20*time.Millisecond)

	close(release)
	assert.Equal(t, &ping{Seq: 1}, got.next(t))
	assert.Equal(t, &ping{Seq: 2}, got.next(t))
}

func TestConnectionCloseDuringHandshake(t *testing.T) {
	server := newEngine(t, testConfig(), nil)
	server.NewCryptor = serverHandshake
	a, b := net.Pipe()
	defer b.Close()
	sc, err := server.Open(a, OriginTCPServer)
	require.NoError(t, err)

	require.NoError(t, sc.Send(&ping{}))
	sc.Close()
	waitDone(t, sc)
	require.Eventually(t, func() bool { return server.Allocator.Stats().InUse == 0 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, uint64(0), server.Allocator.Stats().DoublePuts)
}

func TestConnectionSerializeFailureMovesOn(t *testing.T) {
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	client := newEngine(t, testConfig(), nil)

	a, b := net.Pipe()
	_, err := server.Open(a, OriginTCPServer)
	require.NoError(t, err)
	ch := &trickle{Conn: b}
	cc, err := client.Open(ch, OriginTCPClient)
	require.NoError(t, err)

	pool := NewPacketPool(func() *rejected { return new(rejected) }, nil)
	bad := pool.Get()
	require.NoError(t, cc.Send(bad))
	require.NoError(t, cc.Send(&ping{Seq: 7, Text: "after the bad one"}))

	// the ping arrives whole even though every write moved three bytes
	assert.Equal(t, &ping{Seq: 7, Text: "after the bad one"}, got.next(t))
	assert.Greater(t, int(ch.calls.Load()), 1)
	assert.Equal(t, int32(1), bad.Refs(), "the failed packet was completed")
	assert.False(t, cc.IsClosed())
}

func TestConnectionWriteTimeoutSkipsPacket(t *testing.T) {
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	client := newEngine(t, testConfig(), nil)

	a, b := net.Pipe()
	_, err := server.Open(a, OriginTCPServer)
	require.NoError(t, err)
	cc, err := client.Open(&flaky{Conn: b, failAt: 1}, OriginTCPClient)
	require.NoError(t, err)

	pool := NewPacketPool(func() *counted { return new(counted) }, nil)
	lost := pool.Get()
	lost.N = 1
	require.NoError(t, cc.Send(lost))
	require.NoError(t, cc.Send(&ping{Seq: 2}))

	assert.Equal(t, &ping{Seq: 2}, got.next(t))
	assert.Equal(t, int32(1), lost.Refs())
	assert.False(t, cc.IsClosed())
}

func TestConnectionPartialWriteFailureCloses(t *testing.T) {
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	client := newEngine(t, testConfig(), nil)

	a, b := net.Pipe()
	sc, err := server.Open(a, OriginTCPServer)
	require.NoError(t, err)
	cc, err := client.Open(&flaky{Conn: b, failAt: 1, partial: 2}, OriginTCPClient)
	require.NoError(t, err)

	require.NoError(t, cc.Send(&ping{Seq: 1}))
	waitDone(t, cc)
	waitDone(t, sc)
	got.none(t, 20*time.Millisecond)
}

func TestConnectionEncryptedWriteFailureCloses(t *testing.T) {
	got := newCollector()
	server := newEngine(t, testConfig(), got)
	server.NewCryptor = serverHandshake
	client := newEngine(t, testConfig(), nil)
	client.NewCryptor = clientHandshake

	a, b := net.Pipe()
	_, err := server.Open(a, OriginTCPServer)
	require.NoError(t, err)
	// the salt is write 1, the first frame write 2
	cc, err := client.Open(&flaky{Conn: b, failAt: 2}, OriginTCPClient)
	require.NoError(t, err)

	require.NoError(t, cc.Send(&ping{Seq: 1}))
	waitDone(t, cc)
	got.none(t, 20*time.Millisecond)
}

func TestEngineLimitsAndBroadcast(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnNum = 2
	server := newEngine(t, cfg, nil)
	got := newCollector()
	client := newEngine(t, testConfig(), got)

	pipePair(t, server, client)
	pipePair(t, server, client)
	assert.Equal(t, 2, server.ConnNum())

	a, b := net.Pipe()
	defer b.Close()
	_, err := server.Open(a, OriginTCPServer)
	assert.ErrorIs(t, err, ErrTooManyConns)

	// client origins are not limited
	_, err = server.Open(b, OriginTCPClient)
	assert.NoError(t, err)

	server.Broadcast(&ping{Seq: 11})
	assert.Equal(t, &ping{Seq: 11}, got.next(t))
	assert.Equal(t, &ping{Seq: 11}, got.next(t))

	server.Shutdown()
	assert.Equal(t, 0, server.ConnNum())
	x, y := net.Pipe()
	defer y.Close()
	_, err = server.Open(x, OriginTCPServer)
	assert.ErrorIs(t, err, ErrNetworkClosed)
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithNamespace("test"))

	got := newCollector()
	server := newEngine(t, testConfig(), got)
	server.Metrics = m
	client := newEngine(t, testConfig(), nil)
	client.Metrics = m
	sc, cc := pipePair(t, server, client)

	require.NoError(t, cc.Send(&ping{Seq: 1}))
	require.NoError(t, cc.Send(&broken{}))
	require.NoError(t, cc.Send(&forgotten{}))
	require.NoError(t, cc.Send(&ping{Seq: 2}))
	got.next(t)
	got.next(t)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.connsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connsTotal.WithLabelValues(OriginTCPServer)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.packetsIn.WithLabelValues("10")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.packetErrors.WithLabelValues(errKindDecode)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.packetErrors.WithLabelValues(errKindUnknown)))
	assert.Greater(t, testutil.ToFloat64(m.bytesIn), float64(0))

	sc.Close()
	waitDone(t, cc)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.connsActive))
}

package network

import (
	"errors"
	"sync"
	"sync/atomic"

	"gpnet/conf"

	"github.com/yinyihanbing/gutils/logs"
)

var (
	// ErrNetworkClosed is returned when opening a connection on a closed network.
	ErrNetworkClosed = errors.New("network closed")

	// ErrTooManyConns is returned when a server is at MaxConnNum.
	ErrTooManyConns = errors.New("too many connections")
)

// Connection origins, also used as the metrics label.
const (
	OriginTCPServer = "tcp_server"
	OriginTCPClient = "tcp_client"
	OriginWSServer  = "ws_server"
	OriginWSClient  = "ws_client"
)

// Engine holds what every connection of one network shares and tracks the
// live connections. TCPServer, TCPClient and WSServer embed it; fill the
// exported fields before starting them.
type Engine struct {
	// Config sizes buffers, the task group and the limits.
	Config conf.NetworkConfig

	// Registry resolves inbound packet ids. Nil means every id is unknown.
	Registry *Registry

	// Processor receives decoded packets. Nil drops them.
	Processor Processor

	// Allocator is shared by all connections. Nil creates one from Config.
	Allocator *Allocator

	// Group runs dispatch. Nil creates one from Config, closed with the network.
	Group *TaskGroup

	// Metrics records engine activity. Nil disables metrics.
	Metrics *Metrics

	// NewCryptor negotiates the crypto hook of a new connection. It runs on
	// the read goroutine before any frame is read and may use ch to exchange
	// raw bytes with the peer; packets sent meanwhile wait in the queue. A
	// nil Cryptor leaves the stream unchanged and an error closes the
	// connection. Nil uses NopCryptor.
	NewCryptor func(c *Connection, ch Channel) (Cryptor, error)

	// NewAgent attaches the application owner of a new connection.
	NewAgent func(*Connection) Agent

	// OnAccept is called for every new connection before reading starts.
	OnAccept func(*Connection)

	initOnce sync.Once
	initErr  error
	parser   *FrameParser
	ownGroup bool
	nextID   atomic.Uint64

	mutexConns sync.Mutex
	conns      map[*Connection]struct{}
	closeFlag  bool
	closeOnce  sync.Once
}

func (e *Engine) init() error {
	e.initOnce.Do(func() {
		conf.ApplyDefaults(&e.Config)
		if err := conf.Validate(e.Config); err != nil {
			e.initErr = err
			return
		}

		if e.Allocator == nil {
			e.Allocator = NewAllocator(e.Config)
			e.Allocator.SetMetrics(e.Metrics)
		}
		if e.Registry == nil {
			e.Registry = MustRegistry()
		}
		if e.Group == nil {
			e.Group = NewTaskGroupFromConfig(e.Config)
			e.ownGroup = true
		}
		e.parser = NewFrameParser(e.Config.Order())
		e.conns = make(map[*Connection]struct{})
	})
	return e.initErr
}

// Open wraps an established channel in a Connection, attaches its agent and
// starts reading. The channel is closed when the network refuses it.
func (e *Engine) Open(ch Channel, origin string) (*Connection, error) {
	if err := e.init(); err != nil {
		ch.Close()
		return nil, err
	}

	e.mutexConns.Lock()
	if e.closeFlag {
		e.mutexConns.Unlock()
		ch.Close()
		return nil, ErrNetworkClosed
	}
	if (origin == OriginTCPServer || origin == OriginWSServer) && len(e.conns) >= e.Config.MaxConnNum {
		n := len(e.conns)
		e.mutexConns.Unlock()
		ch.Close()
		logs.Error("too many connections. conn num=%v, limit=%v", n, e.Config.MaxConnNum)
		return nil, ErrTooManyConns
	}
	c := newConnection(e, ch, origin)
	e.conns[c] = struct{}{}
	e.mutexConns.Unlock()

	e.Metrics.connOpened(origin)
	logs.Debug("connection %v opened: %v -> %v", c.id, c.LocalAddr(), c.RemoteAddr())

	if e.NewAgent != nil {
		c.setOwner(e.NewAgent(c))
	}
	if e.OnAccept != nil {
		e.OnAccept(c)
	}
	c.StartRead()
	return c, nil
}

func (e *Engine) remove(c *Connection) {
	e.mutexConns.Lock()
	delete(e.conns, c)
	e.mutexConns.Unlock()
}

// Connections returns a snapshot of the live connections.
func (e *Engine) Connections() []*Connection {
	e.mutexConns.Lock()
	defer e.mutexConns.Unlock()

	out := make([]*Connection, 0, len(e.conns))
	for c := range e.conns {
		out = append(out, c)
	}
	return out
}

// ConnNum returns the number of live connections.
func (e *Engine) ConnNum() int {
	e.mutexConns.Lock()
	defer e.mutexConns.Unlock()
	return len(e.conns)
}

// Broadcast sends pkt to every live connection. A Poolable packet is
// retained once per connection; the caller keeps its own reference.
func (e *Engine) Broadcast(pkt Writable) {
	for _, c := range e.Connections() {
		if err := c.Send(pkt); err != nil {
			logs.Debug("broadcast to connection %v: %v", c.id, err)
		}
	}
}

// Shutdown closes every live connection, waits for their read loops and
// stops an owned task group. Later calls do nothing.
//
// Shutdown waits for the goroutines packet handlers run on, so a handler
// must not call it directly; start it with go e.Shutdown() instead.
func (e *Engine) Shutdown() {
	e.closeOnce.Do(func() {
		e.mutexConns.Lock()
		e.closeFlag = true
		conns := make([]*Connection, 0, len(e.conns))
		for c := range e.conns {
			conns = append(conns, c)
		}
		e.mutexConns.Unlock()

		for _, c := range conns {
			c.Close()
		}
		for _, c := range conns {
			<-c.Done()
		}
		if e.ownGroup {
			e.Group.Close()
		}
	})
}

package gate

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gpnet/conf"
	"gpnet/network"

	"github.com/yinyihanbing/gserv/chanrpc"
	"github.com/yinyihanbing/gutils/logs"
	"github.com/yinyihanbing/gutils/timer"
)

// Gate serves the packet protocol on a TCP and a websocket address and
// hands every client to the application as an Agent. Both servers share
// one allocator and one task group.
type Gate struct {
	Config       conf.NetworkConfig
	Registry     *network.Registry
	Processor    network.Processor
	AgentChanRPC *chanrpc.Server
	Metrics      *network.Metrics
	NewCryptor   func(*network.Connection, network.Channel) (network.Cryptor, error)

	// websocket
	WSAddr      string
	HTTPTimeout time.Duration
	CertFile    string
	KeyFile     string

	// tcp
	TCPAddr string

	// IdleTimeout closes connections that received nothing for that long.
	// Zero disables the sweep.
	IdleTimeout time.Duration

	wsServer  *network.WSServer
	tcpServer *network.TCPServer
	group     *network.TaskGroup
	agents    atomic.Int64
	mu        sync.Mutex
	started   bool
	stopOnce  sync.Once
}

// Start binds the configured servers. Nothing keeps running when an error
// is returned. Calling it again after a successful start does nothing.
func (gate *Gate) Start() error {
	gate.mu.Lock()
	defer gate.mu.Unlock()
	if gate.started {
		return nil
	}
	if gate.TCPAddr == "" && gate.WSAddr == "" {
		return errors.New("gate has neither a tcp nor a websocket address")
	}
	conf.ApplyDefaults(&gate.Config)
	if err := conf.Validate(gate.Config); err != nil {
		return err
	}

	allocator := network.NewAllocator(gate.Config)
	allocator.SetMetrics(gate.Metrics)
	gate.group = network.NewTaskGroupFromConfig(gate.Config)

	if gate.WSAddr != "" {
		gate.wsServer = new(network.WSServer)
		gate.wsServer.Addr = gate.WSAddr
		gate.wsServer.HTTPTimeout = gate.HTTPTimeout
		gate.wsServer.CertFile = gate.CertFile
		gate.wsServer.KeyFile = gate.KeyFile
		gate.setupEngine(&gate.wsServer.Engine, allocator)
	}
	if gate.TCPAddr != "" {
		gate.tcpServer = new(network.TCPServer)
		gate.tcpServer.Addr = gate.TCPAddr
		gate.setupEngine(&gate.tcpServer.Engine, allocator)
	}

	if gate.wsServer != nil {
		if err := gate.wsServer.Start(); err != nil {
			gate.group.Close()
			return err
		}
		logs.Info("gate ws service startup: %v", gate.wsServer.ListenAddr())
	}
	if gate.tcpServer != nil {
		if err := gate.tcpServer.Start(); err != nil {
			if gate.wsServer != nil {
				gate.wsServer.Close()
			}
			gate.group.Close()
			return err
		}
		logs.Info("gate tcp service startup: %v", gate.tcpServer.ListenAddr())
	}
	gate.started = true
	return nil
}

func (gate *Gate) setupEngine(e *network.Engine, allocator *network.Allocator) {
	e.Config = gate.Config
	e.Registry = gate.Registry
	e.Processor = gate.Processor
	e.Allocator = allocator
	e.Group = gate.group
	e.Metrics = gate.Metrics
	e.NewCryptor = gate.NewCryptor
	e.NewAgent = func(conn *network.Connection) network.Agent {
		a := &agent{conn: conn, gate: gate}
		gate.agents.Add(1)
		if gate.AgentChanRPC != nil {
			gate.AgentChanRPC.Go("NewAgent", a)
		}
		return a
	}
}

// Run starts the gate unless Start already ran and serves until closeSig fires.
func (gate *Gate) Run(closeSig chan bool) {
	if err := gate.Start(); err != nil {
		logs.Error("gate start failed: %v", err)
		<-closeSig
		return
	}

	var chanTimer chan *timer.Timer
	var next *timer.Timer
	if gate.IdleTimeout > 0 {
		dispatcher := timer.NewDispatcher(1)
		chanTimer = dispatcher.ChanTimer
		var sweep func()
		sweep = func() {
			gate.SweepIdle(time.Now())
			next = dispatcher.AfterFunc(gate.sweepInterval(), sweep)
		}
		next = dispatcher.AfterFunc(gate.sweepInterval(), sweep)
	}

	for {
		select {
		case <-closeSig:
			if next != nil {
				next.Stop()
			}
			gate.Stop()
			return
		case t := <-chanTimer:
			t.Cb()
		}
	}
}

func (gate *Gate) sweepInterval() time.Duration {
	return max(gate.IdleTimeout/2, 10*time.Millisecond)
}

// SweepIdle closes every connection whose last received bytes are older
// than IdleTimeout at now, and returns how many it closed.
func (gate *Gate) SweepIdle(now time.Time) int {
	if gate.IdleTimeout <= 0 {
		return 0
	}
	n := 0
	for _, c := range gate.Connections() {
		if idle := now.Sub(c.LastActivity()); idle > gate.IdleTimeout {
			logs.Debug("connection %v idle for %v, closing", c.ID(), idle)
			c.Close()
			n++
		}
	}
	return n
}

// Connections returns the live connections of both servers.
func (gate *Gate) Connections() []*network.Connection {
	var conns []*network.Connection
	if gate.tcpServer != nil {
		conns = append(conns, gate.tcpServer.Connections()...)
	}
	if gate.wsServer != nil {
		conns = append(conns, gate.wsServer.Connections()...)
	}
	return conns
}

// AgentNum returns the number of agents not yet closed.
func (gate *Gate) AgentNum() int {
	return int(gate.agents.Load())
}

// TCPListenAddr returns the bound tcp address, or nil.
func (gate *Gate) TCPListenAddr() net.Addr {
	if gate.tcpServer == nil {
		return nil
	}
	return gate.tcpServer.ListenAddr()
}

// WSListenAddr returns the bound websocket address, or nil.
func (gate *Gate) WSListenAddr() net.Addr {
	if gate.wsServer == nil {
		return nil
	}
	return gate.wsServer.ListenAddr()
}

// Stop closes both servers and their connections. It is idempotent.
func (gate *Gate) Stop() {
	gate.stopOnce.Do(func() {
		gate.mu.Lock()
		defer gate.mu.Unlock()
		if gate.wsServer != nil {
			gate.wsServer.Close()
			logs.Info("gate ws service stopped: %v", gate.WSAddr)
		}
		if gate.tcpServer != nil {
			gate.tcpServer.Close()
			logs.Info("gate tcp service stopped: %v", gate.TCPAddr)
		}
		if gate.group != nil {
			gate.group.Close()
		}
	})
}

func (gate *Gate) OnInit() {}

func (gate *Gate) OnDestroy() {}

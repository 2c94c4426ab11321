package echo

import (
	"reflect"
	"sync/atomic"
	"time"

	"gpnet/conf"
	"gpnet/gate"
	"gpnet/module"
	"gpnet/network"

	"github.com/yinyihanbing/gutils/logs"
)

// Module is the echo application. Requests are answered by RequestEcho.Run
// on the network side; the module tracks agents and counts requests on its
// skeleton goroutine.
type Module struct {
	*module.Skeleton

	agents   map[gate.Agent]struct{}
	requests atomic.Int64
	active   atomic.Int64
}

// NewModule returns an echo module with its own skeleton.
func NewModule() *Module {
	m := &Module{
		Skeleton: module.NewSkeleton(10000, 10),
		agents:   make(map[gate.Agent]struct{}),
	}
	m.RegisterChanRPC("NewAgent", m.newAgent)
	m.RegisterChanRPC("CloseAgent", m.closeAgent)
	m.RegisterChanRPC(reflect.TypeOf(&RequestEcho{}), m.handleRequest)
	return m
}

func (m *Module) OnInit() {}

func (m *Module) OnDestroy() {
	logs.Info("echo module served %v requests", m.requests.Load())
}

func (m *Module) newAgent(args []any) {
	a := args[0].(gate.Agent)
	m.agents[a] = struct{}{}
	m.active.Store(int64(len(m.agents)))
	logs.Debug("echo agent connected: %v", a.RemoteAddr())
}

func (m *Module) closeAgent(args []any) {
	a := args[0].(gate.Agent)
	delete(m.agents, a)
	m.active.Store(int64(len(m.agents)))
	logs.Debug("echo agent disconnected: %v", a.RemoteAddr())
}

func (m *Module) handleRequest(args []any) {
	m.requests.Add(1)
}

// Requests returns the number of requests seen so far.
func (m *Module) Requests() int64 { return m.requests.Load() }

// ActiveAgents returns the number of connected agents.
func (m *Module) ActiveAgents() int64 { return m.active.Load() }

// NewGate builds the gate serving the echo protocol for m.
func NewGate(m *Module, cfg conf.NetworkConfig, tcpAddr, wsAddr string, idleTimeout time.Duration) *gate.Gate {
	router := network.NewRouter()
	router.SetRouter(IDRequestEcho, m.ChanRPCServer)

	return &gate.Gate{
		Config:       cfg,
		Registry:     ServerRegistry(),
		Processor:    router,
		AgentChanRPC: m.ChanRPCServer,
		TCPAddr:      tcpAddr,
		WSAddr:       wsAddr,
		IdleTimeout:  idleTimeout,
	}
}

package module

import (
	"time"

	"github.com/yinyihanbing/gserv/chanrpc"
	"github.com/yinyihanbing/gutils/timer"
)

// Skeleton is the single goroutine of an application module. Chanrpc
// calls, including the agent notifications and packets a gate routes to
// ChanRPCServer, and timer callbacks all run on it, so module state needs
// no locking.
type Skeleton struct {
	TimerDispatcherLen int
	ChanRPCServer      *chanrpc.Server

	dispatcher *timer.Dispatcher
	server     *chanrpc.Server
}

// NewSkeleton returns an initialized skeleton with its own chanrpc server.
func NewSkeleton(chanRPCLen, timerDispatcherLen int) *Skeleton {
	s := &Skeleton{
		TimerDispatcherLen: timerDispatcherLen,
		ChanRPCServer:      chanrpc.NewServer(chanRPCLen),
	}
	s.Init()
	return s
}

// Init creates the timer dispatcher and a chanrpc server if none was set.
func (s *Skeleton) Init() {
	s.TimerDispatcherLen = max(s.TimerDispatcherLen, 0)

	s.dispatcher = timer.NewDispatcher(s.TimerDispatcherLen)
	if s.ChanRPCServer == nil {
		s.ChanRPCServer = chanrpc.NewServer(0)
	}
	s.server = s.ChanRPCServer
}

// Run executes chanrpc calls and timer callbacks until closeSig fires.
func (s *Skeleton) Run(closeSig chan bool) {
	for {
		select {
		case <-closeSig:
			s.server.Close()
			return
		case ci := <-s.server.ChanCall:
			s.server.Exec(ci)
		case t := <-s.dispatcher.ChanTimer:
			t.Cb()
		}
	}
}

// AfterFunc runs cb on the skeleton goroutine after d.
func (s *Skeleton) AfterFunc(d time.Duration, cb func()) *timer.Timer {
	if s.TimerDispatcherLen == 0 {
		panic("invalid TimerDispatcherLen")
	}
	return s.dispatcher.AfterFunc(d, cb)
}

// RegisterChanRPC registers f under id on the skeleton's chanrpc server.
func (s *Skeleton) RegisterChanRPC(id any, f any) {
	if s.server == nil {
		panic("skeleton is not initialized")
	}
	s.server.Register(id, f)
}

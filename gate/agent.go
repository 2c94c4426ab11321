package gate

import (
	"net"
	"sync"

	"gpnet/network"

	"github.com/yinyihanbing/gutils/logs"
)

// Agent is the application view of one client connection.
type Agent interface {
	// WriteMsg queues pkt for sending.
	WriteMsg(pkt network.Writable) error

	// LocalAddr returns the local network address of the agent.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address of the agent.
	RemoteAddr() net.Addr

	// Close closes the connection. Queued packets are dropped.
	Close()

	// Conn returns the underlying connection.
	Conn() *network.Connection

	// UserData retrieves the user-defined data associated with the agent.
	UserData() any

	// SetUserData sets user-defined data for the agent.
	SetUserData(data any)
}

type agent struct {
	conn *network.Connection
	gate *Gate

	mu       sync.Mutex
	userData any
}

// OnClose notifies the agent chanrpc server. The notification is queued
// rather than called so a handler running on that server may close agents.
func (a *agent) OnClose() {
	a.gate.agents.Add(-1)
	if a.gate.AgentChanRPC != nil {
		a.gate.AgentChanRPC.Go("CloseAgent", a)
	}
}

func (a *agent) WriteMsg(pkt network.Writable) error {
	err := a.conn.Send(pkt)
	if err != nil {
		logs.Error("write packet %v to %v error: %v", pkt.PacketID(), a.conn.RemoteAddr(), err)
	}
	return err
}

func (a *agent) LocalAddr() net.Addr {
	return a.conn.LocalAddr()
}

func (a *agent) RemoteAddr() net.Addr {
	return a.conn.RemoteAddr()
}

func (a *agent) Close() {
	a.conn.Close()
}

func (a *agent) Conn() *network.Connection {
	return a.conn
}

func (a *agent) UserData() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userData
}

func (a *agent) SetUserData(data any) {
	a.mu.Lock()
	a.userData = data
	a.mu.Unlock()
}

// AgentOf returns the gate agent owning conn, or nil.
func AgentOf(conn *network.Connection) Agent {
	a, _ := conn.Owner().(Agent)
	return a
}

package cluster

import (
	"time"

	"gpnet/conf"
	"gpnet/network"

	"github.com/yinyihanbing/gserv/chanrpc"
	"github.com/yinyihanbing/gutils/logs"
)

// Peer links between servers. Set these before Init.
var (
	Config       conf.NetworkConfig
	Registry     *network.Registry
	Processor    network.Processor
	AgentChanRPC *chanrpc.Server

	server  *network.TCPServer
	clients []*network.TCPClient
)

// Init listens on conf.ListenAddr for peers and keeps a reconnecting link to
// every address in conf.ConnAddrs.
func Init() {
	if conf.ListenAddr != "" {
		server = new(network.TCPServer)
		server.Addr = conf.ListenAddr
		setupEngine(&server.Engine)

		if err := server.Start(); err != nil {
			logs.Error("cluster service startup failed: %v", err)
			server = nil
		} else {
			logs.Info("cluster service startup: %v", server.ListenAddr())
		}
	}

	for _, addr := range conf.ConnAddrs {
		client := new(network.TCPClient)
		client.Addr = addr
		client.ConnNum = 1
		client.ConnectInterval = 3 * time.Second
		client.AutoReconnect = true
		setupEngine(&client.Engine)

		if err := client.Start(); err != nil {
			logs.Error("cluster client %v startup failed: %v", addr, err)
			continue
		}
		clients = append(clients, client)
		logs.Info("cluster client startup: %v", addr)
	}
}

func setupEngine(e *network.Engine) {
	e.Config = Config
	e.Registry = Registry
	e.Processor = Processor
	e.NewAgent = newAgent
}

// Peers returns the live links in both directions.
func Peers() []*network.Connection {
	var conns []*network.Connection
	if server != nil {
		conns = append(conns, server.Connections()...)
	}
	for _, client := range clients {
		conns = append(conns, client.Connections()...)
	}
	return conns
}

// Destroy closes the listener, every link and stops reconnecting.
func Destroy() {
	if server != nil {
		server.Close()
		server = nil
	}
	for _, client := range clients {
		client.Close()
	}
	clients = nil
}

// Agent is the owner of one peer link.
type Agent struct {
	conn *network.Connection
}

func newAgent(conn *network.Connection) network.Agent {
	a := &Agent{conn: conn}
	if AgentChanRPC != nil {
		AgentChanRPC.Go("NewAgent", a)
	}
	return a
}

// Conn returns the peer link.
func (a *Agent) Conn() *network.Connection {
	return a.conn
}

func (a *Agent) OnClose() {
	if AgentChanRPC != nil {
		AgentChanRPC.Go("CloseAgent", a)
	}
}

package network

import (
	"fmt"
	"reflect"

	"github.com/yinyihanbing/gserv/chanrpc"
)

// Processor receives every decoded packet of a connection, in arrival order.
// Must be goroutine-safe: different connections route concurrently.
type Processor interface {
	Route(conn *Connection, pkt Readable) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(conn *Connection, pkt Readable) error

func (f ProcessorFunc) Route(conn *Connection, pkt Readable) error { return f(conn, pkt) }

// PacketHandler handles one packet type.
type PacketHandler func(conn *Connection, pkt Readable)

// Router routes packets by id to handlers and chanrpc servers. Runnable
// packets are run first. Configure it before the network starts; routing
// itself only reads.
type Router struct {
	handlers map[uint16]PacketHandler
	routers  map[uint16]*chanrpc.Server
	fallback PacketHandler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[uint16]PacketHandler),
		routers:  make(map[uint16]*chanrpc.Server),
	}
}

// SetHandler calls h for every packet with the given id.
func (r *Router) SetHandler(id uint16, h PacketHandler) {
	r.handlers[id] = h
}

// SetRouter forwards packets with the given id to server. The chanrpc id is
// the packet's reflect.Type and the arguments are the packet and the connection.
func (r *Router) SetRouter(id uint16, server *chanrpc.Server) {
	r.routers[id] = server
}

// SetFallback handles packets nothing else claimed.
func (r *Router) SetFallback(h PacketHandler) {
	r.fallback = h
}

func (r *Router) Route(conn *Connection, pkt Readable) error {
	id := pkt.PacketID()
	handled := false

	if run, ok := pkt.(Runnable); ok {
		run.Run(conn)
		handled = true
	}
	if h, ok := r.handlers[id]; ok {
		h(conn, pkt)
		handled = true
	}
	if server, ok := r.routers[id]; ok {
		server.Go(reflect.TypeOf(pkt), pkt, conn)
		handled = true
	}
	if handled {
		return nil
	}
	if r.fallback != nil {
		r.fallback(conn, pkt)
		return nil
	}
	return fmt.Errorf("no route for packet %d (%T)", id, pkt)
}

package echo

import (
	"gpnet/network"

	"github.com/yinyihanbing/gutils/logs"
)

// Packet ids of the echo protocol.
const (
	IDRequestEcho  uint16 = 1
	IDResponseEcho uint16 = 3
)

// RequestEcho asks the server to send Msg back.
type RequestEcho struct {
	Msg string
}

func (*RequestEcho) PacketID() uint16 { return IDRequestEcho }

func (p *RequestEcho) Write(b *network.Buffer) error {
	b.PutString(p.Msg)
	return b.Err()
}

func (p *RequestEcho) Read(b *network.Buffer) error {
	p.Msg = b.ReadString()
	return b.Err()
}

// Run answers on the connection the request arrived on.
func (p *RequestEcho) Run(conn *network.Connection) {
	resp := NewResponse("Echo: " + p.Msg)
	if err := conn.Send(resp); err != nil {
		logs.Debug("echo reply to connection %v: %v", conn.ID(), err)
	}
	resp.Release()
}

// ResponseEcho carries the echoed text. Responses are pooled.
type ResponseEcho struct {
	network.Reusable
	Msg string
}

func (*ResponseEcho) PacketID() uint16 { return IDResponseEcho }

func (p *ResponseEcho) Write(b *network.Buffer) error {
	b.PutString(p.Msg)
	return b.Err()
}

func (p *ResponseEcho) Read(b *network.Buffer) error {
	p.Msg = b.ReadString()
	return b.Err()
}

var responses = network.NewPacketPool(
	func() *ResponseEcho { return new(ResponseEcho) },
	func(p *ResponseEcho) { p.Msg = "" },
)

// NewResponse takes a response from the pool. The caller holds one
// reference and must Release it.
func NewResponse(msg string) *ResponseEcho {
	p := responses.Get()
	p.Msg = msg
	return p
}

// ServerRegistry lists the packets a server decodes.
func ServerRegistry() *network.Registry {
	return network.MustRegistry(&RequestEcho{})
}

// ClientRegistry lists the packets a client decodes.
func ClientRegistry() *network.Registry {
	return network.MustRegistry(&ResponseEcho{})
}

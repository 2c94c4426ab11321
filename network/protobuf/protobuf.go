package protobuf

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"gpnet/network"

	"github.com/yinyihanbing/gserv/chanrpc"
	"google.golang.org/protobuf/proto"
)

// Message carries a protobuf message as the payload of a packet.
type Message struct {
	id  uint16
	Msg proto.Message
}

// NewMessage wraps msg as packet id.
func NewMessage(id uint16, msg proto.Message) *Message {
	return &Message{id: id, Msg: msg}
}

func (m *Message) PacketID() uint16 {
	return m.id
}

// Write marshals the message straight into the free space of b.
func (m *Message) Write(b *network.Buffer) error {
	if m.Msg == nil {
		return errors.New("protobuf packet has no message")
	}
	out, err := proto.MarshalOptions{}.MarshalAppend(b.Free()[:0], m.Msg)
	if err != nil {
		return err
	}
	if len(out) > b.Available() {
		// reports ErrBufferOverflow so the frame is retried in a larger region
		b.PutBytes(out)
		return b.Err()
	}
	b.Advance(len(out))
	return b.Err()
}

// Read unmarshals the whole remaining payload.
func (m *Message) Read(b *network.Buffer) error {
	if m.Msg == nil {
		return errors.New("protobuf packet has no message")
	}
	data := b.Bytes()
	if err := proto.Unmarshal(data, m.Msg); err != nil {
		return err
	}
	b.Skip(len(data))
	return b.Err()
}

// MsgHandler handles one protobuf message type.
type MsgHandler func(conn *network.Connection, msg proto.Message)

type msgInfo struct {
	id         uint16
	msgType    reflect.Type
	prototype  proto.Message
	msgHandler MsgHandler
	msgRouter  *chanrpc.Server
}

// Processor binds protobuf message types to packet ids and routes decoded
// messages to handlers or chanrpc servers. Register everything before the
// network starts; routing only reads.
type Processor struct {
	byID   map[uint16]*msgInfo
	byType map[reflect.Type]*msgInfo
}

// NewProcessor creates an empty Processor.
func NewProcessor() *Processor {
	return &Processor{
		byID:   make(map[uint16]*msgInfo),
		byType: make(map[reflect.Type]*msgInfo),
	}
}

// Register binds the type of msg to id.
func (p *Processor) Register(id uint16, msg proto.Message) error {
	msgType := reflect.TypeOf(msg)
	if msgType == nil || msgType.Kind() != reflect.Ptr {
		return fmt.Errorf("register %v: %w", msgType, network.ErrInvalidPrototype)
	}
	if prev, ok := p.byID[id]; ok {
		return fmt.Errorf("register %v: id %d already used by %v: %w", msgType, id, prev.msgType, network.ErrDuplicatePacketID)
	}
	if _, ok := p.byType[msgType]; ok {
		return fmt.Errorf("message type %v is already registered", msgType)
	}

	i := &msgInfo{id: id, msgType: msgType, prototype: msg}
	p.byID[id] = i
	p.byType[msgType] = i
	return nil
}

// SetHandler calls h for every received message of the type of msg.
func (p *Processor) SetHandler(msg proto.Message, h MsgHandler) error {
	i, err := p.info(msg)
	if err != nil {
		return err
	}
	i.msgHandler = h
	return nil
}

// SetRouter forwards messages of the type of msg to server. The chanrpc id
// is the message type and the arguments are the message and the connection.
func (p *Processor) SetRouter(msg proto.Message, server *chanrpc.Server) error {
	i, err := p.info(msg)
	if err != nil {
		return err
	}
	i.msgRouter = server
	return nil
}

// Registry builds the packet registry for every registered message.
func (p *Processor) Registry() (*network.Registry, error) {
	factories := make([]any, 0, len(p.byID))
	p.Range(func(id uint16, _ reflect.Type) {
		prototype := p.byID[id].prototype
		factories = append(factories, network.Factory{
			ID: id,
			New: func() network.Readable {
				return NewMessage(id, prototype.ProtoReflect().New().Interface())
			},
		})
	})
	return network.NewRegistry(factories...)
}

// Wrap returns msg as a packet under its registered id.
func (p *Processor) Wrap(msg proto.Message) (*Message, error) {
	i, err := p.info(msg)
	if err != nil {
		return nil, err
	}
	return NewMessage(i.id, msg), nil
}

// Send wraps msg and sends it on conn.
func (p *Processor) Send(conn *network.Connection, msg proto.Message) error {
	pkt, err := p.Wrap(msg)
	if err != nil {
		return err
	}
	return conn.Send(pkt)
}

// Route implements network.Processor for packets built by Registry.
func (p *Processor) Route(conn *network.Connection, pkt network.Readable) error {
	m, ok := pkt.(*Message)
	if !ok {
		return fmt.Errorf("packet %d (%T) is not a protobuf message", pkt.PacketID(), pkt)
	}
	i, ok := p.byID[m.id]
	if !ok {
		return fmt.Errorf("packet %d: %w", m.id, network.ErrUnknownPacket)
	}
	if i.msgHandler == nil && i.msgRouter == nil {
		return fmt.Errorf("no route for message %v", i.msgType)
	}
	if i.msgHandler != nil {
		i.msgHandler(conn, m.Msg)
	}
	if i.msgRouter != nil {
		i.msgRouter.Go(i.msgType, m.Msg, conn)
	}
	return nil
}

// Range calls f for every registered message in id order.
func (p *Processor) Range(f func(id uint16, t reflect.Type)) {
	ids := make([]uint16, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	for _, id := range ids {
		f(id, p.byID[id].msgType)
	}
}

func (p *Processor) info(msg proto.Message) (*msgInfo, error) {
	msgType := reflect.TypeOf(msg)
	i, ok := p.byType[msgType]
	if !ok {
		return nil, fmt.Errorf("message type %v is not registered", msgType)
	}
	return i, nil
}

package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"gpnet/network"

	"github.com/yinyihanbing/gserv/chanrpc"
)

// Message carries a JSON document as the payload of a packet. Msg must be a
// pointer so Read can decode into it.
type Message struct {
	id  uint16
	Msg any
}

// NewMessage wraps msg as packet id.
func NewMessage(id uint16, msg any) *Message {
	return &Message{id: id, Msg: msg}
}

func (m *Message) PacketID() uint16 {
	return m.id
}

func (m *Message) Write(b *network.Buffer) error {
	data, err := json.Marshal(m.Msg)
	if err != nil {
		return err
	}
	b.PutBytes(data)
	return b.Err()
}

// Read decodes the whole remaining payload. An empty payload leaves Msg zero.
func (m *Message) Read(b *network.Buffer) error {
	if m.Msg == nil {
		return errors.New("json packet has no message")
	}
	data := b.Bytes()
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, m.Msg); err != nil {
		return err
	}
	b.Skip(len(data))
	return b.Err()
}

// MsgHandler handles one JSON message type.
type MsgHandler func(conn *network.Connection, msg any)

type msgInfo struct {
	id         uint16
	msgType    reflect.Type
	msgHandler MsgHandler
	msgRouter  *chanrpc.Server
}

// Processor binds Go struct types to packet ids and routes decoded JSON
// messages. Register everything before the network starts.
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

// Register binds the type of msg, a struct pointer, to id.
func (p *Processor) Register(id uint16, msg any) error {
	msgType := reflect.TypeOf(msg)
	if msgType == nil || msgType.Kind() != reflect.Ptr {
		return fmt.Errorf("register %v: json message pointer is required: %w", msgType, network.ErrInvalidPrototype)
	}
	if prev, ok := p.byID[id]; ok {
		return fmt.Errorf("register %v: id %d already used by %v: %w", msgType, id, prev.msgType, network.ErrDuplicatePacketID)
	}
	if _, ok := p.byType[msgType]; ok {
		return fmt.Errorf("message type %v is already registered", msgType)
	}

	i := &msgInfo{id: id, msgType: msgType}
	p.byID[id] = i
	p.byType[msgType] = i
	return nil
}

func (p *Processor) SetHandler(msg any, h MsgHandler) error {
	i, err := p.info(msg)
	if err != nil {
		return err
	}
	i.msgHandler = h
	return nil
}

// SetRouter forwards messages of the type of msg to server with the message
// type as chanrpc id.
func (p *Processor) SetRouter(msg any, server *chanrpc.Server) error {
	i, err := p.info(msg)
	if err != nil {
		return err
	}
	i.msgRouter = server
	return nil
}

// Registry builds the packet registry for every registered message.
func (p *Processor) Registry() (*network.Registry, error) {
	ids := make([]uint16, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	factories := make([]any, 0, len(ids))
	for _, id := range ids {
		id := id
		elem := p.byID[id].msgType.Elem()
		factories = append(factories, network.Factory{
			ID: id,
			New: func() network.Readable {
				return NewMessage(id, reflect.New(elem).Interface())
			},
		})
	}
	return network.NewRegistry(factories...)
}

// Send wraps msg under its registered id and sends it on conn.
func (p *Processor) Send(conn *network.Connection, msg any) error {
	i, err := p.info(msg)
	if err != nil {
		return err
	}
	return conn.Send(NewMessage(i.id, msg))
}

// Route implements network.Processor for packets built by Registry.
func (p *Processor) Route(conn *network.Connection, pkt network.Readable) error {
	m, ok := pkt.(*Message)
	if !ok {
		return fmt.Errorf("packet %d (%T) is not a json message", pkt.PacketID(), pkt)
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

func (p *Processor) info(msg any) (*msgInfo, error) {
	msgType := reflect.TypeOf(msg)
	i, ok := p.byType[msgType]
	if !ok {
		return nil, fmt.Errorf("message type %v is not registered", msgType)
	}
	return i, nil
}

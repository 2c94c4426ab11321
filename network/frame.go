package network

import (
	"encoding/binary"
	"fmt"

	"gpnet/conf"
)

// Frame layout: [length u16][packet-id u16][payload]. length covers the whole
// frame, header included.
const (
	lenFieldLen   = 2
	idFieldLen    = 2
	HeaderLen     = lenFieldLen + idFieldLen
	MaxFrameLen   = conf.MaxFrameLen
	MaxPayloadLen = MaxFrameLen - HeaderLen
)

// FrameParser encodes packets into frames and carves frames out of a byte stream.
type FrameParser struct {
	order binary.ByteOrder
}

// NewFrameParser creates a parser using order for the header fields.
func NewFrameParser(order binary.ByteOrder) *FrameParser {
	if order == nil {
		order = binary.BigEndian
	}
	return &FrameParser{order: order}
}

// Order returns the header byte order.
func (p *FrameParser) Order() binary.ByteOrder {
	return p.order
}

// Encode appends one complete frame for pkt to b. The length is written as a
// placeholder first and patched once the payload size is known. On error b
// may hold a partial frame and must be reset by the caller.
func (p *FrameParser) Encode(b *Buffer, pkt Writable) error {
	start := b.w
	b.PutUint16(0)
	b.PutUint16(pkt.PacketID())
	if err := b.Err(); err != nil {
		return err
	}
	if err := pkt.Write(b); err != nil {
		return err
	}
	if err := b.Err(); err != nil {
		return err
	}

	frameLen := b.w - start
	if frameLen > MaxFrameLen {
		return fmt.Errorf("packet %d is %d bytes: %w", pkt.PacketID(), frameLen, ErrFrameTooLarge)
	}
	b.SetUint16At(start, uint16(frameLen))
	return b.Err()
}

// FrameLen reads the declared frame length at the head of data. ok is false
// when fewer than two bytes are buffered.
func (p *FrameParser) FrameLen(data []byte) (n int, ok bool) {
	if len(data) < lenFieldLen {
		return 0, false
	}
	return int(p.order.Uint16(data)), true
}

// Next carves the first complete frame from data. consumed is zero when the
// frame is still incomplete. A declared length shorter than the header means
// the stream lost its framing and returns ErrMalformedFrame.
func (p *FrameParser) Next(data []byte) (id uint16, payload []byte, consumed int, err error) {
	frameLen, ok := p.FrameLen(data)
	if !ok {
		return 0, nil, 0, nil
	}
	if frameLen < HeaderLen {
		return 0, nil, 0, fmt.Errorf("declared length %d: %w", frameLen, ErrMalformedFrame)
	}
	if frameLen > len(data) {
		return 0, nil, 0, nil
	}
	id = p.order.Uint16(data[lenFieldLen:])
	return id, data[HeaderLen:frameLen], frameLen, nil
}

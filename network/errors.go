package network

import "errors"

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrUnknownPacket is returned when a frame carries an unregistered id.
	ErrUnknownPacket = errors.New("unknown packet id")

	// ErrDuplicatePacketID is returned when two prototypes declare the same id.
	ErrDuplicatePacketID = errors.New("duplicate packet id")

	// ErrMissingPacketID is returned when a prototype does not declare an id.
	ErrMissingPacketID = errors.New("packet id declaration missing")

	// ErrInvalidPrototype is returned for nil or non-pointer prototypes.
	ErrInvalidPrototype = errors.New("packet prototype must be a non-nil pointer implementing Readable")

	// ErrBufferOverflow is set when writing past the capacity of a Buffer.
	ErrBufferOverflow = errors.New("buffer overflow")

	// ErrBufferUnderflow is set when reading past the written bytes of a Buffer.
	ErrBufferUnderflow = errors.New("buffer underflow")

	// ErrFrameTooLarge is returned when a packet does not fit in one frame.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMalformedFrame is returned when a frame header declares an impossible length.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrSendQueueFull is returned when the per-connection send queue is saturated.
	ErrSendQueueFull = errors.New("send queue full")
)

package network

import (
	"net"
)

// Channel is the byte stream a Connection runs on. net.Conn satisfies it;
// the websocket server supplies an adapter.
type Channel interface {
	// Read blocks until bytes arrive, the peer closes (io.EOF) or the
	// channel is closed.
	Read(b []byte) (int, error)

	// Write writes b, returning the number of bytes written.
	Write(b []byte) (int, error)

	// LocalAddr returns the local network address of the channel.
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address of the channel.
	RemoteAddr() net.Addr

	// Close closes the channel, unblocking pending reads and writes.
	Close() error
}

var _ Channel = (net.Conn)(nil)

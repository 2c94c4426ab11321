package network

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// WSConn presents a websocket connection as a byte stream Channel. Every
// Write becomes one binary message; Read drains messages back to back, so
// frames may span or share messages exactly as they would on TCP.
type WSConn struct {
	conn           *websocket.Conn
	reader         io.Reader
	writeMu        sync.Mutex
	remoteOriginIP net.Addr
}

// NewWSConn wraps an upgraded or dialed websocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// SetOriginIP overrides the remote address reported for proxied clients.
func (wsConn *WSConn) SetOriginIP(ip net.Addr) {
	wsConn.remoteOriginIP = ip
}

// Read reads from the current message, moving to the next one when it is
// exhausted. Text messages are treated like binary ones.
func (wsConn *WSConn) Read(b []byte) (int, error) {
	for {
		if wsConn.reader == nil {
			_, r, err := wsConn.conn.NextReader()
			if err != nil {
				return 0, wsError(err)
			}
			wsConn.reader = r
		}
		n, err := wsConn.reader.Read(b)
		if errors.Is(err, io.EOF) {
			wsConn.reader = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, wsError(err)
	}
}

// Write sends b as a single binary message.
func (wsConn *WSConn) Write(b []byte) (int, error) {
	wsConn.writeMu.Lock()
	defer wsConn.writeMu.Unlock()

	if err := wsConn.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, wsError(err)
	}
	return len(b), nil
}

func (wsConn *WSConn) LocalAddr() net.Addr {
	return wsConn.conn.LocalAddr()
}

// RemoteAddr returns the origin IP when one was set, else the peer address.
func (wsConn *WSConn) RemoteAddr() net.Addr {
	if wsConn.remoteOriginIP != nil {
		return wsConn.remoteOriginIP
	}
	return wsConn.conn.RemoteAddr()
}

// Close closes the underlying connection without a close handshake.
func (wsConn *WSConn) Close() error {
	return wsConn.conn.Close()
}

// wsError maps websocket close frames to io.EOF so the engine treats them
// like a TCP peer close.
func wsError(err error) error {
	if err == nil {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return io.EOF
	}
	return err
}

package network

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/yinyihanbing/gutils/logs"
)

// TCPServer accepts TCP connections and runs the packet protocol on each.
type TCPServer struct {
	Engine

	// Address to listen on
	Addr string

	ln        net.Listener
	wgLn      sync.WaitGroup
	closeOnce sync.Once
}

// Start binds the listener and runs the accept loop in the background.
// Bind and configuration errors are returned to the caller.
func (server *TCPServer) Start() error {
	if err := server.init(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}
	server.ln = ln

	server.wgLn.Add(1)
	go server.run()
	return nil
}

// ListenAddr returns the bound address, useful when Addr used port 0.
func (server *TCPServer) ListenAddr() net.Addr {
	if server.ln == nil {
		return nil
	}
	return server.ln.Addr()
}

// run accepts connections until the listener closes.
func (server *TCPServer) run() {
	defer server.wgLn.Done()

	var tempDelay time.Duration
	for {
		conn, err := server.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Back off on temporary errors such as running out of file descriptors
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				logs.Error("accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			logs.Error("accept failed: %v", err)
			return
		}
		tempDelay = 0

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}
		if _, err := server.Open(conn, OriginTCPServer); err != nil {
			logs.Debug("refused connection from %v: %v", conn.RemoteAddr(), err)
		}
	}
}

// Close stops accepting, closes every live connection and stops the task
// group. It is idempotent.
func (server *TCPServer) Close() {
	server.closeOnce.Do(func() {
		if server.ln != nil {
			server.ln.Close()
			server.wgLn.Wait()
		}
		server.Shutdown()
	})
}

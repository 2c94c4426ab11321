package network

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yinyihanbing/gutils/logs"
)

// WSServer accepts websocket connections and runs the packet protocol over
// their binary messages.
type WSServer struct {
	Engine

	Addr        string        // server address
	HTTPTimeout time.Duration // HTTP handshake timeout
	CertFile    string        // TLS certificate file
	KeyFile     string        // TLS key file

	ln         net.Listener
	httpServer *http.Server
	wgServe    sync.WaitGroup
	closeOnce  sync.Once
}

// getRealIP extracts the real IP address from the HTTP request headers.
func getRealIP(req *http.Request) net.Addr {
	ip := req.Header.Get("x-forwarded-for")
	if ip == "" {
		ip = req.Header.Get("x-real-ip")
	}
	if ip != "" {
		ip = strings.Split(ip, ",")[0]
	} else {
		ip, _, _ = net.SplitHostPort(req.RemoteAddr)
	}
	q := net.ParseIP(strings.TrimSpace(ip))
	return &net.IPAddr{IP: q}
}

// Start binds the listener and serves upgrades in the background. Bind,
// certificate and configuration errors are returned.
func (server *WSServer) Start() error {
	if err := server.init(); err != nil {
		return err
	}
	if server.HTTPTimeout <= 0 {
		server.HTTPTimeout = 10 * time.Second
		logs.Info("invalid httptimeout. resetting to default value: %v", server.HTTPTimeout)
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}

	if server.CertFile != "" || server.KeyFile != "" {
		config := &tls.Config{NextProtos: []string{"http/1.1"}}
		config.Certificates = make([]tls.Certificate, 1)
		config.Certificates[0], err = tls.LoadX509KeyPair(server.CertFile, server.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		ln = tls.NewListener(ln, config)
	}
	server.ln = ln

	upgrader := websocket.Upgrader{
		HandshakeTimeout: server.HTTPTimeout,
		ReadBufferSize:   server.Config.ReadBufferSize,
		WriteBufferSize:  server.Config.WriteBufferSize,
		CheckOrigin:      func(_ *http.Request) bool { return true },
	}
	server.httpServer = &http.Server{
		Addr:              server.Addr,
		Handler:           server.handler(upgrader),
		ReadHeaderTimeout: server.HTTPTimeout,
		MaxHeaderBytes:    1024,
	}

	server.wgServe.Add(1)
	go func() {
		defer server.wgServe.Done()
		if err := server.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Error("websocket server stopped: %v", err)
		}
	}()
	return nil
}

// ListenAddr returns the bound address.
func (server *WSServer) ListenAddr() net.Addr {
	if server.ln == nil {
		return nil
	}
	return server.ln.Addr()
}

func (server *WSServer) handler(upgrader websocket.Upgrader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logs.Error("upgrade error: %v", err)
			return
		}
		conn.SetReadLimit(int64(MaxFrameLen) * 4)

		wsConn := NewWSConn(conn)
		wsConn.SetOriginIP(getRealIP(r))
		if _, err := server.Open(wsConn, OriginWSServer); err != nil {
			logs.Debug("refused websocket connection from %v: %v", r.RemoteAddr, err)
		}
	})
}

// Close stops serving, closes every live connection and stops the task
// group. It is idempotent.
func (server *WSServer) Close() {
	server.closeOnce.Do(func() {
		if server.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), server.HTTPTimeout)
			if err := server.httpServer.Shutdown(ctx); err != nil {
				logs.Debug("websocket server shutdown: %v", err)
			}
			cancel()
			server.wgServe.Wait()
		}
		server.Shutdown()
	})
}

// DialWS opens a websocket connection to url and runs the packet protocol on it.
func (e *Engine) DialWS(ctx context.Context, url string) (*Connection, error) {
	if err := e.init(); err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return e.Open(NewWSConn(conn), OriginWSClient)
}

package network

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/yinyihanbing/gutils/logs"
)

// TCPClient connects to a TCPServer. Dial makes a single connection and
// returns it; Start keeps ConnNum connections up in the background,
// reconnecting when AutoReconnect is set.
type TCPClient struct {
	Engine

	Addr            string
	ConnNum         int
	ConnectInterval time.Duration
	DialTimeout     time.Duration
	AutoReconnect   bool

	mu        sync.Mutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	closeOnce sync.Once
}

// Dial connects once and returns the open Connection. Connect errors are
// returned to the caller.
func (client *TCPClient) Dial(ctx context.Context) (*Connection, error) {
	if err := client.init(); err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: client.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", client.Addr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return client.Open(conn, OriginTCPClient)
}

// Start launches the background connectors.
func (client *TCPClient) Start() error {
	if err := client.init(); err != nil {
		return err
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.started {
		logs.Error("tcpclient is already running. duplicate start() calls are ignored.")
		return nil
	}
	client.started = true
	client.validateConfig()
	client.ctx, client.cancel = context.WithCancel(context.Background())

	for i := 0; i < client.ConnNum; i++ {
		client.wg.Add(1)
		go client.connect()
	}
	return nil
}

// validateConfig resets invalid background settings to defaults.
func (client *TCPClient) validateConfig() {
	if client.ConnNum <= 0 {
		client.ConnNum = 1
		logs.Info("invalid connnum. resetting to default value: %v", client.ConnNum)
	}
	if client.ConnectInterval <= 0 {
		client.ConnectInterval = 3 * time.Second
		logs.Info("invalid connectinterval. resetting to default value: %v", client.ConnectInterval)
	}
}

// connect keeps one connection alive until the client closes.
func (client *TCPClient) connect() {
	defer client.wg.Done()

	for {
		c, err := client.Dial(client.ctx)
		if err != nil {
			if client.ctx.Err() != nil {
				return
			}
			logs.Info("failed to connect to %v. error: %v. retrying in %v...", client.Addr, err, client.ConnectInterval)
			if !client.sleep() {
				return
			}
			continue
		}

		select {
		case <-c.Done():
		case <-client.ctx.Done():
			c.Close()
			<-c.Done()
			return
		}

		if !client.AutoReconnect || !client.sleep() {
			return
		}
	}
}

func (client *TCPClient) sleep() bool {
	t := time.NewTimer(client.ConnectInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-client.ctx.Done():
		return false
	}
}

// Close closes every connection, stops reconnecting and waits for the
// connectors. It is idempotent.
func (client *TCPClient) Close() {
	client.closeOnce.Do(func() {
		client.mu.Lock()
		if client.cancel != nil {
			client.cancel()
		}
		client.mu.Unlock()

		client.Shutdown()
		client.wg.Wait()
	})
}

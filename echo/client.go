package echo

import (
	"context"
	"errors"

	"gpnet/conf"
	"gpnet/network"

	"github.com/yinyihanbing/gutils/logs"
)

// Client sends echo requests over one connection and waits for the replies.
type Client struct {
	network.TCPClient

	conn    *network.Connection
	replies chan string
}

// NewClient prepares a client for the server at addr.
func NewClient(addr string, cfg conf.NetworkConfig) *Client {
	c := &Client{replies: make(chan string, 64)}
	c.Addr = addr
	c.Config = cfg
	c.Registry = ClientRegistry()

	router := network.NewRouter()
	router.SetHandler(IDResponseEcho, func(_ *network.Connection, pkt network.Readable) {
		select {
		case c.replies <- pkt.(*ResponseEcho).Msg:
		default:
			logs.Error("echo client dropped a reply, nobody is waiting")
		}
	})
	c.Processor = router
	return c
}

// Connect dials the server over TCP.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.Dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// ConnectWS dials the server over websocket.
func (c *Client) ConnectWS(ctx context.Context, url string) error {
	conn, err := c.DialWS(ctx, url)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Echo sends msg and returns the server's reply.
func (c *Client) Echo(ctx context.Context, msg string) (string, error) {
	if c.conn == nil {
		return "", errors.New("echo client is not connected")
	}
	if err := c.conn.Send(&RequestEcho{Msg: msg}); err != nil {
		return "", err
	}
	select {
	case reply := <-c.replies:
		return reply, nil
	case <-c.conn.Done():
		return "", network.ErrConnClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	dialTimeout      = 10 * time.Second
	maxRedialBackoff = 30 * time.Second
)

// Client is the endpoint side of the signaling channel. It registers the
// local identifier with the rendezvous server and shuttles envelopes both
// ways. A dropped server link is redialed automatically with backoff;
// peers are unaffected because their data links do not traverse the
// server.
type Client struct {
	url     string
	localID string
	logger  *logrus.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	recv chan Envelope
	done chan struct{}
}

func NewClient(url, localID string, log *logrus.Logger) *Client {
	return &Client{
		url:     url,
		localID: localID,
		logger:  log,
		recv:    make(chan Envelope, 64),
		done:    make(chan struct{}),
	}
}

// Start dials the server and registers the local identifier. It returns
// once the first registration is acknowledged; the read loop then runs
// until Close.
func (c *Client) Start(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	go c.readLoop(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	if err := conn.WriteJSON(Envelope{Kind: KindRegister, From: c.localID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("register with signaling server: %w", err)
	}

	var ack Envelope
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read registration ack: %w", err)
	}
	if ack.Kind != KindRegistered {
		conn.Close()
		return nil, fmt.Errorf("registration rejected: %s", ack.Reason)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Infof("Registered with signaling server as %s", c.localID)
	return conn, nil
}

// Send delivers one envelope to the server for forwarding. From is filled
// in with the local identifier.
func (c *Client) Send(env Envelope) error {
	env.From = c.localID

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signaling channel is down")
	}
	return c.conn.WriteJSON(env)
}

// Recv yields envelopes addressed to this endpoint. The channel is closed
// on Close.
func (c *Client) Recv() <-chan Envelope {
	return c.recv
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.conn = nil
			c.mu.Unlock()

			conn.Close()
			if closed {
				close(c.recv)
				return
			}
			c.logger.Warnf("Signaling channel lost: %v, redialing", err)
			next, ok := c.redial()
			if !ok {
				close(c.recv)
				return
			}
			conn = next
			continue
		}

		select {
		case c.recv <- env:
		case <-c.done:
			conn.Close()
			close(c.recv)
			return
		}
	}
}

// redial reconnects with exponential backoff until it succeeds or the
// client is closed.
func (c *Client) redial() (*websocket.Conn, bool) {
	backoff := time.Second
	for {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(backoff):
		}

		conn, err := c.dial(context.Background())
		if err == nil {
			return conn, true
		}
		c.logger.Warnf("Signaling redial failed: %v", err)

		backoff *= 2
		if backoff > maxRedialBackoff {
			backoff = maxRedialBackoff
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

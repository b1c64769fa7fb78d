package messaging

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

// Client owns at most one outbound Connection at a time.
type Client struct {
	cfg       ClientConfig
	logger    zerolog.Logger
	listeners ListenerSet[ClientHandler]

	mu         sync.Mutex
	conn       *Connection
	connecting bool
	err        error
}

func NewClient() *Client {
	return NewClientWithConfig(DefaultClientConfig())
}

func NewClientWithConfig(cfg ClientConfig) *Client {
	cfg = cfg.WithDefaults()
	return &Client{
		cfg:    cfg,
		logger: cfg.Connection.logger().With().Str("component", "client").Logger(),
	}
}

func (cl *Client) AddListener(h ClientHandler) ListenerID {
	return cl.listeners.Add(h)
}

func (cl *Client) RemoveListener(id ListenerID) bool {
	return cl.listeners.Remove(id)
}

// Connect dials host:port and starts the receive goroutine. Only misuse
// (a live connection already exists) is returned; dial failures are reported
// through the Error event and Err, the same path as asynchronous failures.
func (cl *Client) Connect(ctx context.Context, host string, port int) error {
	cl.mu.Lock()
	if cl.connecting || (cl.conn != nil && cl.conn.State() != StateClosed) {
		cl.mu.Unlock()
		return fmt.Errorf("%w: client", ErrAlreadyOpen)
	}
	cl.connecting = true
	cl.mu.Unlock()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: cl.cfg.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)

	cl.mu.Lock()
	cl.connecting = false
	if err != nil {
		err = &TransportError{Op: "dial " + addr, Err: err}
		cl.err = err
		cl.mu.Unlock()
		cl.logger.Error().Err(err).Msg("connect failed")
		cl.dispatchError(err)
		return nil
	}
	c := newConnection(raw, RoleClient, cl.cfg.Connection, nil)
	c.AddListener(ConnectionHandler{
		Opened: cl.connectionOpened,
		Closed: cl.connectionClosed,
	})
	cl.conn = c
	cl.err = nil
	cl.mu.Unlock()

	cl.logger.Info().Str("conn_id", c.ID()).Str("addr", addr).Msg("connected")
	return c.Start()
}

// Send forwards msg to the current connection.
func (cl *Client) Send(msg Message) error {
	c := cl.Connection()
	if c == nil {
		return fmt.Errorf("%w: client has no connection %s", ErrSendOnClosed, msg)
	}
	return c.Send(msg)
}

// Close closes the current connection.
func (cl *Client) Close() error {
	c := cl.Connection()
	if c == nil {
		return fmt.Errorf("%w: client has no connection", ErrAlreadyClosed)
	}
	return c.Close()
}

// Connection returns the current connection, possibly already closed.
func (cl *Client) Connection() *Connection {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.conn
}

// Err returns the last error reported through the Error event.
func (cl *Client) Err() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.err
}

func (cl *Client) connectionOpened(c *Connection) {
	cl.listeners.Each(func(h ClientHandler) {
		if h.Opened != nil {
			h.Opened(c)
		}
	})
}

func (cl *Client) connectionClosed(c *Connection, cause error) {
	cl.listeners.Each(func(h ClientHandler) {
		if h.Closed != nil {
			h.Closed(c, cause)
		}
	})
}

func (cl *Client) dispatchError(err error) {
	cl.listeners.Each(func(h ClientHandler) {
		if h.Error != nil {
			h.Error(err)
		}
	})
}

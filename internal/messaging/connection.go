package messaging

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/framelink/internal/observability"
	"github.com/danmuck/framelink/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Role labels which side created a Connection. It changes logging and error
// text only, never the protocol.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

type State int32

const (
	StateCreated State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// connectionOwner learns about teardown it did not initiate.
type connectionOwner interface {
	connectionClosed(c *Connection, cause error)
}

// Connection owns one full-duplex socket and its receive goroutine.
type Connection struct {
	id     string
	role   Role
	conn   net.Conn
	cfg    ConnectionConfig
	logger zerolog.Logger
	owner  connectionOwner

	state    atomic.Int32
	started  atomic.Bool
	shutdown atomic.Bool

	chunkSize     atomic.Int64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	last          atomic.Pointer[Message]

	writeMu   sync.Mutex
	listeners ListenerSet[ConnectionHandler]

	done     chan struct{}
	doneOnce sync.Once
}

// NewConnection binds a Connection to an already-connected socket. The
// receive goroutine does not run until Start.
func NewConnection(conn net.Conn, role Role, cfg ConnectionConfig) *Connection {
	return newConnection(conn, role, cfg, nil)
}

func newConnection(conn net.Conn, role Role, cfg ConnectionConfig, owner connectionOwner) *Connection {
	cfg = cfg.WithDefaults()
	id := uuid.NewString()
	c := &Connection{
		id:    id,
		role:  role,
		conn:  conn,
		cfg:   cfg,
		owner: owner,
		logger: cfg.logger().With().
			Str("conn_id", id).
			Str("role", string(role)).
			Logger(),
		done: make(chan struct{}),
	}
	c.chunkSize.Store(int64(cfg.ChunkSize))
	return c
}

func (c *Connection) ID() string { return c.id }
func (c *Connection) Role() Role { return c.role }
func (c *Connection) State() State { return State(c.state.Load()) }
func (c *Connection) IsOpen() bool { return c.State() == StateOpen }
func (c *Connection) BytesSent() uint64 { return c.bytesSent.Load() }
func (c *Connection) BytesReceived() uint64 { return c.bytesReceived.Load() }
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *Connection) LocalAddr() net.Addr { return c.conn.LocalAddr() }
func (c *Connection) ChunkSize() int { return int(c.chunkSize.Load()) }

// Done is closed once the receive goroutine has exited, or when a
// Connection that never started is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// SetChunkSize changes the read granularity for subsequent frames.
func (c *Connection) SetChunkSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, n)
	}
	c.chunkSize.Store(int64(n))
	return nil
}

// LastMessage returns the most recently received message.
func (c *Connection) LastMessage() (Message, bool) {
	m := c.last.Load()
	if m == nil {
		return Message{}, false
	}
	return *m, true
}

func (c *Connection) AddListener(h ConnectionHandler) ListenerID {
	return c.listeners.Add(h)
}

func (c *Connection) RemoveListener(id ListenerID) bool {
	return c.listeners.Remove(id)
}

// Start launches the receive goroutine. It may be called once.
func (c *Connection) Start() error {
	if c.State() == StateClosed {
		c.markDone()
		return fmt.Errorf("%w: connection %s", ErrAlreadyClosed, c.id)
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: connection %s", ErrAlreadyOpen, c.id)
	}
	go c.receive()
	return nil
}

// Send encodes msg and writes it as one frame. Concurrent senders are
// serialized so frames never interleave on the wire.
func (c *Connection) Send(msg Message) error {
	if c.State() != StateOpen {
		return fmt.Errorf("%w: %s connection %s %s", ErrSendOnClosed, c.role, c.id, msg)
	}
	buf, err := frame.Encode(msg.requestID, msg.payload, c.cfg.Limits)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.conn.Write(buf); err != nil {
		c.logger.Warn().Err(err).Stringer("msg", msg).Msg("send failed")
		return &TransportError{Op: "write", Err: err}
	}
	c.bytesSent.Add(uint64(len(buf)))
	observability.RecordFrame(string(c.role), observability.DirectionSent, len(buf))
	c.logger.Debug().Stringer("msg", msg).Msg("sent")
	return nil
}

// Close tears the connection down locally. Listeners see closed(nil).
func (c *Connection) Close() error {
	if c.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) {
		c.teardown(nil, true)
		return nil
	}
	if c.state.CompareAndSwap(int32(StateCreated), int32(StateClosed)) {
		c.teardown(nil, false)
		if !c.started.Load() {
			c.markDone()
		}
		return nil
	}
	return fmt.Errorf("%w: %s connection %s", ErrAlreadyClosed, c.role, c.id)
}

// Shutdown flags the receive loop to stop and closes the socket, which
// unblocks any read in progress.
func (c *Connection) Shutdown() error {
	c.shutdown.Store(true)
	return c.Close()
}

func (c *Connection) receive() {
	defer c.markDone()
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateOpen)) {
		return
	}
	observability.RecordConnectionOpened(string(c.role))
	c.logger.Info().Stringer("remote", c.conn.RemoteAddr()).Msg("connection opened")
	c.listeners.Each(func(h ConnectionHandler) {
		if h.Opened != nil {
			h.Opened(c)
		}
	})

	for {
		if c.shutdown.Load() || c.State() != StateOpen {
			return
		}
		f, err := frame.ReadFrame(c.conn, c.ChunkSize(), c.cfg.Limits)
		if err != nil {
			c.fail(err)
			return
		}
		msg := received(f)
		c.bytesReceived.Add(uint64(f.Len()))
		c.last.Store(&msg)
		observability.RecordFrame(string(c.role), observability.DirectionReceived, f.Len())
		c.logger.Debug().Stringer("msg", msg).Msg("incoming")
		c.listeners.Each(func(h ConnectionHandler) {
			if h.IncomingData != nil {
				h.IncomingData(c, msg)
			}
		})
	}
}

// fail ends the receive loop after a read error. If a local Close already
// won the transition the error is the expected unwinding and is dropped.
func (c *Connection) fail(err error) {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) {
		c.logger.Debug().Err(err).Msg("receive loop unwound after local close")
		return
	}
	var cause error
	switch {
	case errors.Is(err, io.EOF):
		cause = ErrPeerDisconnected
	case errors.Is(err, frame.ErrProtocol):
		cause = err
	default:
		cause = &TransportError{Op: "read", Err: err}
	}
	c.teardown(cause, true)
}

// teardown runs exactly once per Connection: dispatch closed, release the
// socket, then tell the owner.
func (c *Connection) teardown(cause error, wasOpen bool) {
	switch {
	case cause == nil:
		c.logger.Info().Msg("connection closed")
	case errors.Is(cause, ErrPeerDisconnected):
		c.logger.Info().Msg("connection closed by peer")
	case IsExpectedClose(cause):
		c.logger.Debug().Err(cause).Msg("connection closed")
	default:
		c.logger.Error().Err(cause).Msg("connection failed")
	}
	if wasOpen {
		observability.RecordConnectionClosed(string(c.role), causeLabel(cause))
	}

	c.listeners.Each(func(h ConnectionHandler) {
		if h.Closed != nil {
			h.Closed(c, cause)
		}
	})
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Warn().Err(err).Msg("socket close")
	}
	if c.owner != nil {
		c.owner.connectionClosed(c, cause)
	}
}

func (c *Connection) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Connection) String() string {
	return fmt.Sprintf(
		"Connection{id=%s role=%s state=%s remote=%s chunk_size=%d bytes_sent=%d bytes_received=%d}",
		c.id,
		c.role,
		c.State(),
		c.conn.RemoteAddr(),
		c.ChunkSize(),
		c.BytesSent(),
		c.BytesReceived(),
	)
}

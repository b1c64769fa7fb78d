package messaging

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/framelink/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type ServerState int32

const (
	ServerStopped ServerState = iota
	ServerStarted
	ServerShuttingDown
)

func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "stopped"
	case ServerStarted:
		return "started"
	case ServerShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("server_state(%d)", int32(s))
	}
}

// Server accepts framed connections and tracks the live ones.
//
// The registry, the shutdown flags, and the "drain complete" decision share
// one mutex, so exactly one caller performs the final close no matter how
// connection teardowns interleave.
type Server struct {
	cfg       ServerConfig
	logger    zerolog.Logger
	listeners ListenerSet[ServerHandler]
	limiter   *rate.Limiter

	mu                sync.Mutex
	state             ServerState
	ln                net.Listener
	conns             map[*Connection]struct{}
	shutdownRequested bool
	shutdownDone      bool
	finished          chan struct{}
}

func NewServer() *Server {
	return NewServerWithConfig(DefaultServerConfig())
}

func NewServerWithConfig(cfg ServerConfig) *Server {
	cfg = cfg.WithDefaults()
	s := &Server{
		cfg:    cfg,
		logger: cfg.Connection.logger().With().Str("component", "server").Logger(),
		conns:  make(map[*Connection]struct{}),
	}
	if cfg.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}
	return s
}

func (s *Server) AddListener(h ServerHandler) ListenerID {
	return s.listeners.Add(h)
}

func (s *Server) RemoveListener(id ListenerID) bool {
	return s.listeners.Remove(id)
}

// Listen starts the server on the configured host and port.
func (s *Server) Listen() error {
	return s.Start(s.cfg.Host, s.cfg.Port)
}

// Start binds host:port and launches the accept loop.
func (s *Server) Start(host string, port int) error {
	if s.State() != ServerStopped {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, s)
	}
	if host == "" {
		host = DefaultHost
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		err = &TransportError{Op: "listen " + addr, Err: err}
		s.logger.Error().Err(err).Msg("bind failed")
		s.dispatchError(err)
		return err
	}
	if err := s.StartListener(ln); err != nil {
		_ = ln.Close()
		return err
	}
	return nil
}

// StartListener runs the accept loop on an already-bound listener.
func (s *Server) StartListener(ln net.Listener) error {
	s.mu.Lock()
	if s.state != ServerStopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, s)
	}
	s.state = ServerStarted
	s.ln = ln
	s.shutdownRequested = false
	s.shutdownDone = false
	s.finished = make(chan struct{})
	s.mu.Unlock()

	go s.acceptLoop(ln)

	s.logger.Info().Stringer("addr", ln.Addr()).Msg("server started")
	s.listeners.Each(func(h ServerHandler) {
		if h.Started != nil {
			h.Started()
		}
	})
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	var attempt int
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.isShutdownRequested() || errors.Is(err, net.ErrClosed) {
				s.logger.Info().Stringer("addr", ln.Addr()).Msg("accept loop stopped")
				return
			}
			attempt++
			delay := NextBackoffDelay(s.cfg.AcceptBackoff, attempt, nil)
			s.logger.Error().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("accept failed")
			s.dispatchError(&TransportError{Op: "accept", Err: err})
			time.Sleep(delay)
			continue
		}
		attempt = 0

		if s.limiter != nil && !s.limiter.Allow() {
			s.logger.Warn().Stringer("remote", raw.RemoteAddr()).Msg("accept rate exceeded, refusing connection")
			observability.RecordConnectionRejected("rate_limited")
			_ = raw.Close()
			continue
		}

		c := newConnection(raw, RoleServer, s.cfg.Connection, s)
		if !s.register(c) {
			s.logger.Info().Stringer("remote", raw.RemoteAddr()).Msg("refusing connection during shutdown")
			observability.RecordConnectionRejected("shutting_down")
			_ = raw.Close()
			return
		}
		s.logger.Info().Str("conn_id", c.ID()).Stringer("remote", raw.RemoteAddr()).Msg("accepted")
		s.listeners.Each(func(h ServerHandler) {
			if h.Accepted != nil {
				h.Accepted(c)
			}
		})
		if err := c.Start(); err != nil {
			s.logger.Debug().Err(err).Str("conn_id", c.ID()).Msg("connection closed before start")
		}
	}
}

func (s *Server) register(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownRequested {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

// connectionClosed removes c from the registry exactly once and completes a
// pending shutdown when c was the last live connection.
func (s *Server) connectionClosed(c *Connection, cause error) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	finish := ok && len(s.conns) == 0 && s.shutdownRequested && !s.shutdownDone
	if finish {
		s.shutdownDone = true
	}
	remaining := len(s.conns)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.logger.Info().
		Str("conn_id", c.ID()).
		Int("remaining", remaining).
		AnErr("cause", cause).
		Msg("connection removed")
	s.listeners.Each(func(h ServerHandler) {
		if h.ConnectionClosed != nil {
			h.ConnectionClosed(c, cause)
		}
	})
	if finish {
		s.completeShutdown("last connection closed")
	}
}

// Shutdown signals every live connection and defers the final close until
// the registry drains. With no live connections it completes before
// returning.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.shutdownRequested {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyShutdown, s)
	}
	if s.state != ServerStarted {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotStarted, s)
	}
	s.shutdownRequested = true
	s.state = ServerShuttingDown
	ln := s.ln
	live := s.snapshotLocked()
	finish := len(live) == 0 && !s.shutdownDone
	if finish {
		s.shutdownDone = true
	}
	s.mu.Unlock()

	s.logger.Info().Int("connections", len(live)).Msg("server shutdown requested")
	s.shutdownConnections(live)
	interruptAccept(ln)
	if finish {
		s.completeShutdown("no connections")
	}
	return nil
}

// ShutdownAllConnections signals every live connection without stopping the
// server.
func (s *Server) ShutdownAllConnections() {
	s.mu.Lock()
	live := s.snapshotLocked()
	s.mu.Unlock()
	s.shutdownConnections(live)
}

func (s *Server) shutdownConnections(live []*Connection) {
	for _, c := range live {
		if err := c.Shutdown(); err != nil && !errors.Is(err, ErrAlreadyClosed) {
			s.logger.Warn().Err(err).Str("conn_id", c.ID()).Msg("connection shutdown")
		}
	}
}

func (s *Server) completeShutdown(reason string) {
	if err := s.Close(); err != nil && !errors.Is(err, ErrNotStarted) {
		s.logger.Error().Err(err).Msg("listener close")
	}
	observability.RecordServerShutdown()
	s.logger.Info().Str("reason", reason).Msg("server shutdown")
	s.listeners.Each(func(h ServerHandler) {
		if h.Shutdown != nil {
			h.Shutdown()
		}
	})
	s.mu.Lock()
	close(s.finished)
	s.mu.Unlock()
}

// Close stops accepting and closes the listening socket. Live connections
// are left alone; use Shutdown to drain them.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.state == ServerStopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotStarted, s)
	}
	s.state = ServerStopped
	ln := s.ln
	s.mu.Unlock()

	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return &TransportError{Op: "close listener", Err: err}
	}
	return nil
}

// Done is closed after a graceful shutdown completes. It is nil before the
// first Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Host() string {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return s.cfg.Host
}

func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return s.cfg.Port
}

func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Connections returns a snapshot of the registry in no particular order.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Server) snapshotLocked() []*Connection {
	out := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) isShutdownRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownRequested
}

func (s *Server) dispatchError(err error) {
	s.listeners.Each(func(h ServerHandler) {
		if h.Error != nil {
			h.Error(err)
		}
	})
}

func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := "-"
	if s.ln != nil {
		addr = s.ln.Addr().String()
	}
	return fmt.Sprintf("Server{addr=%s state=%s connections=%d}", addr, s.state, len(s.conns))
}

// interruptAccept wakes a blocked Accept without closing the listener.
func interruptAccept(ln net.Listener) {
	if d, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
		_ = d.SetDeadline(time.Now())
	}
}

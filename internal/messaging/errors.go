package messaging

import (
	"errors"
	"fmt"
	"net"

	"github.com/danmuck/framelink/internal/protocol/frame"
)

var (
	ErrAlreadyOpen      = errors.New("messaging: connection already open")
	ErrAlreadyClosed    = errors.New("messaging: already closed")
	ErrAlreadyStarted   = errors.New("messaging: server already started")
	ErrAlreadyShutdown  = errors.New("messaging: server already shut down")
	ErrNotStarted       = errors.New("messaging: server not started")
	ErrSendOnClosed     = errors.New("messaging: send on closed connection")
	ErrPeerDisconnected = errors.New("messaging: peer disconnected")
	ErrInvalidChunkSize = errors.New("messaging: chunk size must be positive")
)

// TransportError wraps an I/O failure on a socket operation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("messaging: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsExpectedClose reports whether cause is part of normal teardown: a local
// close, a clean peer disconnect, or a socket closed underneath a blocked call.
func IsExpectedClose(cause error) bool {
	return cause == nil ||
		errors.Is(cause, ErrPeerDisconnected) ||
		errors.Is(cause, net.ErrClosed)
}

// causeLabel maps a closed cause to a low-cardinality metrics label.
func causeLabel(cause error) string {
	switch {
	case cause == nil:
		return "local"
	case errors.Is(cause, ErrPeerDisconnected):
		return "peer_disconnected"
	case errors.Is(cause, frame.ErrProtocol):
		return "protocol"
	default:
		return "transport"
	}
}

package frame

import (
	"errors"
	"fmt"
)

var (
	ErrProtocol        = errors.New("frame: protocol error")
	ErrBadSignature    = errors.New("frame: invalid signature")
	ErrLengthTooSmall  = errors.New("frame: total length smaller than header")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// ProtocolError reports a malformed frame. It matches both ErrProtocol and
// its Reason under errors.Is.
type ProtocolError struct {
	Reason error
	Got    uint64
}

func (e *ProtocolError) Error() string {
	if errors.Is(e.Reason, ErrBadSignature) {
		return fmt.Sprintf("%v 0x%x", e.Reason, e.Got)
	}
	return fmt.Sprintf("%v (%d)", e.Reason, e.Got)
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrProtocol, e.Reason}
}

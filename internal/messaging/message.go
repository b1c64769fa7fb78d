package messaging

import (
	"fmt"
	"sync/atomic"

	"github.com/danmuck/framelink/internal/protocol/frame"
	"github.com/danmuck/framelink/internal/protocol/payload"
)

var requestIDs atomic.Uint32

// NextRequestID returns the next process-wide request id. Ids start at 1.
func NextRequestID() uint32 {
	return requestIDs.Add(1)
}

// Message is the logical unit carried over a Connection. Its payload buffer
// is never mutated after construction.
type Message struct {
	requestID uint32
	payload   []byte
}

// NewMessage copies b and tags it with the next request id.
func NewMessage(b []byte) Message {
	return Message{
		requestID: NextRequestID(),
		payload:   append([]byte(nil), b...),
	}
}

func NewTextMessage(text string) Message {
	return Message{requestID: NextRequestID(), payload: []byte(text)}
}

// EncodeMessage builds a Message from v using codec.
func EncodeMessage[T any](codec payload.Codec[T], v T) (Message, error) {
	b, err := codec.Encode(v)
	if err != nil {
		return Message{}, err
	}
	return Message{requestID: NextRequestID(), payload: b}, nil
}

// DecodeMessage reads m's payload back through codec.
func DecodeMessage[T any](codec payload.Codec[T], m Message) (T, error) {
	return codec.Decode(m.payload)
}

// received wraps a decoded frame without copying its payload.
func received(f frame.Frame) Message {
	return Message{requestID: f.RequestID, payload: f.Payload}
}

func (m Message) WithRequestID(id uint32) Message {
	m.requestID = id
	return m
}

func (m Message) RequestID() uint32 {
	return m.requestID
}

// Payload returns a copy of the payload bytes.
func (m Message) Payload() []byte {
	return append([]byte(nil), m.payload...)
}

func (m Message) Len() int {
	return len(m.payload)
}

func (m Message) Text() string {
	return string(m.payload)
}

func (m Message) String() string {
	return fmt.Sprintf("Message{request_id=%d len=%d}", m.requestID, len(m.payload))
}

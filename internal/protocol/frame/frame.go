package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	Signature  byte = 0xFF
	HeaderLen       = 9
	// DefaultChunkSize is the read granularity used when a caller passes a
	// non-positive chunk size.
	DefaultChunkSize = 1024
	// MaxPayloadLen is the largest payload the 4-byte length field can carry.
	MaxPayloadLen = math.MaxUint32 - HeaderLen
)

// Frame is one complete wire message.
type Frame struct {
	RequestID uint32
	Payload   []byte
}

// Len reports the encoded size of f, header included.
func (f Frame) Len() int {
	return HeaderLen + len(f.Payload)
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

func (l Limits) maxPayload() uint64 {
	if l.MaxPayloadBytes == 0 || l.MaxPayloadBytes > MaxPayloadLen {
		return MaxPayloadLen
	}
	return l.MaxPayloadBytes
}

// Encode returns the wire bytes for one frame.
func Encode(requestID uint32, payload []byte, limits Limits) ([]byte, error) {
	if uint64(len(payload)) > limits.maxPayload() {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = Signature
	binary.BigEndian.PutUint32(buf[1:5], uint32(HeaderLen+len(payload)))
	binary.BigEndian.PutUint32(buf[5:9], requestID)
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// WriteFrame encodes f and writes it with a single Write call.
func WriteFrame(w io.Writer, f Frame, limits Limits) (int, error) {
	buf, err := Encode(f.RequestID, f.Payload, limits)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

// ReadFrame decodes exactly one frame from r.
//
// The header is read with io.ReadFull. Payload bytes are pulled in reads of
// at most min(chunkSize, bytes still owed), so a frame that follows on the
// same stream is never consumed. Each read blocks on r until some bytes are
// available; there is no polling.
//
// A clean end of stream before the first header byte returns io.EOF. A stream
// that ends inside a frame returns io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, chunkSize int, limits Limits) (Frame, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var sig [1]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		return Frame{}, err
	}
	if sig[0] != Signature {
		return Frame{}, &ProtocolError{Reason: ErrBadSignature, Got: uint64(sig[0])}
	}

	var rest [HeaderLen - 1]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return Frame{}, unexpectedEOF(err)
	}
	total := binary.BigEndian.Uint32(rest[0:4])
	requestID := binary.BigEndian.Uint32(rest[4:8])

	if total < HeaderLen {
		return Frame{}, &ProtocolError{Reason: ErrLengthTooSmall, Got: uint64(total)}
	}
	owed := uint64(total) - HeaderLen
	if owed > limits.maxPayload() {
		return Frame{}, &ProtocolError{Reason: ErrPayloadTooLarge, Got: owed}
	}

	payload := make([]byte, owed)
	var read int
	for read < len(payload) {
		n := min(chunkSize, len(payload)-read)
		got, err := r.Read(payload[read : read+n])
		read += got
		if err != nil {
			if read == len(payload) && errors.Is(err, io.EOF) {
				break
			}
			return Frame{}, unexpectedEOF(err)
		}
	}

	return Frame{RequestID: requestID, Payload: payload}, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

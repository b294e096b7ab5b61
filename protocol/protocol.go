// Package protocol implements the length-framed binary protocol between a host
// and its module processes.
//
// Every message in both directions is one frame: a 5-byte header followed by a
// variable-length payload. The receiver reads the header first to learn the
// payload length, then reads exactly that many bytes.
//
// Frame format:
//
//	0    1              5
//	┌────┬──────────────┬──────────────────┐
//	│kind│  length      │   payload ...    │
//	│    │ uint32 BE    │  length bytes    │
//	└────┴──────────────┴──────────────────┘
//
// Payload layout per kind:
//
//	Request          [requestID uint32 BE][opcode byte][application payload]
//	ResponseSuccess  [requestID uint32 BE][application payload]
//	ResponseError    [requestID uint32 BE][uvarint length][UTF-8 message]
//	Event            [eventCode byte][application payload]
package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"mediator/errors"
)

// Kind is the frame tag in the first header byte.
type Kind byte

const (
	KindRequest         Kind = 0x42
	KindResponseSuccess Kind = 0x43
	KindResponseError   Kind = 0x44
	KindEvent           Kind = 0x45
)

const (
	HeaderSize = 5 // 1 (kind) + 4 (length)

	// DefaultMaxFrameSize bounds the payload length a reader accepts before it
	// allocates. A header announcing more is a protocol error.
	DefaultMaxFrameSize uint32 = 64 << 20
)

// Valid reports whether k is one of the four reserved tags.
func (k Kind) Valid() bool {
	return k >= KindRequest && k <= KindEvent
}

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponseSuccess:
		return "response_success"
	case KindResponseError:
		return "response_error"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// PayloadWriter serializes an application payload into w.
type PayloadWriter func(w io.Writer) error

// Empty writes no application payload.
func Empty(io.Writer) error { return nil }

// Bytes returns a PayloadWriter that writes b verbatim.
func Bytes(b []byte) PayloadWriter {
	return func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	}
}

// EncodeFrame builds a complete frame. The header is reserved up front and
// back-patched once the final payload length is known.
func EncodeFrame(kind Kind, write PayloadWriter) ([]byte, error) {
	if !kind.Valid() {
		return nil, errors.Protocolf("cannot encode frame kind 0x%02x", byte(kind))
	}

	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))
	if write != nil {
		if err := write(&buf); err != nil {
			return nil, err
		}
	}

	frame := buf.Bytes()
	frame[0] = byte(kind)
	binary.BigEndian.PutUint32(frame[1:HeaderSize], uint32(len(frame)-HeaderSize))
	return frame, nil
}

// WriteFrame encodes a frame and writes it with a single Write call.
// The caller must serialize concurrent writers on the same w (see Writer).
func WriteFrame(w io.Writer, kind Kind, write PayloadWriter) error {
	frame, err := EncodeFrame(kind, write)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one complete frame from r. It blocks until the whole header
// and the whole payload have arrived. End of stream at any point, including
// inside a frame, is reported as errors.ErrConnectionClosed; a partial frame is
// never returned.
func ReadFrame(r io.Reader, maxLen uint32) (Kind, []byte, error) {
	// Step 1: Read the fixed 5-byte header
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, closedOr(err, "no frame start")
	}

	// Step 2: Validate the kind, an unknown tag means the stream is out of sync
	kind := Kind(header[0])
	if !kind.Valid() {
		return 0, nil, errors.Protocolf("unknown frame kind 0x%02x", header[0])
	}

	// Step 3: Length check before allocating
	length := binary.BigEndian.Uint32(header[1:])
	if maxLen > 0 && length > maxLen {
		return 0, nil, errors.Protocolf("frame length %d exceeds limit %d", length, maxLen)
	}

	// Step 4: Read exactly length bytes
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, closedOr(err, "incomplete frame")
	}
	return kind, payload, nil
}

func closedOr(err error, reason string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &errors.ConnectionClosedError{Reason: reason}
	}
	return err
}

// Writer serializes whole frames onto a shared stream. Responses and events
// are emitted from call sites that are not otherwise ordered, so the lock is
// held for the single Write of each frame.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer for w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame encodes outside the lock and writes under it.
func (fw *Writer) WriteFrame(kind Kind, write PayloadWriter) error {
	frame, err := EncodeFrame(kind, write)
	if err != nil {
		return err
	}
	return fw.Write(frame)
}

// Write writes one complete, already encoded frame.
func (fw *Writer) Write(frame []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(frame)
	return err
}

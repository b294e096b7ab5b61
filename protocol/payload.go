package protocol

import (
	"encoding/binary"
	"io"
	"strings"
	"unicode/utf8"

	"mediator/errors"
	"mediator/message"
)

// RequestPayload wraps an application payload writer with the request prefix.
func RequestPayload(id uint32, op message.Opcode, write PayloadWriter) PayloadWriter {
	return func(w io.Writer) error {
		var prefix [5]byte
		binary.BigEndian.PutUint32(prefix[:4], id)
		prefix[4] = byte(op)
		if _, err := w.Write(prefix[:]); err != nil {
			return err
		}
		if write == nil {
			return nil
		}
		return write(w)
	}
}

// SuccessPayload wraps an application payload writer with the response prefix.
func SuccessPayload(id uint32, write PayloadWriter) PayloadWriter {
	return func(w io.Writer) error {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], id)
		if _, err := w.Write(prefix[:]); err != nil {
			return err
		}
		if write == nil {
			return nil
		}
		return write(w)
	}
}

// ErrorPayload encodes the request ID and a length-prefixed error message.
// Invalid UTF-8 in msg is replaced so the peer can always decode it.
func ErrorPayload(id uint32, msg string) PayloadWriter {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	return func(w io.Writer) error {
		buf := make([]byte, 4, 4+binary.MaxVarintLen32+len(msg))
		binary.BigEndian.PutUint32(buf, id)
		buf = AppendString(buf, msg)
		_, err := w.Write(buf)
		return err
	}
}

// EventPayload wraps an application payload writer with the event code.
func EventPayload(code message.EventCode, write PayloadWriter) PayloadWriter {
	return func(w io.Writer) error {
		if _, err := w.Write([]byte{byte(code)}); err != nil {
			return err
		}
		if write == nil {
			return nil
		}
		return write(w)
	}
}

// ParseRequest decodes a Request frame payload.
func ParseRequest(payload []byte) (*message.Request, error) {
	if len(payload) < 5 {
		return nil, errors.Protocolf("request frame too small: %d bytes", len(payload))
	}
	return &message.Request{
		ID:      binary.BigEndian.Uint32(payload[:4]),
		Opcode:  message.Opcode(payload[4]),
		Payload: payload[5:],
	}, nil
}

// ParseResponse decodes a ResponseSuccess or ResponseError frame payload.
func ParseResponse(kind Kind, payload []byte) (*message.Response, error) {
	if len(payload) < 4 {
		return nil, errors.Protocolf("response frame too small: %d bytes", len(payload))
	}
	resp := &message.Response{ID: binary.BigEndian.Uint32(payload[:4])}

	switch kind {
	case KindResponseSuccess:
		resp.Payload = payload[4:]
	case KindResponseError:
		msg, _, err := ReadString(payload[4:])
		if err != nil {
			return nil, err
		}
		resp.Failed = true
		resp.Err = msg
	default:
		return nil, errors.Protocolf("%s frame is not a response", kind)
	}
	return resp, nil
}

// ParseEvent decodes an Event frame payload.
func ParseEvent(payload []byte) (*message.Event, error) {
	if len(payload) < 1 {
		return nil, errors.Protocolf("empty event frame")
	}
	return &message.Event{
		Code:    message.EventCode(payload[0]),
		Payload: payload[1:],
	}, nil
}

// AppendString appends s with a 7-bit-encoded length prefix, the string layout
// the host runtime's binary writer uses.
func AppendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// ReadString decodes a string written by AppendString and returns the number
// of bytes consumed.
func ReadString(buf []byte) (string, int, error) {
	n, size := binary.Uvarint(buf)
	if size <= 0 {
		return "", 0, errors.Protocolf("malformed string length prefix")
	}
	if n > uint64(len(buf)-size) {
		return "", 0, errors.Protocolf("string length %d exceeds payload", n)
	}
	s := string(buf[size : size+int(n)])
	if !utf8.ValidString(s) {
		return "", 0, errors.Protocolf("string is not valid UTF-8")
	}
	return s, size + int(n), nil
}

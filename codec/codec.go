// Package codec holds the payload serialization strategies for events.
//
// Each event code has its own strategy: the hot path (variable value batches)
// uses a hand-written binary layout, the cold paths keep the JSON format the
// host has always used. The table is configurable per deployment.
package codec

import (
	"fmt"
	"io"
	"strings"

	"mediator/message"
	"mediator/protocol"
)

// CodecType identifies a serialization strategy.
type CodecType byte

const (
	CodecTypeJSON    CodecType = 0
	CodecTypeBinary  CodecType = 1
	CodecTypeMsgpack CodecType = 2
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeMsgpack:
		return "msgpack"
	default:
		return fmt.Sprintf("CodecType(%d)", byte(t))
	}
}

// ParseCodecType parses the configuration name of a codec.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(name) {
	case "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	case "msgpack":
		return CodecTypeMsgpack, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// Codec serializes an event payload.
type Codec interface {
	Encode(w io.Writer, v any) error
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType. Unknown types fall back to JSON.
func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeBinary:
		return &BinaryCodec{}
	case CodecTypeMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}

// Table maps each event code to its codec. A Table is read-only once built and
// safe for concurrent use.
type Table map[message.EventCode]Codec

// DefaultTable returns binary for variable values and JSON for config changes
// and alarms.
func DefaultTable() Table {
	return Table{
		message.EventVariableValuesChanged: &BinaryCodec{},
		message.EventConfigChanged:         &JSONCodec{},
		message.EventAlarmOrEvent:          &JSONCodec{},
	}
}

// NewTable builds a table from configuration names, starting from the defaults.
func NewTable(names map[message.EventCode]string) (Table, error) {
	t := DefaultTable()
	for code, name := range names {
		ct, err := ParseCodecType(name)
		if err != nil {
			return nil, err
		}
		t[code] = GetCodec(ct)
	}
	return t, nil
}

// Lookup returns the codec for code, JSON if none is configured.
func (t Table) Lookup(code message.EventCode) Codec {
	if c, ok := t[code]; ok {
		return c
	}
	return &JSONCodec{}
}

// PayloadWriter returns a writer that serializes v with the codec for code.
func (t Table) PayloadWriter(code message.EventCode, v any) protocol.PayloadWriter {
	c := t.Lookup(code)
	return func(w io.Writer) error {
		return c.Encode(w, v)
	}
}

// Decode deserializes an event payload into v with the codec for code.
func (t Table) Decode(code message.EventCode, data []byte, v any) error {
	return t.Lookup(code).Decode(data, v)
}

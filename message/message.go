// Package message defines the values exchanged between a host and a module process.
//
// A Request is correlated with exactly one Response through its ID. Events are
// uncorrelated push notifications that either side may emit at any time.
//
//	host (Initiator)                          module (Responder)
//	  Request{ID:7, Opcode:GetAllObjects} ──→
//	                                     ←──  Event{Code:VariableValuesChanged}
//	                                     ←──  Response{ID:7, Payload:[...]}
package message

import (
	"fmt"

	"mediator/errors"
)

// Opcode selects the module operation a Request invokes.
type Opcode byte

// Module operations. The numbering is part of the wire contract.
const (
	OpInit                Opcode = 1
	OpInitAbort           Opcode = 2
	OpRun                 Opcode = 3
	OpShutdown            Opcode = 4
	OpGetAllObjects       Opcode = 5
	OpGetObjectsByID      Opcode = 6
	OpGetMetaInfo         Opcode = 7
	OpGetObjectValuesByID Opcode = 8
	OpGetMemberValues     Opcode = 9
	OpUpdateConfig        Opcode = 10
	OpReadVariables       Opcode = 11
	OpWriteVariables      Opcode = 12
	OpMethodCall          Opcode = 13
	OpBrowse              Opcode = 14

	// OpParentInfo is the handshake: it must be the first request a module receives.
	OpParentInfo Opcode = 99
)

var opcodeNames = map[Opcode]string{
	OpInit:                "Init",
	OpInitAbort:           "InitAbort",
	OpRun:                 "Run",
	OpShutdown:            "Shutdown",
	OpGetAllObjects:       "GetAllObjects",
	OpGetObjectsByID:      "GetObjectsByID",
	OpGetMetaInfo:         "GetMetaInfo",
	OpGetObjectValuesByID: "GetObjectValuesByID",
	OpGetMemberValues:     "GetMemberValues",
	OpUpdateConfig:        "UpdateConfig",
	OpReadVariables:       "ReadVariables",
	OpWriteVariables:      "WriteVariables",
	OpMethodCall:          "MethodCall",
	OpBrowse:              "Browse",
	OpParentInfo:          "ParentInfo",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%d)", byte(op))
}

// Ends reports whether op terminates the module's request loop.
func (op Opcode) Ends() bool {
	return op == OpShutdown || op == OpInitAbort
}

// EventCode selects the kind of an Event.
type EventCode byte

const (
	EventVariableValuesChanged EventCode = 1
	EventConfigChanged         EventCode = 2
	EventAlarmOrEvent          EventCode = 3
)

func (c EventCode) String() string {
	switch c {
	case EventVariableValuesChanged:
		return "VariableValuesChanged"
	case EventConfigChanged:
		return "ConfigChanged"
	case EventAlarmOrEvent:
		return "AlarmOrEvent"
	default:
		return fmt.Sprintf("EventCode(%d)", byte(c))
	}
}

// Request is one RPC invocation.
type Request struct {
	ID      uint32 // Assigned by the Initiator, starts at 1, never reused on a connection
	Opcode  Opcode
	Payload []byte // Application payload, serialized by the business layer
}

// Response is the outcome of a Request.
//
//   - Success: Err is empty, Payload holds the serialized result.
//   - Error:   Err holds the handler's message, Payload is nil.
type Response struct {
	ID      uint32
	Err     string
	Failed  bool // Err may legitimately be empty on a failed response
	Payload []byte
}

// Success reports whether the peer completed the request successfully.
func (r *Response) Success() bool {
	return !r.Failed
}

// Error returns the remote failure as an error, or nil on success.
func (r *Response) Error() error {
	if !r.Failed {
		return nil
	}
	return &errors.RemoteError{RequestID: r.ID, Message: r.Err}
}

// Event is an uncorrelated notification.
type Event struct {
	Code    EventCode
	Payload []byte
}

// ParseOpcode returns the opcode with the given name, as printed by String.
func ParseOpcode(name string) (Opcode, bool) {
	for op, n := range opcodeNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

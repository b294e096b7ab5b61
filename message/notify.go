package message

import "time"

// ParentInfo is the payload of the OpParentInfo handshake request (JSON).
type ParentInfo struct {
	PID int `json:"PID"`
}

// Quality of a variable value.
type Quality byte

const (
	QualityGood      Quality = 0
	QualityBad       Quality = 1
	QualityUncertain Quality = 2
)

// ObjectRef identifies an object within the Mediator.
type ObjectRef struct {
	Module  string `json:"ModuleID" msgpack:"m"`
	LocalID string `json:"LocalObjectID" msgpack:"l"`
}

// VariableValue is one changed variable. Value is the JSON text of the
// dynamic value; the core never interprets it.
type VariableValue struct {
	Object   ObjectRef `json:"Object" msgpack:"o"`
	Variable string    `json:"Name" msgpack:"n"`
	Value    string    `json:"V" msgpack:"v"`
	Time     time.Time `json:"T" msgpack:"t"`
	Quality  Quality   `json:"Q" msgpack:"q"`
}

// Severity of an alarm or event.
type Severity byte

const (
	SeverityInfo    Severity = 0
	SeverityWarning Severity = 1
	SeverityAlarm   Severity = 2
)

// AlarmOrEvent is the payload of EventAlarmOrEvent.
type AlarmOrEvent struct {
	Time           time.Time   `json:"Time" msgpack:"time"`
	Severity       Severity    `json:"Severity" msgpack:"sev"`
	Type           string      `json:"Type" msgpack:"type"`
	Message        string      `json:"Message" msgpack:"msg"`
	Details        string      `json:"Details,omitempty" msgpack:"details,omitempty"`
	Objects        []ObjectRef `json:"AffectedObjects,omitempty" msgpack:"objects,omitempty"`
	Initiator      string      `json:"Initiator,omitempty" msgpack:"initiator,omitempty"`
	ReturnToNormal bool        `json:"ReturnToNormal,omitempty" msgpack:"rtn,omitempty"`
}

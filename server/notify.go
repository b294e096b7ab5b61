package server

import (
	"go.uber.org/zap"

	"mediator/message"
	"mediator/protocol"
)

// earlyEvent is a notification held back until the handshake reply is out.
type earlyEvent struct {
	code  message.EventCode
	write protocol.PayloadWriter
}

// NotifyVariableValuesChanged sends a VariableValuesChanged event. An empty
// batch is dropped. Safe to call from any goroutine; the event is written from
// the pump in call order. Events issued before the handshake are sent right
// after its reply.
func (h *Host) NotifyVariableValuesChanged(values []message.VariableValue) error {
	if len(values) == 0 {
		return nil
	}
	return h.notify(message.EventVariableValuesChanged, values)
}

// NotifyConfigChanged sends a ConfigChanged event for the changed objects. An
// empty list is dropped.
func (h *Host) NotifyConfigChanged(changed []message.ObjectRef) error {
	if len(changed) == 0 {
		return nil
	}
	return h.notify(message.EventConfigChanged, changed)
}

// NotifyAlarmOrEvent sends an AlarmOrEvent event.
func (h *Host) NotifyAlarmOrEvent(e message.AlarmOrEvent) error {
	return h.notify(message.EventAlarmOrEvent, e)
}

func (h *Host) notify(code message.EventCode, v any) error {
	write := h.opts.codecs.PayloadWriter(code, v)
	return h.pump.Post(func() {
		switch h.State() {
		case StateAwaitingHandshake:
			h.early = append(h.early, earlyEvent{code: code, write: write})
		case StateTerminated:
		default:
			h.sendEvent(code, write)
		}
	})
}

// flushEarlyEvents runs on the pump right after the handshake reply.
func (h *Host) flushEarlyEvents() {
	early := h.early
	h.early = nil
	for _, e := range early {
		h.sendEvent(e.code, e.write)
	}
}

func (h *Host) sendEvent(code message.EventCode, write protocol.PayloadWriter) {
	if err := h.conn.SendEvent(code, write); err != nil {
		h.opts.logger.Warn("Dropping event", zap.Stringer("event", code), zap.Error(err))
	}
}

package client

import (
	"go.uber.org/zap"

	"mediator/message"
)

// EventSink receives the notifications of a module. Methods are called one at
// a time, in the order the module sent them.
type EventSink interface {
	VariableValuesChanged(values []message.VariableValue)
	ConfigChanged(changed []message.ObjectRef)
	AlarmOrEvent(e message.AlarmOrEvent)
}

// onEvent runs on the session pump.
func (m *ExternalModule) onEvent(logger *zap.Logger) func(*message.Event) {
	return func(evt *message.Event) {
		if m.opts.sink == nil {
			return
		}

		var err error
		switch evt.Code {
		case message.EventVariableValuesChanged:
			var values []message.VariableValue
			if err = m.codecs.Decode(evt.Code, evt.Payload, &values); err == nil {
				m.opts.sink.VariableValuesChanged(values)
			}
		case message.EventConfigChanged:
			var changed []message.ObjectRef
			if err = m.codecs.Decode(evt.Code, evt.Payload, &changed); err == nil {
				m.opts.sink.ConfigChanged(changed)
			}
		case message.EventAlarmOrEvent:
			var ae message.AlarmOrEvent
			if err = m.codecs.Decode(evt.Code, evt.Payload, &ae); err == nil {
				m.opts.sink.AlarmOrEvent(ae)
			}
		default:
			logger.Error("Unknown event code", zap.Stringer("event", evt.Code))
			return
		}
		if err != nil {
			logger.Error("Failed to decode event", zap.Stringer("event", evt.Code), zap.Error(err))
		}
	}
}

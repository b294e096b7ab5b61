package client

import (
	"go.uber.org/zap"

	"mediator/metric"
	"mediator/registry"
)

type options struct {
	logger   *zap.Logger
	metrics  *metric.Metrics
	registry registry.Registry
	sink     EventSink
	init     []byte
}

// Option configures an ExternalModule.
type Option func(*options)

// WithLogger sets the logger. Module stdout and stderr are forwarded to it.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables link metrics for every session.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRegistry publishes every started session in r.
func WithRegistry(r registry.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithEventSink receives the decoded events of the module.
func WithEventSink(sink EventSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithInitPayload sets the payload of the Init request sent on every start.
func WithInitPayload(payload []byte) Option {
	return func(o *options) {
		o.init = payload
	}
}

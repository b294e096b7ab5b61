package transport

import (
	"time"

	"go.uber.org/zap"

	"mediator/metric"
	"mediator/protocol"
)

// DefaultSendTimeout bounds a single frame write on the responder side.
const DefaultSendTimeout = 10 * time.Second

type options struct {
	logger       *zap.Logger
	metrics      *metric.Metrics
	maxFrameSize uint32
	sendTimeout  time.Duration
}

func defaultOptions() options {
	return options{
		logger:       zap.NewNop(),
		maxFrameSize: protocol.DefaultMaxFrameSize,
		sendTimeout:  DefaultSendTimeout,
	}
}

// Option configures an Initiator or a Responder.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithMaxFrameSize limits the payload length accepted from the peer.
func WithMaxFrameSize(n uint32) Option {
	return func(o *options) {
		o.maxFrameSize = n
	}
}

// WithSendTimeout sets the write deadline for each frame. Zero disables it.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) {
		o.sendTimeout = d
	}
}

package server

import (
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"mediator/codec"
	"mediator/metric"
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultLivenessInterval = 5 * time.Second
)

type options struct {
	logger           *zap.Logger
	metrics          *metric.Metrics
	codecs           codec.Table
	handshakeTimeout time.Duration
	livenessInterval time.Duration
	clock            clock.Clock
	probe            func(pid int) bool
	exit             func(code int)
}

func defaultOptions() options {
	return options{
		logger:           zap.NewNop(),
		codecs:           codec.DefaultTable(),
		handshakeTimeout: DefaultHandshakeTimeout,
		livenessInterval: DefaultLivenessInterval,
		clock:            clock.New(),
		probe:            processAlive,
		exit:             os.Exit,
	}
}

// Option configures a Host.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables handler and liveness metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithCodecs sets the event payload codecs.
func WithCodecs(t codec.Table) Option {
	return func(o *options) {
		if t != nil {
			o.codecs = t
		}
	}
}

// WithHandshakeTimeout bounds the wait for the ParentInfo request.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// WithLivenessInterval sets how often the parent process is checked.
func WithLivenessInterval(d time.Duration) Option {
	return func(o *options) {
		o.livenessInterval = d
	}
}

// WithClock replaces the clock driving the liveness checker.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithParentProbe replaces the "is this PID alive" check.
func WithParentProbe(probe func(pid int) bool) Option {
	return func(o *options) {
		o.probe = probe
	}
}

// WithExit replaces os.Exit, called when the parent process is gone.
func WithExit(exit func(code int)) Option {
	return func(o *options) {
		o.exit = exit
	}
}

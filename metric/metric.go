// Package metric holds the Prometheus metrics of the module link.
//
// All methods are nil-safe so components can be built without metrics.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the link-level metrics.
type Metrics struct {
	FramesSent       *prometheus.CounterVec
	FramesReceived   *prometheus.CounterVec
	PendingRequests  prometheus.Gauge
	UnknownResponses prometheus.Counter
	HandlerResults   *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	ParentChecks     *prometheus.CounterVec
}

// New creates the metrics and registers them on reg (if non-nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediator",
				Subsystem: "link",
				Name:      "frames_sent_total",
				Help:      "Total number of frames written, by kind",
			},
			[]string{"kind"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediator",
				Subsystem: "link",
				Name:      "frames_received_total",
				Help:      "Total number of frames read, by kind",
			},
			[]string{"kind"},
		),

		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mediator",
				Subsystem: "link",
				Name:      "pending_requests",
				Help:      "Requests written and not yet answered",
			},
		),

		UnknownResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mediator",
				Subsystem: "link",
				Name:      "unknown_responses_total",
				Help:      "Responses received for a request id that was never registered",
			},
		),

		HandlerResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediator",
				Subsystem: "module",
				Name:      "handler_results_total",
				Help:      "Module handler completions, by opcode and status",
			},
			[]string{"opcode", "status"},
		),

		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mediator",
				Subsystem: "module",
				Name:      "handler_duration_seconds",
				Help:      "Time from request dispatch to response write",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"opcode"},
		),

		ParentChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediator",
				Subsystem: "module",
				Name:      "parent_checks_total",
				Help:      "Parent process liveness probes, by result",
			},
			[]string{"result"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesSent,
			m.FramesReceived,
			m.PendingRequests,
			m.UnknownResponses,
			m.HandlerResults,
			m.HandlerDuration,
			m.ParentChecks,
		)
	}
	return m
}

// FrameSent records one written frame.
func (m *Metrics) FrameSent(kind string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
}

// FrameReceived records one read frame.
func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

// SetPending sets the pending request gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

// UnknownResponse records a response that matched no pending request.
func (m *Metrics) UnknownResponse() {
	if m == nil {
		return
	}
	m.UnknownResponses.Inc()
}

// HandlerResult records a handler completion.
func (m *Metrics) HandlerResult(opcode string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.HandlerResults.WithLabelValues(opcode, status).Inc()
	m.HandlerDuration.WithLabelValues(opcode).Observe(seconds)
}

// ParentCheck records a liveness probe result.
func (m *Metrics) ParentCheck(alive bool) {
	if m == nil {
		return
	}
	result := "alive"
	if !alive {
		result = "gone"
	}
	m.ParentChecks.WithLabelValues(result).Inc()
}

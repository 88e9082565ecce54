package h2mux

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics.go instruments the multiplexer with the same promauto idiom
// pkg/celeris/metrics.go uses for the HTTP layer, generalized from
// per-request label sets to the connection-scoped counters that matter for
// a stream multiplexer: how many streams open and close, how often
// backpressure trips, and how deep the setup-pending backlog gets.
var (
	streamsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celeris_h2mux_streams_opened_total",
		Help: "Total number of streams opened, inbound and outbound.",
	})

	streamsActiveTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celeris_h2mux_streams_activated_total",
		Help: "Total number of streams that reached the active phase.",
	})

	streamsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celeris_h2mux_streams_closed_total",
		Help: "Total number of streams torn down.",
	})

	rstStreamsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celeris_h2mux_rst_stream_sent_total",
		Help: "Total number of RST_STREAM frames the multiplexer emitted.",
	})

	writabilityFlipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "celeris_h2mux_writability_flips_total",
		Help: "Total number of stream writability transitions (spec watermark edges).",
	})

	deferredQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "celeris_h2mux_deferred_queue_depth",
		Help: "Number of inbound frames currently deferred across all setup-pending streams.",
	})
)

// metrics bundles the package-level collectors behind a per-Multiplexer
// handle so tests can construct a Multiplexer without touching global
// Prometheus state directly.
type metrics struct {
	streamsOpened     prometheus.Counter
	streamsActivated  prometheus.Counter
	streamsClosed     prometheus.Counter
	rstStreamsSent    prometheus.Counter
	writabilityFlips  prometheus.Counter
	deferredDepth     prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		streamsOpened:    streamsOpenedTotal,
		streamsActivated: streamsActiveTotal,
		streamsClosed:    streamsClosedTotal,
		rstStreamsSent:   rstStreamsSentTotal,
		writabilityFlips: writabilityFlipsTotal,
		deferredDepth:    deferredQueueDepth,
	}
}

func (m *Multiplexer) metricsStreamActive() {
	m.metrics.streamsActivated.Inc()
}

func (m *Multiplexer) metricsStreamClosed() {
	m.metrics.streamsClosed.Inc()
}

func (m *Multiplexer) metricsRSTSent() {
	m.metrics.rstStreamsSent.Inc()
}

func (m *Multiplexer) metricsWritabilityFlip() {
	m.metrics.writabilityFlips.Inc()
}

func (m *Multiplexer) adjustDeferredDepth(delta int) {
	if delta == 0 {
		return
	}
	m.metrics.deferredDepth.Add(float64(delta))
}

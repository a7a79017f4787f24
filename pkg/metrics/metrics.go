// Package metrics exposes the ambient Prometheus side channel for the RPC
// core: counters, latency, and gauges are recorded here but never read
// back by the core itself (spec.md's stance that observability is
// ambient, not part of core semantics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the RPC server touches. Use New
// to register against a specific registry (tests) or Default for the
// global prometheus.DefaultRegisterer.
type Metrics struct {
	CallsTotal        *prometheus.CounterVec
	HandlerLatency    *prometheus.HistogramVec
	StreamFrames      *prometheus.CounterVec
	PendingFutures    prometheus.Gauge
	ConnectedSessions prometheus.Gauge
	ReaperEvictions   prometheus.Counter
	ChunkErrors       prometheus.Counter
}

// New creates a fresh Metrics and registers all of its collectors against
// reg. Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "volview_rpc",
			Name:      "calls_total",
			Help:      "Total RPC calls dispatched, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		HandlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "volview_rpc",
			Name:      "handler_latency_seconds",
			Help:      "Handler execution latency in seconds, by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		StreamFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "volview_rpc",
			Name:      "stream_frames_total",
			Help:      "Stream frames emitted, by endpoint.",
		}, []string{"endpoint"}),
		PendingFutures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "volview_rpc",
			Name:      "pending_futures",
			Help:      "Server-to-client calls awaiting a reply.",
		}),
		ConnectedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "volview_rpc",
			Name:      "connected_sessions",
			Help:      "Currently connected transport sessions.",
		}),
		ReaperEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "volview_rpc",
			Name:      "reaper_evictions_total",
			Help:      "Pending futures rejected by the timeout reaper.",
		}),
		ChunkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "volview_rpc",
			Name:      "chunk_reassembly_errors_total",
			Help:      "Chunk reassembly protocol violations.",
		}),
	}

	reg.MustRegister(
		m.CallsTotal,
		m.HandlerLatency,
		m.StreamFrames,
		m.PendingFutures,
		m.ConnectedSessions,
		m.ReaperEvictions,
		m.ChunkErrors,
	)
	return m
}

// Default registers against prometheus.DefaultRegisterer, for processes
// that expose /metrics via promhttp.Handler().
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

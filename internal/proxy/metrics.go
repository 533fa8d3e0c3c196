package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the proxy's Prometheus collectors. Labels never carry
// request content.
type Metrics struct {
	CallsTotal       *prometheus.CounterVec
	ActiveCalls      prometheus.Gauge
	TimeToFirstChunk *prometheus.HistogramVec
	ChunksTotal      *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "openmaas",
				Subsystem: "proxy",
				Name:      "calls_total",
				Help:      "Forwarded calls by provider, kind and outcome",
			},
			[]string{"provider", "kind", "outcome"},
		),
		ActiveCalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "openmaas",
				Subsystem: "proxy",
				Name:      "active_calls",
				Help:      "Calls currently being forwarded",
			},
		),
		TimeToFirstChunk: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "openmaas",
				Subsystem: "proxy",
				Name:      "time_to_first_chunk_seconds",
				Help:      "Delay between receiving a call and streaming its first chunk",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 120, 600},
			},
			[]string{"provider"},
		),
		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "openmaas",
				Subsystem: "proxy",
				Name:      "chunks_total",
				Help:      "Chunks streamed back to callers",
			},
			[]string{"provider"},
		),
	}
}

func (m *Metrics) begin() {
	m.ActiveCalls.Inc()
}

func (m *Metrics) end(c *call) {
	m.ActiveCalls.Dec()
	m.CallsTotal.WithLabelValues(string(c.provider), c.kind, c.outcome).Inc()
}

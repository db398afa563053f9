package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type serverMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	conns    prometheus.Gauge
}

// newServerMetrics registers the server collectors with reg. A nil reg
// creates unregistered collectors.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	f := promauto.With(reg)
	return &serverMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rawkv",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Raw requests served, by operation and result code.",
		}, []string{"op", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rawkv",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Time spent dispatching a raw request.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rawkv",
			Subsystem: "server",
			Name:      "requests_in_flight",
			Help:      "Requests currently being dispatched.",
		}),
		conns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "rawkv",
			Subsystem: "server",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
	}
}

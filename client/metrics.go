package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the chain connection
type Metrics struct {
	ReconnectsTotal prometheus.Counter
	Connected       prometheus.Gauge
	LastSeen        prometheus.Gauge
	HeadBlock       prometheus.Gauge
}

// NewMetrics registers the connection metrics on reg. A nil registerer
// yields working metrics that are not exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Total number of session re-establishments after a failure",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "connection",
			Name:      "connected",
			Help:      "1 while a session with live subscriptions is established",
		}),
		LastSeen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "connection",
			Name:      "last_seen_timestamp_seconds",
			Help:      "Unix time of the last head or log received",
		}),
		HeadBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "connection",
			Name:      "head_block",
			Help:      "Number of the latest head received",
		}),
	}
}

package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks catch-up scan progress
type Metrics struct {
	WindowsTotal     prometheus.Counter
	LogsTotal        prometheus.Counter
	RetriesTotal     prometheus.Counter
	WindowDuration   prometheus.Histogram
	LastScannedBlock prometheus.Gauge
}

// NewMetrics creates and registers scanner metrics on reg.
// A nil registerer yields unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WindowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "scanner",
			Name:      "windows_total",
			Help:      "Total number of eth_getLogs windows fetched",
		}),
		LogsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "scanner",
			Name:      "logs_total",
			Help:      "Total number of logs returned by catch-up scans",
		}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "scanner",
			Name:      "retries_total",
			Help:      "Total number of eth_getLogs retries",
		}),
		WindowDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "indexer",
			Subsystem: "scanner",
			Name:      "window_duration_seconds",
			Help:      "Time taken to fetch one eth_getLogs window",
			Buckets:   prometheus.DefBuckets,
		}),
		LastScannedBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "scanner",
			Name:      "last_scanned_block",
			Help:      "Upper bound of the most recently fetched window",
		}),
	}
}

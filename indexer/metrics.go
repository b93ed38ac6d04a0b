package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the pipeline
type Metrics struct {
	CursorBlock        prometheus.Gauge
	UnresolvedEvents   prometheus.Gauge
	CatchUpsTotal      prometheus.Counter
	CatchUpErrorsTotal prometheus.Counter
	CursorFlushErrors  prometheus.Counter
}

// NewMetrics creates and registers pipeline metrics on reg.
// A nil registerer yields unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CursorBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "pipeline",
			Name:      "cursor_block",
			Help:      "Last block number persisted as the resume cursor",
		}),
		UnresolvedEvents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "pipeline",
			Name:      "unresolved_events",
			Help:      "Number of dispatched events not yet applied, deduplicated or escalated",
		}),
		CatchUpsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "pipeline",
			Name:      "catchups_total",
			Help:      "Total number of completed catch-up scans",
		}),
		CatchUpErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "pipeline",
			Name:      "catchup_errors_total",
			Help:      "Total number of catch-up scans that ended early",
		}),
		CursorFlushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "pipeline",
			Name:      "cursor_flush_errors_total",
			Help:      "Total number of failed cursor writes",
		}),
	}
}

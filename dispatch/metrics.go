package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels
const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeParked    = "parked"
	outcomeFailed    = "failed"
)

// Metrics holds Prometheus metrics for the dispatcher
type Metrics struct {
	EventsReceivedTotal *prometheus.CounterVec
	EventsTotal         *prometheus.CounterVec
	RetriesTotal        *prometheus.CounterVec
	EscalationsTotal    *prometheus.CounterVec
	PendingEvents       prometheus.Gauge
	ProcessingDuration  prometheus.Histogram
}

// NewMetrics creates and registers dispatcher metrics on reg.
// A nil registerer yields unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "dispatch",
			Name:      "events_received_total",
			Help:      "Total number of events handed to the dispatcher",
		}, []string{"event_type"}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Total number of event processing outcomes (applied, duplicate, parked, failed)",
		}, []string{"event_type", "outcome"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Total number of retried store and enrichment calls",
		}, []string{"op"}),
		EscalationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "dispatch",
			Name:      "escalations_total",
			Help:      "Total number of events escalated to the dead-letter sink",
		}, []string{"kind"}),
		PendingEvents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "indexer",
			Subsystem: "dispatch",
			Name:      "pending_events",
			Help:      "Number of events parked waiting for a predecessor",
		}),
		ProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "indexer",
			Subsystem: "dispatch",
			Name:      "processing_duration_seconds",
			Help:      "Time taken to resolve one event attempt",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

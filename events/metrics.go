package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the event subscriber
type Metrics struct {
	LogsReceivedTotal   *prometheus.CounterVec
	LogsRemovedTotal    *prometheus.CounterVec
	DecodeFailuresTotal prometheus.Counter
	HandlerErrorsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers subscriber metrics on reg.
// A nil registerer yields unregistered metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LogsReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "events",
			Name:      "logs_received_total",
			Help:      "Total number of canonical contract logs received, by source and event type",
		}, []string{"source", "event_type"}),
		LogsRemovedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "events",
			Name:      "logs_removed_total",
			Help:      "Total number of logs skipped because the node reported them reorged out",
		}, []string{"event_type"}),
		DecodeFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "events",
			Name:      "decode_failures_total",
			Help:      "Total number of logs that could not be decoded",
		}),
		HandlerErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Subsystem: "events",
			Name:      "handler_errors_total",
			Help:      "Total number of handler invocations that returned an error",
		}, []string{"event_type"}),
	}
}

// Package telemetry exposes Prometheus metrics for the scoring pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for the pipeline.
type Metrics struct {
	EntriesTotal        prometheus.Counter
	EntriesInvalidTotal prometheus.Counter
	DetectionsTotal     *prometheus.CounterVec
	DeepFallbacksTotal  prometheus.Counter
	AlertsTotal         prometheus.Counter
	ScoreDuration       prometheus.Histogram
}

// NewMetrics creates a Metrics instance registered on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a Metrics instance registered on the given registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "veracity_entries_total",
			Help: "Total number of log entries processed",
		}),
		EntriesInvalidTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "veracity_entries_invalid_total",
			Help: "Total number of invalid log entries rejected",
		}),
		DetectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veracity_detections_total",
			Help: "Total number of scored entries by severity",
		}, []string{"severity"}),
		DeepFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "veracity_deep_fallbacks_total",
			Help: "Total number of deep analysis calls that fell back to rule scoring",
		}),
		AlertsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "veracity_alerts_dispatched_total",
			Help: "Total number of alerts handed to the dispatcher",
		}),
		ScoreDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "veracity_score_duration_seconds",
			Help:    "Time spent scoring a single entry",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordDetection increments the detection counter for a severity.
func (m *Metrics) RecordDetection(severity string) {
	m.DetectionsTotal.WithLabelValues(severity).Inc()
}

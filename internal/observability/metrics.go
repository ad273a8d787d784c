// Package observability provides Prometheus metrics for the application.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry

	uploadsTotal          *prometheus.CounterVec
	derivationDuration    prometheus.Histogram
	detectionsTotal       *prometheus.CounterVec
	classifierDuration    prometheus.Histogram
	classifierErrorsTotal prometheus.Counter
	stuckProcessingGauge  prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafguard_uploads_total",
			Help: "Total number of upload attempts by outcome",
		}, []string{"outcome"}),
		derivationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leafguard_derivation_duration_seconds",
			Help:    "Time spent deriving artifact variants",
			Buckets: prometheus.DefBuckets,
		}),
		detectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafguard_detections_total",
			Help: "Total number of detection lifecycle outcomes",
		}, []string{"outcome"}),
		classifierDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leafguard_classifier_duration_seconds",
			Help:    "Time spent in external classifier calls",
			Buckets: prometheus.DefBuckets,
		}),
		classifierErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafguard_classifier_errors_total",
			Help: "Total number of failed classifier calls",
		}),
		stuckProcessingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leafguard_stuck_processing_detections",
			Help: "Number of detections stuck in processing past the cutoff",
		}),
	}

	collectors := []prometheus.Collector{
		m.uploadsTotal,
		m.derivationDuration,
		m.detectionsTotal,
		m.classifierDuration,
		m.classifierErrorsTotal,
		m.stuckProcessingGauge,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}

	return m, nil
}

// RecordUpload counts one upload attempt with its outcome ("accepted",
// "rejected" or "failed").
func (m *Metrics) RecordUpload(outcome string) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDerivation records the duration of one derivation run.
func (m *Metrics) ObserveDerivation(seconds float64) {
	if m == nil {
		return
	}
	m.derivationDuration.Observe(seconds)
}

// RecordDetectionOutcome counts one terminal lifecycle outcome
// ("completed" or "failed").
func (m *Metrics) RecordDetectionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.detectionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveClassifier records the duration of one classifier call.
func (m *Metrics) ObserveClassifier(seconds float64) {
	if m == nil {
		return
	}
	m.classifierDuration.Observe(seconds)
}

// RecordClassifierError counts one failed classifier call.
func (m *Metrics) RecordClassifierError() {
	if m == nil {
		return
	}
	m.classifierErrorsTotal.Inc()
}

// SetStuckProcessing updates the stuck-processing gauge.
func (m *Metrics) SetStuckProcessing(count int) {
	if m == nil {
		return
	}
	m.stuckProcessingGauge.Set(float64(count))
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics holds the Prometheus collectors of an import run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chargeimport"

// Import counts rows and bundles flowing through the pipeline.
type Import struct {
	registry *prometheus.Registry

	RowsAccepted      *prometheus.CounterVec
	RowsRejected      *prometheus.CounterVec
	RowsDiscarded     *prometheus.CounterVec
	Truncations       *prometheus.CounterVec
	Bundles           *prometheus.CounterVec
	UnresolvedBundles prometheus.Counter
	DocumentFailures  *prometheus.CounterVec
	RunDuration       prometheus.Histogram
}

// NewImport registers the import collectors on a fresh registry.
func NewImport() *Import {
	m := &Import{
		registry: prometheus.NewRegistry(),
		RowsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_accepted_total",
			Help:      "Rows turned into records, by document type.",
		}, []string{"document"}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Rows excluded with a logged reason, by document type and stage.",
		}, []string{"document", "stage"}),
		RowsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_discarded_total",
			Help:      "Wide summary rows dropped by the segmenter.",
		}, []string{"document"}),
		Truncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncations_total",
			Help:      "Documents cut short at a repeated section header.",
		}, []string{"document"}),
		Bundles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_total",
			Help:      "Bundles split from the bundle document, by marker kind.",
		}, []string{"kind"}),
		UnresolvedBundles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_unresolved_total",
			Help:      "Bundles left without an invoice line.",
		}),
		DocumentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_failures_total",
			Help:      "Structural failures, by document type and check.",
		}, []string{"document", "check"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of an import run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	m.registry.MustRegister(
		m.RowsAccepted,
		m.RowsRejected,
		m.RowsDiscarded,
		m.Truncations,
		m.Bundles,
		m.UnresolvedBundles,
		m.DocumentFailures,
		m.RunDuration,
	)
	return m
}

// Registry exposes the collectors for gathering.
func (m *Import) Registry() *prometheus.Registry { return m.registry }

// ObserveRun records the duration since start.
func (m *Import) ObserveRun(start time.Time) {
	m.RunDuration.Observe(time.Since(start).Seconds())
}

// WriteTextfile dumps the metrics in the node-exporter textfile format.
func (m *Import) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// Package metrics exposes Prometheus instrumentation for enrichment runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "venue_leads"

// EnrichmentMetrics counts lead outcomes and times batches. A nil
// *EnrichmentMetrics is a valid no-op.
type EnrichmentMetrics struct {
	leadsTotal     *prometheus.CounterVec
	extraction     *prometheus.CounterVec
	stageFailures  *prometheus.CounterVec
	leadScore      prometheus.Histogram
	leadDuration   prometheus.Histogram
	batchDuration  *prometheus.HistogramVec
	persistFailure prometheus.Counter
}

// NewEnrichmentMetrics registers collectors on reg, or the default
// registerer when reg is nil.
func NewEnrichmentMetrics(reg prometheus.Registerer) *EnrichmentMetrics {
	m := &EnrichmentMetrics{
		leadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "leads_total",
			Help:      "Leads processed by outcome",
		}, []string{"outcome"}),
		extraction: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "extraction_total",
			Help:      "Enrichment records by extraction source (ai or fallback)",
		}, []string{"source"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "stage_failures_total",
			Help:      "Non-fatal stage failures (fetch, ai, parse)",
		}, []string{"stage"}),
		leadScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "lead_score",
			Help:      "Distribution of detailed lead scores",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		leadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "lead_duration_seconds",
			Help:      "Time to enrich a single lead",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Time to enrich and persist a batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"status"}),
		persistFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "persist_failures_total",
			Help:      "Leads enriched but not saved",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.leadsTotal, m.extraction, m.stageFailures, m.leadScore,
		m.leadDuration, m.batchDuration, m.persistFailure)
	return m
}

func (m *EnrichmentMetrics) ObserveLead(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.leadsTotal.WithLabelValues(outcome).Inc()
	m.leadDuration.Observe(d.Seconds())
}

func (m *EnrichmentMetrics) ObserveExtraction(source string) {
	if m == nil {
		return
	}
	m.extraction.WithLabelValues(source).Inc()
}

func (m *EnrichmentMetrics) ObserveStageFailure(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

func (m *EnrichmentMetrics) ObserveScore(score int) {
	if m == nil {
		return
	}
	m.leadScore.Observe(float64(score))
}

func (m *EnrichmentMetrics) ObserveBatch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *EnrichmentMetrics) ObservePersistFailure(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.persistFailure.Add(float64(n))
}

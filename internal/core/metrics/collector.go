// Package metrics provides Prometheus collectors for segmentkeeper.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by all counters.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Collector owns every segmentkeeper metric and its registry.
// All methods are safe on a nil *Collector so components can run without
// metrics in tests and CLI commands.
type Collector struct {
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	matchedContacts    prometheus.Histogram
	repositoryOps      *prometheus.CounterVec
	reestimateRuns     *prometheus.CounterVec
	reestimateSegments *prometheus.CounterVec
}

// NewCollector creates a collector registered with registry.
// A nil registry gets a fresh prometheus.Registry.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "segmentkeeper"
	}

	c := &Collector{
		registry: registry,
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Segment evaluations by outcome (success, timeout, store_unavailable, invalid_predicate, invalid).",
			},
			[]string{"outcome"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Wall time of segment evaluations, retries included.",
				// Interactive previews should land well under a second
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		matchedContacts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_matched_contacts",
				Help:      "Matched contact counts of successful evaluations.",
				Buckets:   prometheus.ExponentialBuckets(1, 10, 8),
			},
		),
		repositoryOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repository_operations_total",
				Help:      "Segment repository operations by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		reestimateRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reestimate_runs_total",
				Help:      "Scheduled re-estimation runs by outcome.",
			},
			[]string{"outcome"},
		),
		reestimateSegments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reestimate_segments_total",
				Help:      "Segments processed by re-estimation runs by outcome.",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		c.evaluationsTotal,
		c.evaluationDuration,
		c.matchedContacts,
		c.repositoryOps,
		c.reestimateRuns,
		c.reestimateSegments,
	)
	return c
}

// RecordEvaluation records one Evaluate call.
// matched is ignored unless outcome is OutcomeSuccess.
func (c *Collector) RecordEvaluation(outcome string, duration time.Duration, matched int) {
	if c == nil {
		return
	}
	c.evaluationsTotal.WithLabelValues(outcome).Inc()
	c.evaluationDuration.Observe(duration.Seconds())
	if outcome == OutcomeSuccess {
		c.matchedContacts.Observe(float64(matched))
	}
}

// RecordRepositoryOp records one repository call.
func (c *Collector) RecordRepositoryOp(op string, err error) {
	if c == nil {
		return
	}
	c.repositoryOps.WithLabelValues(op, outcomeOf(err)).Inc()
}

// RecordReestimateRun records one scheduled run and its per-segment results.
func (c *Collector) RecordReestimateRun(err error, refreshed, failed int) {
	if c == nil {
		return
	}
	c.reestimateRuns.WithLabelValues(outcomeOf(err)).Inc()
	c.reestimateSegments.WithLabelValues(OutcomeSuccess).Add(float64(refreshed))
	c.reestimateSegments.WithLabelValues(OutcomeError).Add(float64(failed))
}

// Registry exposes the underlying registry, e.g. for testutil assertions.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns the Prometheus exposition handler for this registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func outcomeOf(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

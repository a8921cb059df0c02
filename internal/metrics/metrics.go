// Package metrics provides Prometheus metrics for speccheck runs
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for one CLI run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec
	CacheComputesTotal *prometheus.CounterVec

	// Policy build metrics
	BuildSubmissionsTotal prometheus.Counter
	BuildOutcomesTotal    *prometheus.CounterVec
	BuildPollsTotal       prometheus.Counter
	StalePoliciesDeleted  prometheus.Counter

	// External call metrics
	ServiceCallsTotal   *prometheus.CounterVec
	ServiceCallDuration *prometheus.HistogramVec

	// Evaluation metrics
	VerdictsTotal *prometheus.CounterVec

	// Stage metrics
	StageDuration *prometheus.HistogramVec
}

// New creates all metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.CacheRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speccheck_cache_requests_total",
			Help: "Total number of cache lookups",
		},
		[]string{"stage", "result"},
	)

	m.CacheComputesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speccheck_cache_computes_total",
			Help: "Total number of artifacts computed after a cache miss",
		},
		[]string{"stage"},
	)

	m.BuildSubmissionsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "speccheck_build_submissions_total",
			Help: "Total number of policy build jobs submitted",
		},
	)

	m.BuildOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speccheck_build_outcomes_total",
			Help: "Total number of section build outcomes",
		},
		[]string{"outcome"},
	)

	m.BuildPollsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "speccheck_build_polls_total",
			Help: "Total number of build job polls",
		},
	)

	m.StalePoliciesDeleted = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "speccheck_stale_policies_deleted_total",
			Help: "Total number of stale policies deleted at the service",
		},
	)

	m.ServiceCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speccheck_service_calls_total",
			Help: "Total number of external service calls",
		},
		[]string{"service", "operation", "status"},
	)

	m.ServiceCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speccheck_service_call_duration_seconds",
			Help:    "Duration of external service calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	m.VerdictsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speccheck_verdicts_total",
			Help: "Total number of policy verdicts",
		},
		[]string{"verdict"},
	)

	m.StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speccheck_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"stage"},
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordCacheHit records a cache hit for a stage
func (m *Metrics) RecordCacheHit(stage string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(stage, "hit").Inc()
}

// RecordCacheMiss records a cache miss for a stage
func (m *Metrics) RecordCacheMiss(stage string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(stage, "miss").Inc()
}

// RecordCompute records an artifact computation
func (m *Metrics) RecordCompute(stage string) {
	if m == nil {
		return
	}
	m.CacheComputesTotal.WithLabelValues(stage).Inc()
}

// RecordSubmission records a build job submission
func (m *Metrics) RecordSubmission() {
	if m == nil {
		return
	}
	m.BuildSubmissionsTotal.Inc()
}

// RecordPoll records a build job poll
func (m *Metrics) RecordPoll() {
	if m == nil {
		return
	}
	m.BuildPollsTotal.Inc()
}

// RecordBuildOutcome records how a section build ended
func (m *Metrics) RecordBuildOutcome(outcome string) {
	if m == nil {
		return
	}
	m.BuildOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordStaleDeleted records stale policy deletions
func (m *Metrics) RecordStaleDeleted(n int) {
	if m == nil {
		return
	}
	m.StalePoliciesDeleted.Add(float64(n))
}

// RecordServiceCall records an external call and its duration
func (m *Metrics) RecordServiceCall(service, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ServiceCallsTotal.WithLabelValues(service, operation, status).Inc()
	m.ServiceCallDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordVerdict records an evaluation verdict
func (m *Metrics) RecordVerdict(verdict string) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(verdict).Inc()
}

// ObserveStage records the duration of a pipeline stage
func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// Push sends all metrics to a Prometheus Pushgateway under the given job name
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

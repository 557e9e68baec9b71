// Package metrics provides Prometheus metrics for template governance.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide metrics registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Registry holds all governance metrics on its own Prometheus registry so
// several instances can coexist in tests. A nil *Registry records nothing.
type Registry struct {
	reg *prometheus.Registry

	resolutions   *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	overrides     *prometheus.CounterVec
	auditEvents   *prometheus.CounterVec
	lockOps       *prometheus.CounterVec
	policyMatches *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speckit_template_resolutions_total",
			Help: "Template resolutions by mode (enforced, single, merged) and outcome.",
		}, []string{"mode", "outcome"}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speckit_template_fetches_total",
			Help: "Per-source template fetches by outcome.",
		}, []string{"source", "outcome"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speckit_template_fetch_duration_seconds",
			Help:    "Latency of per-source template fetches.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		overrides: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speckit_template_overrides_total",
			Help: "Override requests by outcome (allowed, template_locked, policy_blocked, approval_required).",
		}, []string{"outcome"}),
		auditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speckit_audit_events_total",
			Help: "Audit events appended by event type.",
		}, []string{"event_type"}),
		lockOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speckit_lock_operations_total",
			Help: "Lock store mutations by operation (lock, unlock, expire).",
		}, []string{"op"}),
		policyMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speckit_policy_matches_total",
			Help: "Policies whose conditions matched a project context.",
		}, []string{"policy"}),
	}
}

// Gatherer exposes the underlying registry for export.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes all metrics in the Prometheus text format, for the
// node_exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}

// RecordResolution records the outcome of one Resolve call.
func (r *Registry) RecordResolution(mode, outcome string) {
	if r == nil {
		return
	}
	r.resolutions.WithLabelValues(mode, outcome).Inc()
}

// RecordFetch records a single source fetch.
func (r *Registry) RecordFetch(source string, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.fetches.WithLabelValues(source, outcome).Inc()
	r.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordOverride records an override decision.
func (r *Registry) RecordOverride(outcome string) {
	if r == nil {
		return
	}
	r.overrides.WithLabelValues(outcome).Inc()
}

// RecordAuditEvent records an appended audit event.
func (r *Registry) RecordAuditEvent(eventType string) {
	if r == nil {
		return
	}
	r.auditEvents.WithLabelValues(eventType).Inc()
}

// RecordLockOp records a lock store mutation.
func (r *Registry) RecordLockOp(op string) {
	if r == nil {
		return
	}
	r.lockOps.WithLabelValues(op).Inc()
}

// RecordPolicyMatch records a matched policy.
func (r *Registry) RecordPolicyMatch(policy string) {
	if r == nil {
		return
	}
	r.policyMatches.WithLabelValues(policy).Inc()
}

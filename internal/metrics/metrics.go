// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TriageTotal counts triage decisions by source (llm or rules).
	TriageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegishub_triage_total",
		Help: "Triage decisions by source.",
	}, []string{"source"})

	// TransitionsTotal counts lifecycle transitions by kind.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegishub_lifecycle_transitions_total",
		Help: "Lifecycle transitions by kind.",
	}, []string{"kind"})

	// DeadlineExpiriesTotal counts assignment windows that expired.
	DeadlineExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegishub_assignment_deadline_expiries_total",
		Help: "Assignment windows auto-rejected on expiry.",
	})

	// DispatchAttemptsTotal counts dispatch delivery attempts by outcome.
	DispatchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegishub_dispatch_attempts_total",
		Help: "Dispatch delivery attempts by outcome (delivered, retry, terminal).",
	}, []string{"outcome"})

	// DispatchQueueDelay observes how long jobs wait before delivery.
	DispatchQueueDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegishub_dispatch_queue_delay_seconds",
		Help:    "Time from enqueue to successful delivery.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// IngestTotal counts mobile intake submissions by result.
	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegishub_mobile_ingest_total",
		Help: "Mobile intake submissions by result (enqueued, duplicate_key).",
	}, []string{"result"})

	// DependencyFailuresTotal counts absorbed dependency failures.
	DependencyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aegishub_dependency_failures_total",
		Help: "Absorbed external dependency failures by dependency.",
	}, []string{"dependency"})

	// ReconcileDiscrepanciesTotal counts corrected workload counters.
	ReconcileDiscrepanciesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aegishub_workload_reconcile_discrepancies_total",
		Help: "Workload counters corrected by reconciliation.",
	})
)

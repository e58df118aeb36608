// Package metrics provides Prometheus metrics for the canon service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IdentifiersParsed counts parsed raw identifiers by hierarchy depth
	IdentifiersParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canon",
			Subsystem: "hierarchy",
			Name:      "identifiers_parsed_total",
			Help:      "Total number of raw identifiers parsed by hierarchy depth",
		},
		[]string{"depth", "ambiguous"},
	)

	// AliasConflicts counts conflicts surfaced by the auditor
	AliasConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "canon",
			Subsystem: "audit",
			Name:      "alias_conflicts_total",
			Help:      "Total number of alias conflicts detected",
		},
	)

	// EntitiesCreated counts entities created while resolving identifiers
	EntitiesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canon",
			Subsystem: "resolver",
			Name:      "entities_created_total",
			Help:      "Total number of entities created during identifier resolution",
		},
		[]string{"entity_type"},
	)

	// PrimaryChanges counts primary-record transitions
	PrimaryChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canon",
			Subsystem: "primary",
			Name:      "changes_total",
			Help:      "Total number of primary record changes by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// AssignmentsOpened counts assignment periods opened
	AssignmentsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canon",
			Subsystem: "assignment",
			Name:      "opened_total",
			Help:      "Total number of assignment periods opened by source",
		},
		[]string{"source"},
	)

	// RecomputeRuns counts recompute runs by final status
	RecomputeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canon",
			Subsystem: "recompute",
			Name:      "runs_total",
			Help:      "Total number of recompute runs by status",
		},
		[]string{"status"},
	)

	// RecomputeEntities counts per-entity recompute outcomes
	RecomputeEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canon",
			Subsystem: "recompute",
			Name:      "entities_total",
			Help:      "Total number of entities recomputed by outcome",
		},
		[]string{"outcome"},
	)

	// RecomputeDuration tracks recompute run duration in seconds
	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "canon",
			Subsystem: "recompute",
			Name:      "run_duration_seconds",
			Help:      "Duration of recompute runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	// MessagesConsumed counts kafka messages by type and result
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canon",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of kafka messages consumed by type and status",
		},
		[]string{"type", "status"},
	)

	// MessagesPublished counts kafka messages published by type
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canon",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of kafka messages published by type and status",
		},
		[]string{"type", "status"},
	)

	// HTTPRequestDuration tracks admin API latency by route template
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "canon",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests by method, route and status class",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

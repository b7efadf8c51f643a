// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the policy registry.
//
// Metrics cover the write path (revision creation, auto-supersession,
// overlap rejections, ingests) and the derived chunk index (upserts,
// deletes, searches). Exposed via the /metrics endpoint.
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "bbug"

const registrySubsystem = "policy_registry"

// RegistryMetrics holds all Prometheus metrics for the registry service.
type RegistryMetrics struct {
	// RevisionsCreatedTotal counts created revisions by policy source.
	RevisionsCreatedTotal *prometheus.CounterVec

	// AutoSupersessionsTotal counts open-ended revisions truncated as a
	// side effect of a newer revision's creation.
	AutoSupersessionsTotal *prometheus.CounterVec

	// OverlapRejectionsTotal counts create_revision calls rejected for an
	// unresolvable interval conflict.
	OverlapRejectionsTotal *prometheus.CounterVec

	// IngestsTotal counts ingest attempts by terminal status.
	// Labels: status (active, failed)
	IngestsTotal *prometheus.CounterVec

	// ChunksUpsertedTotal counts chunk records written to the vector index.
	ChunksUpsertedTotal prometheus.Counter

	// ChunksDeletedTotal counts chunk records deleted from the vector index.
	ChunksDeletedTotal prometheus.Counter

	// SearchesTotal counts similarity searches by whether a temporal
	// filter was applied.
	// Labels: dated (true, false)
	SearchesTotal *prometheus.CounterVec

	// IngestDurationSeconds measures end-to-end ingest duration.
	IngestDurationSeconds prometheus.Histogram
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics.
var DefaultMetrics *RegistryMetrics

// InitMetrics creates and registers all registry metrics with the default
// Prometheus registry. Call once at startup; panics on double registration.
func InitMetrics() *RegistryMetrics {
	DefaultMetrics = &RegistryMetrics{
		RevisionsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: registrySubsystem,
				Name:      "revisions_created_total",
				Help:      "Total revisions created, by policy source",
			},
			[]string{"source"},
		),
		AutoSupersessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: registrySubsystem,
				Name:      "auto_supersessions_total",
				Help:      "Open-ended revisions truncated by a newer revision",
			},
			[]string{"source"},
		),
		OverlapRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: registrySubsystem,
				Name:      "overlap_rejections_total",
				Help:      "Revision creations rejected for interval overlap",
			},
			[]string{"source"},
		),
		IngestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: registrySubsystem,
				Name:      "ingests_total",
				Help:      "Ingest attempts by terminal revision status",
			},
			[]string{"status"},
		),
		ChunksUpsertedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: registrySubsystem,
				Name:      "chunks_upserted_total",
				Help:      "Chunk records written to the vector index",
			},
		),
		ChunksDeletedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: registrySubsystem,
				Name:      "chunks_deleted_total",
				Help:      "Chunk records deleted from the vector index",
			},
		),
		SearchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: registrySubsystem,
				Name:      "searches_total",
				Help:      "Similarity searches by presence of a temporal filter",
			},
			[]string{"dated"},
		),
		IngestDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: registrySubsystem,
				Name:      "ingest_duration_seconds",
				Help:      "End-to-end ingest duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
	}
	return DefaultMetrics
}

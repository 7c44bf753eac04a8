// Package metrics registers the Prometheus counters the worker and
// sweeper emit (spec.md §4.6/§4.7), grounded on the
// promauto.NewCounterVec idiom in estuary-flow/go/network/metrics.go
// (the teacher imports client_golang but never builds any collectors of
// its own).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DocumentsProcessed counts worker job outcomes, labeled "success",
// "failure", or "dlq".
var DocumentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docpipeline_documents_processed_total",
	Help: "Count of document processing outcomes by result.",
}, []string{"outcome"})

// SweeperRequeued counts stale entries returned to MAIN by the sweeper.
var SweeperRequeued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "docpipeline_sweeper_requeued_total",
	Help: "Count of stale processing-queue entries requeued by the sweeper.",
})

// SweeperMovedToDLQ counts stale entries quarantined by the sweeper.
var SweeperMovedToDLQ = promauto.NewCounter(prometheus.CounterOpts{
	Name: "docpipeline_sweeper_moved_to_dlq_total",
	Help: "Count of stale processing-queue entries moved to the dead-letter queue by the sweeper.",
})

// SweeperSkipped counts entries the sweeper inspected but left alone.
var SweeperSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "docpipeline_sweeper_skipped_total",
	Help: "Count of processing-queue entries skipped by the sweeper (fresh or mid-enrichment).",
})

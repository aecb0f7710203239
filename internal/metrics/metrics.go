// Package metrics exposes Prometheus instrumentation for the index and
// the search/indexing pipelines. Collectors are registered on the default
// registry; main optionally serves them via promhttp when
// HUBGREP_METRICS_ADDR is set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InsertsTotal counts vectors inserted into the graph
	InsertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hubgrep",
		Subsystem: "index",
		Name:      "inserts_total",
		Help:      "Total number of vectors inserted into the index.",
	})

	// DeletesTotal counts vectors removed from the graph
	DeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hubgrep",
		Subsystem: "index",
		Name:      "deletes_total",
		Help:      "Total number of vectors deleted from the index.",
	})

	// SearchesTotal counts index search calls
	SearchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hubgrep",
		Subsystem: "index",
		Name:      "searches_total",
		Help:      "Total number of index searches.",
	})

	// RecomputeCallsTotal counts on-demand leaf embedding recomputations
	RecomputeCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hubgrep",
		Subsystem: "index",
		Name:      "recompute_calls_total",
		Help:      "Total number of on-demand embedding recomputations during search.",
	})

	// RecomputeBudgetExhaustedTotal counts searches truncated by the recompute budget
	RecomputeBudgetExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hubgrep",
		Subsystem: "index",
		Name:      "recompute_budget_exhausted_total",
		Help:      "Searches that returned partial results after exhausting the recompute budget.",
	})

	// PruningPassesTotal counts completed pruning passes
	PruningPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hubgrep",
		Subsystem: "index",
		Name:      "pruning_passes_total",
		Help:      "Total number of completed edge-pruning passes.",
	})

	// NodeCount tracks the live node count
	NodeCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hubgrep",
		Subsystem: "index",
		Name:      "nodes",
		Help:      "Current number of live nodes in the index.",
	})

	// HubCount tracks the hub cache size
	HubCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hubgrep",
		Subsystem: "index",
		Name:      "hubs",
		Help:      "Current number of hub nodes with cached embeddings.",
	})

	// SearchDuration observes end-to-end search latency
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hubgrep",
		Subsystem: "search",
		Name:      "duration_seconds",
		Help:      "End-to-end search latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// EmbeddingDuration observes embedding provider latency
	EmbeddingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hubgrep",
		Subsystem: "embedding",
		Name:      "duration_seconds",
		Help:      "Embedding provider call latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// SnapshotSaves counts persisted snapshots
	SnapshotSaves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hubgrep",
		Subsystem: "persist",
		Name:      "snapshot_saves_total",
		Help:      "Total number of index snapshots written to disk.",
	})

	// SnapshotSkips counts saves skipped by the anti-clobber guard
	SnapshotSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hubgrep",
		Subsystem: "persist",
		Name:      "snapshot_skips_total",
		Help:      "Snapshot saves skipped because an empty index would have overwritten a non-empty snapshot.",
	})
)

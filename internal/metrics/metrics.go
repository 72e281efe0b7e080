package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics
var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfolders_scans_total",
			Help: "Total number of catalog scans",
		},
		[]string{"trigger"}, // "start", "mutation", "read"
	)

	ItemsScanned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plfolders_items_scanned",
			Help: "Number of playlists found by the most recent scan",
		},
	)

	StaleScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plfolders_stale_scans_total",
			Help: "Scan results discarded because the cache was invalidated while they ran",
		},
	)

	FilterPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfolders_filter_passes_total",
			Help: "Total number of filter passes applied to the page",
		},
		[]string{"selection"}, // "all", "unassigned", "folder"
	)

	SelectionResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plfolders_selection_resets_total",
			Help: "Selections reset to all because their folder no longer exists",
		},
	)

	MutationBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfolders_mutation_batches_total",
			Help: "Mutation batches received from the page",
		},
		[]string{"outcome"}, // "debounced", "ignored", "loading"
	)

	LazyLoadSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plfolders_lazy_load_steps",
			Help:    "Scroll steps taken before the playlist count stabilised",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)
)

// Store metrics
var (
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plfolders_store_errors_total",
			Help: "Durable store operations that failed",
		},
		[]string{"op"},
	)
)

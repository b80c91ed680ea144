// Package metrics holds the process-local Prometheus collectors this module
// exposes: scan and stage durations, cache hit/miss counts, and fetcher
// retry counts. These are in-process collectors only; exposing them over an
// endpoint is the embedding program's concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanDuration records wall-clock time for one full Scan call, labeled
	// by whether it completed or was aborted by a fatal rate limit.
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "slopguard",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a Scan call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// StageDuration records wall-clock time spent in each trust-scoring
	// stage, labeled by stage number.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "slopguard",
			Subsystem: "trust",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of one trust-scoring stage.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// CacheResult counts cache lookups, labeled hit/miss.
	CacheResult = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slopguard",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total cache lookups by result.",
		},
		[]string{"result"},
	)

	// FetchRetries counts HTTP fetch attempts beyond the first, labeled by
	// the reason a retry was taken.
	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slopguard",
			Subsystem: "fetcher",
			Name:      "retries_total",
			Help:      "Total HTTP fetch retries by reason.",
		},
		[]string{"reason"},
	)

	// PackagesScanned counts evaluated packages by terminal action.
	PackagesScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slopguard",
			Subsystem: "scan",
			Name:      "packages_total",
			Help:      "Total packages evaluated, labeled by terminal action.",
		},
		[]string{"action"},
	)
)

// Package metrics defines the Prometheus instrumentation shared across the
// query, ingest, and sync subsystems. See SPEC_FULL.md §2 component 11.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryLabels = []string{"mode", "success"}

	// QueryDuration observes planner.Search latency, labeled by the route
	// taken ("structured" or "semantic") and whether the call returned an
	// error.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rpmqd",
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Planner search duration by routing mode.",
	}, queryLabels)

	// QueryTotal counts planner.Search calls by route and outcome.
	QueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rpmqd",
		Subsystem: "query",
		Name:      "total",
		Help:      "Planner search invocations by routing mode.",
	}, queryLabels)

	ingestLabels = []string{"repository"}

	// IngestDiffSize observes the added, updated and removed counts of each
	// applied incremental-ingest diff as separate observations, labeled by
	// repository and kind ("added", "updated", "removed").
	IngestDiffSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rpmqd",
		Subsystem: "ingest",
		Name:      "diff_size",
		Help:      "Packages added, updated, or removed per ingest run.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"repository", "kind"})

	// IngestDuration observes ingest.Apply wall-clock time.
	IngestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rpmqd",
		Subsystem: "ingest",
		Name:      "duration_seconds",
		Help:      "Incremental ingest diff application duration.",
	}, ingestLabels)

	syncLabels = []string{"repository", "outcome"}

	// SyncAttemptTotal counts sync state machine runs by terminal outcome
	// ("success", "no_change", "failure").
	SyncAttemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rpmqd",
		Subsystem: "sync",
		Name:      "attempt_total",
		Help:      "Sync state machine runs by repository and terminal outcome.",
	}, syncLabels)

	// SyncDuration observes one full sync state machine run, repomd fetch
	// through Recording.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rpmqd",
		Subsystem: "sync",
		Name:      "duration_seconds",
		Help:      "Sync state machine run duration by repository.",
	}, []string{"repository"})
)

// ObserveQuery records a planner.Search call's latency and outcome.
func ObserveQuery(mode string, start time.Time, err error) {
	QueryDuration.WithLabelValues(mode, successLabel(err)).Observe(time.Since(start).Seconds())
	QueryTotal.WithLabelValues(mode, successLabel(err)).Inc()
}

// ObserveIngest records an applied diff's size and the time it took.
func ObserveIngest(repository string, start time.Time, added, updated, removed int) {
	IngestDuration.WithLabelValues(repository).Observe(time.Since(start).Seconds())
	IngestDiffSize.WithLabelValues(repository, "added").Observe(float64(added))
	IngestDiffSize.WithLabelValues(repository, "updated").Observe(float64(updated))
	IngestDiffSize.WithLabelValues(repository, "removed").Observe(float64(removed))
}

// ObserveSync records a completed sync attempt's duration and outcome.
func ObserveSync(repository, outcome string, start time.Time) {
	SyncDuration.WithLabelValues(repository).Observe(time.Since(start).Seconds())
	SyncAttemptTotal.WithLabelValues(repository, outcome).Inc()
}

func successLabel(err error) string {
	if err != nil {
		return "false"
	}
	return "true"
}

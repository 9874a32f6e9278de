// Package metrics exposes Prometheus collectors for entitlement
// resolution activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_resolutions_total",
			Help: "Total number of entitlement state resolutions by resolved state",
		},
		[]string{"state"},
	)

	resolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entitlements_resolve_duration_seconds",
			Help:    "Time taken to resolve an entitlement state",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 10),
		},
	)

	planDowngradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_plan_downgrades_total",
			Help: "Resolutions where the effective plan fell back below the actual plan",
		},
		[]string{"actual", "effective"},
	)

	snapshotVerifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_snapshot_verify_failures_total",
			Help: "Signed subscription snapshots that failed verification",
		},
	)

	feedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entitlements_feed_clients",
			Help: "Currently connected resolution feed clients",
		},
	)

	journalEventsBuffered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "entitlements_journal_events_buffered",
			Help: "Resolution events waiting in the journal write buffer",
		},
	)
)

// RecordResolution tracks one resolution outcome and its latency.
func RecordResolution(state string, duration time.Duration) {
	resolutionsTotal.WithLabelValues(state).Inc()
	resolutionDuration.Observe(duration.Seconds())
}

// RecordPlanDowngrade tracks a resolution whose effective plan dropped
// below the subscription's actual plan.
func RecordPlanDowngrade(actual, effective string) {
	planDowngradesTotal.WithLabelValues(actual, effective).Inc()
}

// RecordSnapshotVerifyFailure tracks a rejected signed snapshot.
func RecordSnapshotVerifyFailure() {
	snapshotVerifyFailures.Inc()
}

// SetFeedClients reports the current websocket feed client count.
func SetFeedClients(n int) {
	feedClients.Set(float64(n))
}

// SetJournalBuffered reports the journal's pending write-buffer depth.
func SetJournalBuffered(n int) {
	journalEventsBuffered.Set(float64(n))
}

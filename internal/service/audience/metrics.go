package audience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cymasphere/cymasphere-website-sub009/internal/domain"
)

var (
	reachRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audience_reach_requests_total",
			Help: "Reach requests by mode",
		},
		[]string{"mode"},
	)

	reachDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audience_reach_duration_seconds",
			Help:    "Time to compute the reach of one campaign selection",
			Buckets: prometheus.DefBuckets,
		},
	)

	batchItemFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audience_batch_reach_item_failures_total",
			Help: "Batch reach items reported as zero after a failure",
		},
	)

	resolutionWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audience_resolution_warnings_total",
			Help: "Audiences or rules that contributed nothing, by kind",
		},
		[]string{"kind"},
	)

	countRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audience_count_refreshes_total",
			Help: "subscriber_count refreshes by result",
		},
		[]string{"result"},
	)
)

func observeWarnings(warnings []domain.ResolutionWarning) {
	for _, w := range warnings {
		resolutionWarnings.WithLabelValues(string(w.Kind)).Inc()
	}
}

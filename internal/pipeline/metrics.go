package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustscore_evaluations_total",
			Help: "Evaluations by the status they settled in after a pipeline call",
		},
		[]string{"status"},
	)

	reviewEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustscore_review_enqueued_total",
			Help: "Evaluations sent to human review, by priority",
		},
		[]string{"priority"},
	)

	driftAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustscore_drift_alerts_total",
			Help: "Drift alerts returned by drift checks, by severity",
		},
		[]string{"severity"},
	)

	lastTrustScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustscore_last_trust_score",
		Help: "Overall trust score of the most recently completed evaluation",
	})

	submitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trustscore_submit_duration_seconds",
		Help:    "Wall time of Submit, judge retries included",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})
)

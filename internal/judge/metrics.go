package judge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var judgeAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trustscore_judge_attempts_total",
		Help: "Judge calls by provider and outcome (ok, unavailable, malformed, rejected, cancelled)",
	},
	[]string{"provider", "outcome"},
)

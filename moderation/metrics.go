package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var moderateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "sentinel_moderate_duration_sec",
	Help: "Total duration of moderation decisions",
})

var decisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_decisions",
	Help: "Number of moderation decisions, by final action",
}, []string{"action"})

var matcherHitCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_matcher_hits",
	Help: "Number of decisions resolved by each pipeline stage",
}, []string{"stage"})

var stageDowngradeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_stage_downgrades",
	Help: "Number of decisions downgraded by deployment stage",
}, []string{"stage"})

var resultCacheCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_result_cache",
	Help: "Result cache lookups, by outcome",
}, []string{"outcome"})

var moderateErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentinel_moderate_errors",
	Help: "Number of moderation requests that failed",
})

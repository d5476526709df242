package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// searchTotal counts searches by outcome
	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "critidx_search_total",
		Help: "Total searches by result",
	}, []string{"result"})

	// searchDuration tracks search latency including validation
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "critidx_search_duration_seconds",
		Help:    "Search duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.000005, 2, 16), // 5us to ~160ms
	})

	// searchCandidates tracks candidates produced by the index before validation
	searchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "critidx_search_candidates",
		Help:    "Candidate criteria per search before validation",
		Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000, 5000},
	})

	// mutationTotal counts group mutations by operation and result
	mutationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "critidx_mutation_total",
		Help: "Total group mutations by operation and result",
	}, []string{"operation", "result"})

	// groupCriteria tracks criteria per group
	groupCriteria = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "critidx_group_criteria",
		Help: "Criteria indexed per group",
	}, []string{"group"})

	// ratifyRuns counts ratification runs by mode and status
	ratifyRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "critidx_ratify_runs_total",
		Help: "Total ratification runs by mode and status",
	}, []string{"mode", "status"})

	// ratifyAnomalies counts anomalies by kind
	ratifyAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "critidx_ratify_anomalies_total",
		Help: "Total ratification anomalies by kind",
	}, []string{"kind"})

	// ratifyDuration tracks ratification run latency
	ratifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "critidx_ratify_duration_seconds",
		Help:    "Ratification run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReplayOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rioforms_replay_outcomes_total",
			Help: "Queued submissions by replay outcome",
		},
		[]string{"outcome"},
	)

	ReplayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "rioforms_replay_drain_duration_seconds",
			Help: "Duration of one queue drain in seconds",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rioforms_queue_depth",
			Help: "Submissions waiting in the local queue",
		},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rioforms_cache_requests_total",
			Help: "Requests handled by the cache intermediary",
		},
		[]string{"class", "result"},
	)

	PreloadRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rioforms_preload_runs_total",
			Help: "Catalog preload runs by result",
		},
		[]string{"result"},
	)

	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rioforms_online",
			Help: "1 when the upstream origin is reachable",
		},
	)
)

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_turns_total",
			Help: "Total number of turn generations by terminal status.",
		},
		[]string{"status"},
	)
	turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrator_turn_duration_seconds",
			Help:    "Histogram of full turn durations from start to persist.",
			Buckets: prometheus.ExponentialBuckets(2, 2, 8),
		},
		[]string{"status"},
	)
	responsesCollected = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrator_turn_responses_collected",
			Help:    "Histogram of collected player responses per turn.",
			Buckets: prometheus.LinearBuckets(0, 1, 12),
		},
		[]string{"outcome"},
	)
)

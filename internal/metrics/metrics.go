package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DoorsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doorstep_doors_recorded_total",
			Help: "Total number of doors recorded in sessions",
		},
	)

	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doorstep_sessions_started_total",
			Help: "Total number of canvassing sessions started",
		},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorstep_sessions_completed_total",
			Help: "Total number of sessions completed, by how they ended",
		},
		[]string{"reason"},
	)

	SeriesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "doorstep_series_completed_total",
			Help: "Total number of 10-door series completed",
		},
	)

	AchievementsUnlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorstep_achievements_unlocked_total",
			Help: "Total number of achievements unlocked",
		},
		[]string{"achievement"},
	)

	OpenSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "doorstep_open_sessions",
			Help: "Open sessions seen by the last inactivity sweep",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doorstep_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// Completion reasons for SessionsCompleted.
const (
	ReasonEnded     = "ended"
	ReasonAbandoned = "abandoned"
	ReasonInactive  = "inactive"
)

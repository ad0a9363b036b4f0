// Package metrics holds the dashboard's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TelemetryPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_polls_total",
			Help: "Telemetry endpoint polls by result",
		},
		[]string{"result"},
	)

	TelemetryLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_last_success_timestamp_seconds",
			Help: "Unix time of the last successful telemetry poll",
		},
	)

	TelemetryHistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_history_readings",
			Help: "Readings in the current history window",
		},
	)

	TokenFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewer_token_fetches_total",
			Help: "Viewer access token fetches by result",
		},
		[]string{"result"},
	)

	ReadingsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_published_total",
			Help: "Readings written to the reading stream by result",
		},
		[]string{"result"},
	)

	ViewerSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "viewer_sessions_active",
			Help: "Connected 3D viewer sessions",
		},
	)

	ChartRenders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chart_renders_total",
			Help: "Charts rendered by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// Poll results
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

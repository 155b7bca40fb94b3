package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamemaster_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamemaster_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamemaster_turns_total",
			Help: "Total completion turns by outcome",
		},
		[]string{"outcome"}, // "completed", "failed", "cancelled", "rejected"
	)

	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamemaster_stream_events_total",
			Help: "Total classified upstream stream events",
		},
		[]string{"kind"}, // "content", "reasoning", "error", "done", "skipped"
	)

	TitleGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamemaster_title_generations_total",
			Help: "Total title generation attempts",
		},
		[]string{"result"}, // "generated" or "fallback"
	)

	// Upstream metrics
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamemaster_upstream_request_duration_seconds",
			Help:    "OpenRouter request duration",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind"}, // "stream", "completion", "models"
	)

	ModelCatalogRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamemaster_model_catalog_refreshes_total",
			Help: "Total model catalog fetches that missed the cache",
		},
	)
)

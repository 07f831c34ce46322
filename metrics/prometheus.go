package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// TileRequests counts tile responses by outcome: rendered, empty,
	// cached, not_modified or error.
	TileRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satgate_tile_requests_total",
			Help: "Tile requests by outcome",
		},
		[]string{"outcome"},
	)

	TileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "satgate_tile_duration_seconds",
			Help:    "Time to compose one tile",
			Buckets: prometheus.DefBuckets,
		},
	)

	RasterReads = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satgate_raster_read_duration_seconds",
			Help:    "Duration of raster source reads",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"op"},
	)

	RasterReadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satgate_raster_read_errors_total",
			Help: "Failed raster reads by error kind",
		},
		[]string{"kind"},
	)

	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satgate_job_transitions_total",
			Help: "Job status writes by job type and status",
		},
		[]string{"type", "status"},
	)

	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satgate_catalog_requests_total",
			Help: "Catalog requests by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "satgate_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satgate_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		},
		[]string{"route", "code"},
	)
)

// RecordBreakerState is the OnStateChange hook shared by every breaker.
func RecordBreakerState(name string, _ gobreaker.State, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	BreakerState.WithLabelValues(name).Set(v)
}

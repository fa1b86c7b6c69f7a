// Package metrics holds the Prometheus collectors for the fetch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchResults counts upstream fetches per city by outcome:
	// "ok", "rate_limited", "http_error", "failed".
	FetchResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showtime_fetch_results_total",
			Help: "Upstream showtime fetches by city and outcome",
		},
		[]string{"city", "outcome"},
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showtime_fetch_retries_total",
			Help: "Retries issued after recoverable transport failures",
		},
		[]string{"operation"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "showtime_fetch_duration_seconds",
			Help:    "Duration of a single upstream HTTP attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"city"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showtime_cache_lookups_total",
			Help: "TTL cache lookups by result (hit or miss)",
		},
		[]string{"result"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "showtime_circuit_breaker_state",
			Help: "Upstream circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CityOccupancy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "showtime_city_occupancy_percent",
			Help: "Last computed occupancy per city",
		},
		[]string{"city"},
	)

	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "showtime_refreshes_total",
			Help: "Result set refreshes by source and outcome",
		},
		[]string{"source", "outcome"},
	)
)

// Package metrics holds the Prometheus collectors for the app. They are
// registered with the default registry at init and served on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lease pool metrics, labelled by pool name.
	PoolActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snippets_pool_active_leases",
			Help: "Leases currently checked out",
		},
		[]string{"pool"},
	)

	PoolIdle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snippets_pool_idle_leases",
			Help: "Lease tokens waiting in the idle set",
		},
		[]string{"pool"},
	)

	PoolWaiting = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snippets_pool_waiting",
			Help: "Callers blocked in Acquire",
		},
		[]string{"pool"},
	)

	PoolMinted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippets_pool_minted_total",
			Help: "Lease tokens ever created",
		},
		[]string{"pool"},
	)

	PoolAcquireWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snippets_pool_acquire_wait_seconds",
			Help:    "Time spent waiting for a lease",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"},
	)

	PoolAcquireTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippets_pool_acquire_timeouts_total",
			Help: "Acquire calls that gave up waiting",
		},
		[]string{"pool"},
	)

	// Feed metrics
	FeedSectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippets_feed_section_errors_total",
			Help: "Feed loads where a section failed, by section",
		},
		[]string{"section"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snippets_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snippets_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(PoolActive)
	prometheus.MustRegister(PoolIdle)
	prometheus.MustRegister(PoolWaiting)
	prometheus.MustRegister(PoolMinted)
	prometheus.MustRegister(PoolAcquireWait)
	prometheus.MustRegister(PoolAcquireTimeouts)
	prometheus.MustRegister(FeedSectionErrors)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

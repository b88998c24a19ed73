// README: Prometheus collectors for the ride lifecycle, matching and tracking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridelink"

var (
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Successful ride status transitions"},
		[]string{"from", "to"},
	)
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accept_conflicts_total", Help: "Accept attempts that lost the race"})
	AcceptRollbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accept_rollbacks_total", Help: "Accepts rolled back after a failed verification read"})

	FareQuotes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "fare_quotes_total", Help: "Fare quotes by result"},
		[]string{"result"},
	)

	LocationPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_publishes_total", Help: "Location samples published by result"},
		[]string{"result"},
	)

	HistoryFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "history_mirror_failures_total", Help: "Failed writes to the ride history mirror"})
	HistoryPending  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "history_mirror_pending", Help: "Rides with unsynced history patches"})

	SearchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "matching_search_results",
		Help:      "Number of rides returned per driver search",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Push notifications by result"},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

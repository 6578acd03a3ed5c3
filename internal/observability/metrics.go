// README: Prometheus collectors for HTTP traffic and pool-ride workflow events.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "glideway"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "route", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	SearchesTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "searches_total", Help: "Pool ride searches executed"})
	SearchResultsTotal = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "search_results", Help: "Offers returned per search", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100}})
	OffersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_created_total", Help: "Pool ride offers created"})

	SeatTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "seat_transitions_total", Help: "Passenger request transitions by target status"},
		[]string{"to"},
	)
	RecurringInstancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "recurring_instances_total", Help: "Recurring instance expansion outcomes"},
		[]string{"result"},
	)
	NotificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_failed_total", Help: "Notification deliveries that failed"},
		[]string{"channel"},
	)
	RealtimeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_subscribers", Help: "Open realtime websocket connections"})
)

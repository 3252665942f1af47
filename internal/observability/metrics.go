package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fleet_availability"

var (
	AvailabilityChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "checks_total", Help: "Availability checks by outcome"},
		[]string{"outcome"},
	)
	CheckLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "check_latency_seconds", Help: "Availability check latency seconds"})
	Candidates   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "candidates_total", Help: "Vehicle/driver pairs evaluated by source"},
		[]string{"source"},
	)
	Alternatives = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "alternatives_total", Help: "Unavailable pairs returned as alternatives by reason"},
		[]string{"reason"},
	)

	TimezoneResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "timezone_resolutions_total", Help: "Timezone resolutions by source (table, lookup, cache, fallback)"},
		[]string{"source"},
	)
	Degradations = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "degradations_total", Help: "Collaborator failures absorbed by a fallback"},
		[]string{"service"},
	)

	ExtraSchedules = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "extra_schedules_total", Help: "Extra schedule mutations by action and result"},
		[]string{"action", "result"},
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

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mozzafiato"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Local API requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Batch submissions by category and result.",
		},
		[]string{"category", "result"},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of one drain-and-refresh invocation.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending records per category.",
		},
		[]string{"category"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Intercepted reads by how they were answered.",
		},
		[]string{"outcome"},
	)

	online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the remote store is reachable.",
		},
	)

	gatewayFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_operations_total",
			Help:      "Fail-soft operations that swallowed an error, by operation.",
		},
		[]string{"op"},
	)
)

// Lookup outcomes for intercepted reads.
const (
	OutcomeNetwork = "network"
	OutcomeStale   = "stale"
	OutcomeShell   = "shell"
	OutcomeMiss    = "miss"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			syncAttempts,
			syncDuration,
			queueDepth,
			cacheLookups,
			online,
			gatewayFailures,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ObserveSync(category string, succeeded bool) {
	result := "failure"
	if succeeded {
		result = "success"
	}
	syncAttempts.WithLabelValues(category, result).Inc()
}

func ObserveSyncDuration(d time.Duration) {
	syncDuration.Observe(d.Seconds())
}

func SetQueueDepth(category string, n int) {
	queueDepth.WithLabelValues(category).Set(float64(n))
}

func IncCacheLookup(outcome string) {
	cacheLookups.WithLabelValues(outcome).Inc()
}

func SetOnline(up bool) {
	if up {
		online.Set(1)
		return
	}
	online.Set(0)
}

// IncDegraded counts a failure absorbed by a fail-soft boundary.
func IncDegraded(op string, _ error) {
	gatewayFailures.WithLabelValues(op).Inc()
}

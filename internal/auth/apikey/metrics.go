package apikey

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// Metrics holds Prometheus metrics for API key verification.
type Metrics struct {
	verifyTotal    *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
	candidates     prometheus.Histogram
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	storeCalls     *prometheus.CounterVec
	storeDuration  *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec
}

// NewMetrics creates unregistered API key metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "authn"
	}

	return &Metrics{
		verifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "apikey",
				Name:      "verify_total",
				Help:      "Total number of API key verification attempts",
			},
			[]string{"status", "reason"},
		),
		verifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "apikey",
				Name:      "verify_duration_seconds",
				Help:      "API key verification duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"status"},
		),
		candidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "apikey",
				Name:      "prefix_candidates",
				Help:      "Number of stored records sharing the presented prefix",
				Buckets:   []float64{0, 1, 2, 3, 5, 10},
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "apikey",
				Name:      "cache_hits_total",
				Help:      "Total number of verified identity cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "apikey",
				Name:      "cache_misses_total",
				Help:      "Total number of verified identity cache misses",
			},
		),
		storeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "calls_total",
				Help:      "Total number of API key store calls",
			},
			[]string{"store", "op", "status"},
		),
		storeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "call_duration_seconds",
				Help:      "API key store call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store", "op"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "circuit_breaker_state",
				Help:      "Store circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"store"},
		),
	}
}

// Register registers the metrics, ignoring duplicates.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return observability.Register(reg,
		m.verifyTotal, m.verifyDuration, m.candidates,
		m.cacheHits, m.cacheMisses,
		m.storeCalls, m.storeDuration, m.breakerState,
	)
}

// RecordVerify records one verification outcome.
func (m *Metrics) RecordVerify(status, reason string, d time.Duration) {
	m.verifyTotal.WithLabelValues(status, reason).Inc()
	m.verifyDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordCandidates records the size of a prefix bucket.
func (m *Metrics) RecordCandidates(n int) {
	m.candidates.Observe(float64(n))
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Inc() }

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Inc() }

// RecordStoreCall records one store call.
func (m *Metrics) RecordStoreCall(store, op string, ok bool, d time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.storeCalls.WithLabelValues(store, op, status).Inc()
	m.storeDuration.WithLabelValues(store, op).Observe(d.Seconds())
}

// RecordBreakerState records the breaker state for a store.
func (m *Metrics) RecordBreakerState(store string, state int) {
	m.breakerState.WithLabelValues(store).Set(float64(state))
}

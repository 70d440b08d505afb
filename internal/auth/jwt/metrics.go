package jwt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// Metrics holds Prometheus metrics for JWT operations.
type Metrics struct {
	validationTotal    *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	signingTotal       *prometheus.CounterVec
	refreshTotal       *prometheus.CounterVec
	refreshDuration    *prometheus.HistogramVec
	trustedKeys        prometheus.Gauge
}

// NewMetrics creates unregistered JWT metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "authn"
	}

	return &Metrics{
		validationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "validation_total",
				Help:      "Total number of JWT validation attempts",
			},
			[]string{"status", "reason"},
		),
		validationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "validation_duration_seconds",
				Help:      "JWT validation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"status"},
		),
		signingTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "signing_total",
				Help:      "Total number of JWT signing attempts",
			},
			[]string{"status", "algorithm"},
		),
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "key_refresh_total",
				Help:      "Total number of trusted key refreshes",
			},
			[]string{"source", "status"},
		),
		refreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "key_refresh_duration_seconds",
				Help:      "Trusted key refresh duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"source"},
		),
		trustedKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "trusted_keys",
				Help:      "Number of keys in the published trusted key snapshot",
			},
		),
	}
}

// Register registers the metrics, ignoring duplicates.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return observability.Register(reg,
		m.validationTotal, m.validationDuration, m.signingTotal,
		m.refreshTotal, m.refreshDuration, m.trustedKeys,
	)
}

// RecordValidation records one validation outcome.
func (m *Metrics) RecordValidation(status, reason string, d time.Duration) {
	m.validationTotal.WithLabelValues(status, reason).Inc()
	m.validationDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordSigning records a signing attempt.
func (m *Metrics) RecordSigning(status, algorithm string) {
	m.signingTotal.WithLabelValues(status, algorithm).Inc()
}

// RecordRefresh records a key refresh.
func (m *Metrics) RecordRefresh(source string, ok bool, d time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.refreshTotal.WithLabelValues(source, status).Inc()
	m.refreshDuration.WithLabelValues(source).Observe(d.Seconds())
}

// SetTrustedKeys records the published key count.
func (m *Metrics) SetTrustedKeys(n int) {
	m.trustedKeys.Set(float64(n))
}

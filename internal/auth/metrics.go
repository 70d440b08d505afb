package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// Metrics holds Prometheus metrics for credential dispatch.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	failureTotal    *prometheus.CounterVec
	throttledTotal  prometheus.Counter
}

// NewMetrics creates unregistered dispatcher metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "authn"
	}

	return &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "requests_total",
				Help:      "Total number of authentication requests",
			},
			[]string{"transport", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "request_duration_seconds",
				Help:      "Authentication request duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"transport", "method"},
		),
		failureTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "failure_total",
				Help:      "Total number of failed authentications by kind",
			},
			[]string{"method", "kind"},
		),
		throttledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "throttled_total",
				Help:      "Total number of requests refused after repeated failures",
			},
		),
	}
}

// Register registers the collectors on reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return observability.Register(reg,
		m.requestsTotal,
		m.requestDuration,
		m.failureTotal,
		m.throttledTotal,
	)
}

// Init pre-initializes label combinations so series appear before the
// first request.
func (m *Metrics) Init() {
	for _, transport := range []string{transportHTTP, transportGRPC} {
		for _, method := range []string{string(AuthTypeAPIKey), string(AuthTypeJWT), methodNone} {
			for _, status := range []string{"success", "failure"} {
				m.requestsTotal.WithLabelValues(transport, method, status)
			}
			m.requestDuration.WithLabelValues(transport, method)
		}
	}
}

// RecordRequest records one dispatch.
func (m *Metrics) RecordRequest(transport, method string, r Result, d time.Duration) {
	status := "success"
	if !r.Authenticated() {
		status = "failure"
		m.failureTotal.WithLabelValues(method, r.Kind().String()).Inc()
	}
	m.requestsTotal.WithLabelValues(transport, method, status).Inc()
	m.requestDuration.WithLabelValues(transport, method).Observe(d.Seconds())
}

// RecordThrottled records a request refused by the failure throttle.
func (m *Metrics) RecordThrottled() {
	m.throttledTotal.Inc()
}

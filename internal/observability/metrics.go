package observability

import (
	"errors"
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the Prometheus registry shared by every component of
// the service together with the service-level collectors.
type Registry struct {
	namespace string
	registry  *prometheus.Registry
	buildInfo *prometheus.GaugeVec
	reloads   *prometheus.CounterVec
}

// NewRegistry creates a registry preloaded with Go and process collectors.
func NewRegistry(namespace string) *Registry {
	if namespace == "" {
		namespace = "authn"
	}

	r := &Registry{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	r.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information of the running binary",
		},
		[]string{"version", "commit", "go_version"},
	)

	r.reloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of configuration reload attempts",
		},
		[]string{"status"},
	)

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.buildInfo,
		r.reloads,
	)

	return r
}

// Namespace returns the metric namespace.
func (r *Registry) Namespace() string {
	return r.namespace
}

// Registerer returns the underlying registerer for component metrics.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// SetBuildInfo records the build information gauge.
func (r *Registry) SetBuildInfo(version, commit string) {
	r.buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

// RecordReload counts a configuration reload attempt.
func (r *Registry) RecordReload(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	r.reloads.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler serving the registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Register registers collectors on reg, tolerating collectors that were
// already registered. It returns the first other error.
func Register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil && !IsAlreadyRegistered(err) {
			return err
		}
	}
	return nil
}

// IsAlreadyRegistered reports whether err is a duplicate registration.
func IsAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}

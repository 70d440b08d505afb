// Package observability provides logging, metrics, and tracing
// for the authentication service.
//
// # Logging
//
// The Logger interface wraps zap with a small field vocabulary:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("api key verified",
//	    observability.String("key_id", info.ID),
//	)
//
// Raw credentials are never passed to the logger. Key prefixes and
// key IDs are safe to log.
//
// # Metrics
//
// Registry bundles a Prometheus registry with process collectors and
// exposes it over HTTP:
//
//	reg := observability.NewRegistry("authn")
//	http.Handle("/metrics", reg.Handler())
//
// # Tracing
//
// NewTracer installs an OpenTelemetry tracer provider with an optional
// OTLP gRPC exporter.
package observability

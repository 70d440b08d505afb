package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// DefaultStoreTimeout bounds a single store call.
const DefaultStoreTimeout = 2 * time.Second

// BreakerSettings tunes the store circuit breaker.
type BreakerSettings struct {
	// MinRequests is the number of requests in a window before the breaker may trip.
	MinRequests uint32
	// FailureRatio trips the breaker once reached.
	FailureRatio float64
	// OpenTimeout is how long the breaker stays open.
	OpenTimeout time.Duration
	// Interval clears counts while closed.
	Interval time.Duration
}

// DefaultBreakerSettings returns conservative breaker settings.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:  10,
		FailureRatio: 0.5,
		OpenTimeout:  10 * time.Second,
		Interval:     30 * time.Second,
	}
}

// GuardedStore bounds every call to the wrapped store with a timeout and a
// circuit breaker. Every failure surfaces as ErrStoreUnavailable. Calls whose
// caller context is already done never reach the breaker, and cancellation
// during a call is not counted as a store failure.
type GuardedStore struct {
	next    Store
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics *Metrics
}

// GuardOption configures a GuardedStore.
type GuardOption func(*GuardedStore)

// WithGuardTimeout sets the per-call timeout.
func WithGuardTimeout(d time.Duration) GuardOption {
	return func(g *GuardedStore) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(logger observability.Logger) GuardOption {
	return func(g *GuardedStore) {
		g.logger = logger
	}
}

// WithGuardMetrics sets the metrics sink.
func WithGuardMetrics(m *Metrics) GuardOption {
	return func(g *GuardedStore) {
		g.metrics = m
	}
}

// NewGuardedStore wraps next. name labels logs and metrics.
func NewGuardedStore(next Store, name string, breaker BreakerSettings, opts ...GuardOption) *GuardedStore {
	g := &GuardedStore{
		next:    next,
		name:    name,
		timeout: DefaultStoreTimeout,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}

	def := DefaultBreakerSettings()
	if breaker.MinRequests == 0 {
		breaker.MinRequests = def.MinRequests
	}
	if breaker.FailureRatio <= 0 {
		breaker.FailureRatio = def.FailureRatio
	}
	if breaker.OpenTimeout <= 0 {
		breaker.OpenTimeout = def.OpenTimeout
	}

	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    breaker.Interval,
		Timeout:     breaker.OpenTimeout,
		// Caller cancellation is not a store failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breaker.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breaker.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("api key store circuit breaker state change",
				observability.String("store", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if g.metrics != nil {
				g.metrics.RecordBreakerState(name, int(to))
			}

			_, span := otel.Tracer(storeTracerName).Start(context.Background(),
				"apikey.store.breaker_state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("store.name", name),
				attribute.String("breaker.from", from.String()),
				attribute.String("breaker.to", to.String()),
			))
			span.End()
		},
	})

	return g
}

// FindByPrefix implements Store.
func (g *GuardedStore) FindByPrefix(ctx context.Context, prefix string) ([]*Record, error) {
	v, err := g.call(ctx, "find", func(ctx context.Context) (interface{}, error) {
		return g.next.FindByPrefix(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	records, _ := v.([]*Record)
	return records, nil
}

// IsRevoked implements Store.
func (g *GuardedStore) IsRevoked(ctx context.Context, record *Record) (bool, error) {
	v, err := g.call(ctx, "is_revoked", func(ctx context.Context) (interface{}, error) {
		return g.next.IsRevoked(ctx, record)
	})
	if err != nil {
		return false, err
	}
	revoked, _ := v.(bool)
	return revoked, nil
}

// State returns the breaker state.
func (g *GuardedStore) State() gobreaker.State {
	return g.cb.State()
}

func (g *GuardedStore) call(
	ctx context.Context, op string, fn func(context.Context) (interface{}, error),
) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		v   interface{}
		err error
	}

	v, err := g.cb.Execute(func() (interface{}, error) {
		// Returns at the deadline even when fn ignores ctx.
		done := make(chan result, 1)
		go func() {
			v, err := fn(ctx)
			done <- result{v: v, err: err}
		}()

		select {
		case r := <-done:
			return r.v, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	if g.metrics != nil {
		g.metrics.RecordStoreCall(g.name, op, err == nil, time.Since(start))
	}

	if err != nil {
		g.logger.Warn("api key store call failed",
			observability.String("store", g.name),
			observability.String("op", op),
			observability.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return v, nil
}

var _ Store = (*GuardedStore)(nil)

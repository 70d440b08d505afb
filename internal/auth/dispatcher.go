package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avauthn/internal/auth/apikey"
	"github.com/vyrodovalexey/avauthn/internal/auth/jwt"
	"github.com/vyrodovalexey/avauthn/internal/observability"
)

const (
	tracerName = "avauthn/auth"

	transportHTTP = "http"
	transportGRPC = "grpc"
	methodNone    = "none"
)

// TokenVerifier verifies a JWT read from source. *jwt.Factory
// implements it.
type TokenVerifier interface {
	VerifyFrom(ctx context.Context, token, source string) (*jwt.Context, error)
}

// Dispatcher routes a request's credential to exactly one verifier.
//
// The order is fixed:
//  1. A bearer credential (ALB header or Authorization Bearer) carrying
//     the API key prefix is verified as an API key; any other bearer
//     credential is verified as a JWT and nothing else is tried.
//  2. Otherwise an API key from the configured sources is verified.
//  3. Otherwise the result is Unauthenticated with KindNoCredential.
//
// The choice depends only on which credentials are present, never on
// verifier outcomes or latency.
type Dispatcher struct {
	apiKeys   apikey.Verifier
	tokens    TokenVerifier
	extractor *CredentialExtractor
	mapping   jwt.ClaimMapping
	logger    observability.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// DispatcherOption is a functional option for the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithAPIKeyVerifier enables the API key scheme.
func WithAPIKeyVerifier(v apikey.Verifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.apiKeys = v
	}
}

// WithTokenVerifier enables the JWT scheme.
func WithTokenVerifier(v TokenVerifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.tokens = v
	}
}

// WithCredentialExtractor sets where credentials are read from.
func WithCredentialExtractor(e *CredentialExtractor) DispatcherOption {
	return func(d *Dispatcher) {
		d.extractor = e
	}
}

// WithClaimMapping sets which claims feed identity roles, scopes, email
// and name.
func WithClaimMapping(m jwt.ClaimMapping) DispatcherOption {
	return func(d *Dispatcher) {
		d.mapping = m
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics sets the metrics.
func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracerProvider sets the tracer provider. The global provider is
// used by default.
func WithTracerProvider(tp trace.TracerProvider) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = tp.Tracer(tracerName)
	}
}

// WithDispatcherClock sets the time source for identity timestamps.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a dispatcher. At least one scheme must be
// enabled.
func NewDispatcher(opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		mapping: jwt.DefaultConfig().GetClaimMapping(),
		logger:  observability.NopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.apiKeys == nil && d.tokens == nil {
		return nil, errors.New("at least one of the API key or JWT verifiers is required")
	}
	if d.extractor == nil {
		d.extractor = NewCredentialExtractor(true, nil)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics("")
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	return d, nil
}

// Authenticate authenticates an HTTP request.
func (d *Dispatcher) Authenticate(r *http.Request) Result {
	return d.authenticate(r.Context(), d.extractor.FromRequest(r), transportHTTP)
}

// AuthenticateCredentials authenticates already extracted credentials,
// as the gRPC interceptor does.
func (d *Dispatcher) AuthenticateCredentials(ctx context.Context, creds Credentials) Result {
	return d.authenticate(ctx, creds, transportGRPC)
}

// Extractor returns the credential extractor.
func (d *Dispatcher) Extractor() *CredentialExtractor {
	return d.extractor
}

func (d *Dispatcher) authenticate(ctx context.Context, creds Credentials, transport string) Result {
	ctx, span := d.tracer.Start(ctx, "auth.authenticate",
		trace.WithAttributes(attribute.String("auth.transport", transport)),
	)
	defer span.End()
	start := time.Now()

	var res Result
	switch {
	case creds.Bearer != "" && apikey.IsAPIKey(creds.Bearer):
		res = d.viaAPIKey(ctx, creds.Bearer)
	case creds.Bearer != "":
		res = d.viaJWT(ctx, creds.Bearer, creds.BearerSource)
	case creds.APIKey != "":
		res = d.viaAPIKey(ctx, creds.APIKey)
	default:
		res = Unauthenticated(&AuthError{Kind: KindNoCredential, Cause: ErrNoCredentials})
	}

	method := string(res.Method())
	if method == "" {
		method = methodNone
	}
	d.metrics.RecordRequest(transport, method, res, time.Since(start))
	span.SetAttributes(
		attribute.String("auth.method", method),
		attribute.String("auth.result", res.Kind().String()),
	)

	logger := d.logger.WithContext(ctx)
	if !res.Authenticated() {
		span.SetStatus(codes.Error, res.Kind().String())
		logger.Debug("authentication rejected",
			observability.String("transport", transport),
			observability.String("method", method),
			observability.String("kind", res.Kind().String()),
			observability.Error(res.Err()),
		)
		return res
	}

	logger.Debug("authenticated",
		observability.String("transport", transport),
		observability.String("method", method),
		observability.String("subject", res.Identity().Subject),
	)
	return res
}

func (d *Dispatcher) viaAPIKey(ctx context.Context, key string) Result {
	if d.apiKeys == nil {
		return Unauthenticated(NewAuthError(AuthTypeAPIKey, ErrNoVerifier))
	}
	info, err := d.apiKeys.Verify(ctx, key)
	if err != nil {
		return Unauthenticated(NewAuthError(AuthTypeAPIKey, err))
	}
	return APIKeyAuthenticated(identityFromKeyInfo(info, d.now()), info)
}

func (d *Dispatcher) viaJWT(ctx context.Context, token, source string) Result {
	if d.tokens == nil {
		return Unauthenticated(NewAuthError(AuthTypeJWT, ErrNoVerifier))
	}
	c, err := d.tokens.VerifyFrom(ctx, token, source)
	if err != nil {
		return Unauthenticated(NewAuthError(AuthTypeJWT, err))
	}
	return JWTAuthenticated(identityFromJWT(c, d.mapping, d.now()), c)
}

package jwt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

const (
	jwksSource       = "jwks"
	maxJWKSBodyBytes = 1 << 20
)

// JWKSProvider fetches a remote JWKS on a cron schedule and feeds it into
// a Keyring.
type JWKSProvider struct {
	url        string
	keyring    *Keyring
	httpClient *http.Client
	schedule   string
	timeout    time.Duration
	logger     observability.Logger
	metrics    *Metrics

	group singleflight.Group

	mu          sync.Mutex
	cron        *cron.Cron
	lastRefresh time.Time
	keyCount    int

	refreshes atomic.Int64
	errors    atomic.Int64
}

// JWKSStats describes the provider state.
type JWKSStats struct {
	URL         string
	KeyCount    int
	Refreshes   int64
	Errors      int64
	LastRefresh time.Time
}

// JWKSOption is a functional option for the JWKS provider.
type JWKSOption func(*JWKSProvider)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) JWKSOption {
	return func(p *JWKSProvider) {
		p.httpClient = client
	}
}

// WithRefreshSchedule sets the cron refresh schedule.
func WithRefreshSchedule(spec string) JWKSOption {
	return func(p *JWKSProvider) {
		if spec != "" {
			p.schedule = spec
		}
	}
}

// WithFetchTimeout bounds a single fetch.
func WithFetchTimeout(d time.Duration) JWKSOption {
	return func(p *JWKSProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithJWKSLogger sets the logger.
func WithJWKSLogger(logger observability.Logger) JWKSOption {
	return func(p *JWKSProvider) {
		p.logger = logger
	}
}

// WithJWKSMetrics sets the metrics.
func WithJWKSMetrics(m *Metrics) JWKSOption {
	return func(p *JWKSProvider) {
		p.metrics = m
	}
}

// NewJWKSProvider creates a provider for url.
func NewJWKSProvider(url string, keyring *Keyring, opts ...JWKSOption) (*JWKSProvider, error) {
	if url == "" {
		return nil, errors.New("jwks url is required")
	}
	if keyring == nil {
		return nil, errors.New("keyring is required")
	}

	p := &JWKSProvider{
		url:        url,
		keyring:    keyring,
		httpClient: http.DefaultClient,
		schedule:   DefaultRefreshSchedule,
		timeout:    DefaultFetchTimeout,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", p.schedule, err)
	}
	return p, nil
}

// Start performs the initial fetch and schedules refreshes. The initial
// fetch must succeed.
func (p *JWKSProvider) Start(ctx context.Context) error {
	if err := p.Refresh(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(p.schedule, func() {
		if err := p.Refresh(context.Background()); err != nil {
			p.logger.Error("JWKS refresh failed",
				observability.String("url", p.url),
				observability.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule JWKS refresh: %w", err)
	}
	c.Start()
	p.cron = c

	p.logger.Info("JWKS refresh scheduled",
		observability.String("url", p.url),
		observability.String("schedule", p.schedule),
	)
	return nil
}

// Stop cancels scheduled refreshes and waits for a running one.
func (p *JWKSProvider) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Refresh fetches the JWKS and publishes it. Concurrent calls share one
// fetch. On failure the previously published keys stay in place.
func (p *JWKSProvider) Refresh(ctx context.Context) error {
	_, err, _ := p.group.Do(p.url, func() (interface{}, error) {
		return nil, p.refresh(ctx)
	})
	return err
}

func (p *JWKSProvider) refresh(ctx context.Context) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "jwt.keys.refresh")
	span.SetAttributes(attribute.String("jwks.url", p.url))
	start := time.Now()

	defer func() {
		if p.metrics != nil {
			p.metrics.RecordRefresh(jwksSource, err == nil, time.Since(start))
		}
		if err != nil {
			p.errors.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	set, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	if err := p.keyring.Update(jwksSource, set); err != nil {
		return fmt.Errorf("%w: %w", ErrJWKSFetchFailed, err)
	}

	p.refreshes.Add(1)
	p.mu.Lock()
	p.lastRefresh = time.Now()
	p.keyCount = set.Len()
	p.mu.Unlock()

	p.logger.Debug("JWKS refreshed",
		observability.String("url", p.url),
		observability.Int("keyCount", set.Len()),
	)
	return nil
}

func (p *JWKSProvider) fetch(ctx context.Context) (jwk.Set, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrJWKSFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: endpoint returned status %d: %s",
			ErrJWKSFetchFailed, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrJWKSFetchFailed, err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse JWKS: %w", ErrJWKSFetchFailed, err)
	}
	return set, nil
}

// Stats returns a copy of the provider counters.
func (p *JWKSProvider) Stats() JWKSStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return JWKSStats{
		URL:         p.url,
		KeyCount:    p.keyCount,
		Refreshes:   p.refreshes.Load(),
		Errors:      p.errors.Load(),
		LastRefresh: p.lastRefresh,
	}
}

// URL returns the JWKS URL.
func (p *JWKSProvider) URL() string {
	return p.url
}

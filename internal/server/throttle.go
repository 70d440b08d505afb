package server

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avauthn/internal/config"
)

// Throttle limits failed authentication attempts per client. Successful
// requests never consume tokens, so only clients that keep failing are
// slowed down.
type Throttle struct {
	limit   rate.Limit
	burst   int
	clients *expirable.LRU[string, *rate.Limiter]

	// mu serializes limiter creation so concurrent first failures share one.
	mu sync.Mutex
}

// NewThrottle creates a throttle from cfg, or nil when it is disabled.
func NewThrottle(cfg config.ThrottleConfig) *Throttle {
	if !cfg.Enabled {
		return nil
	}
	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = config.DefaultThrottleMaxClients
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultThrottleTTL
	}
	return &Throttle{
		limit:   rate.Limit(cfg.Rate),
		burst:   cfg.Burst,
		clients: expirable.NewLRU[string, *rate.Limiter](maxClients, nil, ttl),
	}
}

// Blocked reports whether client has no failures left to spend.
func (t *Throttle) Blocked(client string, now time.Time) bool {
	if t == nil {
		return false
	}
	lim, ok := t.clients.Get(client)
	if !ok {
		return false
	}
	return lim.TokensAt(now) < 1
}

// Fail records a failed attempt by client.
func (t *Throttle) Fail(client string, now time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	lim, ok := t.clients.Get(client)
	if !ok {
		lim = rate.NewLimiter(t.limit, t.burst)
	}
	// Add refreshes the entry TTL.
	t.clients.Add(client, lim)
	t.mu.Unlock()

	lim.AllowN(now, 1)
}

// RetryAfter returns how long client waits for its next attempt.
func (t *Throttle) RetryAfter(client string, now time.Time) time.Duration {
	if t == nil {
		return 0
	}
	lim, ok := t.clients.Get(client)
	if !ok || t.limit <= 0 {
		return 0
	}
	missing := 1 - lim.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(t.limit) * float64(time.Second))
}

// Len returns the number of tracked clients.
func (t *Throttle) Len() int {
	if t == nil {
		return 0
	}
	return t.clients.Len()
}

// Package ratelimit throttles the gateway's own outbound calls to upstream
// services, so a runaway composite fan-out or a misconfigured proxy endpoint
// can't overwhelm a downstream system the gateway doesn't own.
// This is distinct from infrastructure/middleware's inbound, per-client
// limiter: that one protects the gateway from its callers, this one protects
// upstreams from the gateway.
package ratelimit

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Config controls the outbound limiter's steady-state and burst allowance.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a conservative outbound budget suitable for a single
// upstream endpoint.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 100,
		Burst:             200,
	}
}

// Limiter gates outbound requests against both a per-second budget and a
// coarser per-minute ceiling, so a burst that exhausts the per-second bucket
// can't simply be retried continuously to sustain an unbounded rate.
type Limiter struct {
	perSecond *rate.Limiter
	perMinute *rate.Limiter
	mu        sync.RWMutex
	config    Config
}

// New builds a Limiter from cfg, filling in DefaultConfig's values for any
// zero field.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}

	return &Limiter{
		perSecond: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		perMinute: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond*60), cfg.Burst*2),
		config:    cfg,
	}
}

// Allow reports whether a call may proceed right now without waiting.
func (l *Limiter) Allow() bool {
	return l.perSecond.Allow()
}

// Wait blocks until the per-second budget admits one call, or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.perSecond.Wait(ctx)
}

// Exceeded reports whether either the per-second or the per-minute budget
// is currently exhausted.
func (l *Limiter) Exceeded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.perSecond.Allow() || !l.perMinute.Allow()
}

// Reset rebuilds both buckets from the original config, discarding any
// accumulated tokens. Used between test cases and after a config reload.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perSecond = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
	l.perMinute = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond*60), l.config.Burst*2)
}

// Client wraps an *http.Client so every outbound call blocks on the shared
// Limiter before it is sent, rather than being rejected outright.
type Client struct {
	http    *http.Client
	limiter *Limiter
}

// NewClient wraps client with a Limiter built from cfg.
func NewClient(client *http.Client, cfg Config) *Client {
	return &Client{
		http:    client,
		limiter: New(cfg),
	}
}

// Do waits for the outbound budget to admit the request, then sends it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// Allow reports whether a call may proceed right now without waiting.
func (c *Client) Allow() bool {
	return c.limiter.Allow()
}

// Exceeded reports whether the wrapped limiter's budget is currently
// exhausted.
func (c *Client) Exceeded() bool {
	return c.limiter.Exceeded()
}

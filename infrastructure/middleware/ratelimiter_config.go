package middleware

import (
	"time"

	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// RateLimiterConfig configures a token-bucket RateLimiter keyed per client:
// each key's bucket refills at Requests per Window and holds up to Burst
// tokens.
type RateLimiterConfig struct {
	// Requests is the budget per Window (default: 100).
	Requests int

	// Window is the period over which Requests tokens are refilled
	// (default: 1 minute). The bucket refills continuously; it does not
	// reset at window boundaries.
	Window time.Duration

	// Burst is the bucket capacity (default: half of Requests, i.e. 50 for
	// the default budget).
	Burst int

	// MaxLimiters bounds the per-key limiter map before Cleanup falls back to
	// a full reset (default: 10000).
	MaxLimiters int

	// LimiterTTL is how long an idle key's bucket is kept before Cleanup
	// evicts it (default: 10x Window).
	LimiterTTL time.Duration

	// CleanupInterval is how often the background sweep runs (default: 5m).
	CleanupInterval time.Duration

	Logger *logging.Logger
}

// DefaultRateLimiterConfig mirrors infrastructure/config.RateLimitConfig's
// own defaults (100 requests/minute, burst 50), so a caller building a
// RateLimiter directly gets the same budget cmd/gateway wires from config.
func DefaultRateLimiterConfig(logger *logging.Logger) RateLimiterConfig {
	return RateLimiterConfig{
		Requests:        100,
		Window:          time.Minute,
		Burst:           50,
		MaxLimiters:     10000,
		LimiterTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		Logger:          logger,
	}
}

// StrictRateLimiterConfig is a tighter budget suitable for the token-minting
// surface: a client hammering auth endpoints shouldn't get the same
// allowance as ordinary OData traffic.
func StrictRateLimiterConfig(logger *logging.Logger) RateLimiterConfig {
	return RateLimiterConfig{
		Requests:        20,
		Window:          time.Minute,
		Burst:           5,
		MaxLimiters:     10000,
		LimiterTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		Logger:          logger,
	}
}

// LenientRateLimiterConfig is a looser budget suitable for trusted internal
// callers that share the gateway's own deployment.
func LenientRateLimiterConfig(logger *logging.Logger) RateLimiterConfig {
	return RateLimiterConfig{
		Requests:        1000,
		Window:          time.Minute,
		Burst:           200,
		MaxLimiters:     10000,
		LimiterTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		Logger:          logger,
	}
}

// NewRateLimiterFromConfig builds a window-keyed RateLimiter from cfg. Zero
// fields fall back to: Requests 100, Window 1 minute, Burst half of
// Requests, MaxLimiters 10000, LimiterTTL 10x Window.
func NewRateLimiterFromConfig(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Requests <= 0 {
		cfg.Requests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Requests / 2
	}

	rl := NewRateLimiterWithWindow(cfg.Requests, cfg.Window, cfg.Burst, cfg.Logger)

	if cfg.MaxLimiters > 0 {
		rl.SetMaxSize(cfg.MaxLimiters)
	}
	if cfg.LimiterTTL > 0 {
		rl.SetLimiterTTL(cfg.LimiterTTL)
	}

	return rl
}

// StartCleanupFromConfig starts the background cleanup goroutine using
// cfg.CleanupInterval (or 5 minutes, if unset) and returns a stop function
// to call on shutdown.
func StartCleanupFromConfig(rl *RateLimiter, cfg RateLimiterConfig) func() {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return rl.StartCleanup(interval)
}

package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	internalhttputil "github.com/r3e-network/odata-gateway/infrastructure/httputil"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// DualRateLimiter enforces two independent token-bucket budgets per request:
// one keyed by client IP, one keyed by bearer-token identity. Anonymous
// requests only consume from the IP bucket; authenticated requests must fit
// within both. Either bucket tripping yields a 429 with Retry-After.
type DualRateLimiter struct {
	ip      *RateLimiter
	token   *RateLimiter
	enabled bool
}

// DualRateLimiterConfig carries the two budgets plus the on/off flag.
type DualRateLimiterConfig struct {
	Enabled       bool
	IPRequests    int
	IPBurst       int
	TokenRequests int
	TokenBurst    int
	Window        time.Duration
}

// NewDualRateLimiter builds both buckets over a shared window.
func NewDualRateLimiter(cfg DualRateLimiterConfig, logger *logging.Logger) *DualRateLimiter {
	return &DualRateLimiter{
		ip:      NewRateLimiterWithWindow(cfg.IPRequests, cfg.Window, cfg.IPBurst, logger),
		token:   NewRateLimiterWithWindow(cfg.TokenRequests, cfg.Window, cfg.TokenBurst, logger),
		enabled: cfg.Enabled,
	}
}

// tokenKey derives the per-token bucket key from the Authorization header.
// The plaintext never lands in the limiter map: only a truncated SHA-256 of
// the header value is kept, which is stable per token and useless to an
// attacker reading process memory.
func tokenKey(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	sum := sha256.Sum256([]byte(header))
	return hex.EncodeToString(sum[:8])
}

// Handler enforces the IP bucket first, then (for requests carrying a bearer
// token) the token bucket. Disabled limiters pass everything through.
func (d *DualRateLimiter) Handler(next http.Handler) http.Handler {
	if !d.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipKey := internalhttputil.ClientIP(r)
		if ipKey == "" {
			ipKey = "unknown"
		}
		if !d.ip.Allow(ipKey) {
			d.ip.reject(w, r, ipKey)
			return
		}

		if key := tokenKey(r); key != "" && !d.token.Allow(key) {
			d.token.reject(w, r, key)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartCleanup starts idle-bucket eviction for both limiters and returns a
// single stop function.
func (d *DualRateLimiter) StartCleanup(interval time.Duration) (stop func()) {
	stopIP := d.ip.StartCleanup(interval)
	stopToken := d.token.StartCleanup(interval)
	return func() {
		stopIP()
		stopToken()
	}
}

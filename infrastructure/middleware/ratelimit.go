package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/r3e-network/odata-gateway/infrastructure/errors"
	internalhttputil "github.com/r3e-network/odata-gateway/infrastructure/httputil"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// defaultMaxLimiters bounds the per-key limiter map before Cleanup falls
// back to a full reset, absent an explicit SetMaxSize call.
const defaultMaxLimiters = 10000

// RateLimiter provides rate limiting functionality
type RateLimiter struct {
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	mu         sync.RWMutex
	rate       rate.Limit
	burst      int
	limit      int
	window     time.Duration
	maxSize    int
	limiterTTL time.Duration
	logger     *logging.Logger
}

// LimiterCount returns the number of active limiters.
func (rl *RateLimiter) LimiterCount() int {
	if rl == nil {
		return 0
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond, burst int, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		rate:       rate.Limit(requestsPerSecond),
		burst:      burst,
		limit:      requestsPerSecond,
		window:     time.Second,
		maxSize:    defaultMaxLimiters,
		limiterTTL: 0,
		logger:     logger,
	}
}

// NewRateLimiterWithWindow creates a rate limiter configured by a fixed window
// and request budget, e.g. 100 requests per 1 minute. Idle buckets are
// evicted after 10x the window, per the gateway's rate-limiting contract.
func NewRateLimiterWithWindow(limit int, window time.Duration, burst int, logger *logging.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	requestsPerSecond := float64(limit) / window.Seconds()
	if requestsPerSecond < 0 {
		requestsPerSecond = 0
	}

	return &RateLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		rate:       rate.Limit(requestsPerSecond),
		burst:      burst,
		limit:      limit,
		window:     window,
		maxSize:    defaultMaxLimiters,
		limiterTTL: 10 * window,
		logger:     logger,
	}
}

// SetMaxSize bounds how many per-key limiters are kept before Cleanup falls
// back to a full reset.
func (rl *RateLimiter) SetMaxSize(n int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.maxSize = n
}

// SetLimiterTTL sets how long an idle key's bucket is kept before Cleanup
// evicts it. Buckets for inactive keys should outlive a single window so a
// client that pauses briefly doesn't get a fresh burst allowance for free;
// the gateway's default is 10x the configured window.
func (rl *RateLimiter) SetLimiterTTL(d time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiterTTL = d
}

// Window returns the limiter's configured window, used to build Retry-After.
func (rl *RateLimiter) Window() time.Duration {
	if rl.window <= 0 {
		return time.Second
	}
	return rl.window
}

// Limit returns the limiter's configured request budget per window.
func (rl *RateLimiter) Limit() int { return rl.limit }

// getLimiter returns a rate limiter for the given key (e.g., user ID or IP)
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	rl.lastAccess[key] = time.Now()

	return limiter
}

// Allow reports whether a request keyed by key is within budget right now,
// consuming one token on success. Used directly by callers (e.g.
// DualRateLimiter's combined IP+token check) that need more than one keying
// strategy in front of a single request.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Use user ID if authenticated, otherwise use IP address
		key := logging.GetUserID(r.Context())
		if key == "" {
			key = internalhttputil.ClientIP(r)
		}
		if key == "" {
			key = "unknown"
		}

		if !rl.Allow(key) {
			rl.reject(w, r, key)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, key string) {
	if rl.logger != nil {
		rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
			"key":    key,
			"path":   r.URL.Path,
			"method": r.Method,
		})
	}

	window := rl.Window()
	serviceErr := errors.RateLimitExceeded(rl.limit, window.String())
	if seconds := int(math.Ceil(window.Seconds())); seconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
}

// Cleanup removes limiters that have been idle past the configured TTL.
// When no TTL is set, it falls back to a full reset once the map grows
// past maxSize, trading a burst of fresh allowances for bounded memory.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	maxSize := rl.maxSize
	if maxSize <= 0 {
		maxSize = defaultMaxLimiters
	}

	if rl.limiterTTL > 0 {
		cutoff := time.Now().Add(-rl.limiterTTL)
		for key, last := range rl.lastAccess {
			if last.Before(cutoff) {
				delete(rl.limiters, key)
				delete(rl.lastAccess, key)
			}
		}
		return
	}

	if len(rl.limiters) > maxSize {
		rl.limiters = make(map[string]*rate.Limiter)
		rl.lastAccess = make(map[string]time.Time)
	}
}

// StartCleanup starts a background goroutine to periodically cleanup old limiters
func (rl *RateLimiter) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Package middleware provides the gateway's cross-cutting HTTP concerns:
// recovery, security headers, body limits, timeouts, rate limiting,
// structured request logging, metrics, graceful shutdown, and the health
// surface consumed by /health, /health/live and /health/details.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// DefaultCheckTimeout bounds how long any single registered check may run
// before it is counted as failed, so a wedged upstream dependency can't
// hang the /health response itself.
const DefaultCheckTimeout = 2 * time.Second

// CheckFunc is one named dependency probe (connection pool reachability,
// registry load state, ...). It receives the per-check deadline context
// rather than a bare signature, so a hung dependency probe times out
// instead of stalling the whole health response.
type CheckFunc func(ctx context.Context) error

// AggregateStatus is the /health and /health/details response shape.
type AggregateStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker aggregates named dependency checks behind /health. Each
// check runs independently under its own timeout so one slow dependency
// degrades its own entry rather than the whole response.
type HealthChecker struct {
	mu           sync.RWMutex
	version      string
	startTime    time.Time
	checks       map[string]CheckFunc
	checkTimeout time.Duration
	logger       *logging.Logger
}

// NewHealthChecker builds a HealthChecker reporting version in its
// responses. logger may be nil (check failures are simply omitted from
// logs, not the response, in that case).
func NewHealthChecker(version string, logger *logging.Logger) *HealthChecker {
	return &HealthChecker{
		version:      version,
		startTime:    time.Now(),
		checks:       make(map[string]CheckFunc),
		checkTimeout: DefaultCheckTimeout,
		logger:       logger,
	}
}

// WithCheckTimeout overrides the per-check timeout (default
// DefaultCheckTimeout) and returns the receiver for chaining at
// construction time.
func (h *HealthChecker) WithCheckTimeout(d time.Duration) *HealthChecker {
	if d > 0 {
		h.checkTimeout = d
	}
	return h
}

// RegisterCheck adds a named dependency probe. Re-registering the same
// name replaces the prior probe.
func (h *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Handler serves the aggregate health response: 200 if every registered
// check passes within its timeout, 503 otherwise. Checks run concurrently
// so one endpoint's pool outage doesn't delay the others' results.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		checks := make(map[string]CheckFunc, len(h.checks))
		for name, fn := range h.checks {
			checks[name] = fn
		}
		timeout := h.checkTimeout
		h.mu.RUnlock()

		type outcome struct {
			name string
			err  error
		}
		results := make(chan outcome, len(checks))
		for name, fn := range checks {
			go func(name string, fn CheckFunc) {
				ctx, cancel := context.WithTimeout(r.Context(), timeout)
				defer cancel()
				results <- outcome{name: name, err: fn(ctx)}
			}(name, fn)
		}

		status := AggregateStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   h.version,
			Uptime:    time.Since(h.startTime).String(),
			Checks:    make(map[string]string, len(checks)),
		}
		for i := 0; i < len(checks); i++ {
			o := <-results
			if o.err != nil {
				status.Status = "unhealthy"
				status.Checks[o.name] = o.err.Error()
				if h.logger != nil {
					h.logger.WithField("check", o.name).WithError(o.err).Warn("health check failed")
				}
			} else {
				status.Checks[o.name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}

// LivenessHandler reports process liveness without touching any
// downstream dependency. "/health/live" is served without authentication
// so orchestrator probes don't need credentials.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// RuntimeStats reports process-level runtime figures surfaced alongside
// connection-pool status on /health/details.
func RuntimeStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"alloc_mb":   m.Alloc / 1024 / 1024,
		"sys_mb":     m.Sys / 1024 / 1024,
		"num_gc":     m.NumGC,
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
	}
}

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// quietPaths are polled frequently enough by orchestrators (liveness probes)
// that logging every hit would just add noise without signal.
var quietPaths = map[string]bool{
	"/health/live": true,
}

// LoggingMiddleware stamps every request with a trace ID (propagated to
// downstream proxy/composite calls via the X-Trace-ID header) and logs the
// method, path, status and duration once the handler returns.
func LoggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = logging.NewTraceID()
			}

			ctx := logging.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)

			// Ensure downstream handlers (including reverse proxies) can forward the trace ID.
			r.Header.Set("X-Trace-ID", traceID)
			w.Header().Set("X-Trace-ID", traceID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			if quietPaths[strings.TrimRight(r.URL.Path, "/")] {
				return
			}
			duration := time.Since(start)
			logger.LogRequest(ctx, r.Method, r.URL.Path, wrapped.statusCode, duration)
		})
	}
}

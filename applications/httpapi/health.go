package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/r3e-network/odata-gateway/infrastructure/httputil"
	"github.com/r3e-network/odata-gateway/infrastructure/middleware"
)

var errRegistryUnavailable = errors.New("endpoint registry not initialized")

// healthHandler aggregates registered checks (endpoint registry loaded,
// every opened connection pool still pingable) into the shared
// HealthChecker shape.
func (s *Server) healthHandler() http.HandlerFunc {
	version := s.version
	if version == "" {
		version = "dev"
	}
	checker := middleware.NewHealthChecker(version, s.logger)
	checker.RegisterCheck("endpoint_registry", func(ctx context.Context) error {
		if s.registry == nil {
			return errRegistryUnavailable
		}
		return nil
	})
	checker.RegisterCheck("connection_pools", func(ctx context.Context) error {
		return s.pools.Ping(ctx)
	})
	return checker.Handler()
}

func (s *Server) livenessHandler() http.HandlerFunc {
	return middleware.LivenessHandler()
}

// healthDetailsHandler surfaces per-connection-pool status, sanitising
// connection strings before they ever leave the process.
func (s *Server) healthDetailsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"pools":   s.pools.Statuses(),
			"runtime": middleware.RuntimeStats(),
		})
	}
}


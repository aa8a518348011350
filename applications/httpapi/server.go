package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/r3e-network/odata-gateway/domain/auth"
	"github.com/r3e-network/odata-gateway/domain/composite"
	"github.com/r3e-network/odata-gateway/domain/endpoint"
	"github.com/r3e-network/odata-gateway/domain/environment"
	"github.com/r3e-network/odata-gateway/domain/proxyexec"
	"github.com/r3e-network/odata-gateway/domain/sqlexec"
	"github.com/r3e-network/odata-gateway/domain/sqlstore"
	"github.com/r3e-network/odata-gateway/domain/webhook"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
	"github.com/r3e-network/odata-gateway/infrastructure/metrics"
)

// Server holds every dependency the dispatcher needs to resolve and run a
// request: the endpoint catalogue, the per-env connection/credential
// resolver, the four kind-specific executors, and the auth gate.
type Server struct {
	registry  *endpoint.Registry
	resolver  *environment.Resolver
	pools     *sqlstore.Manager
	gate      *auth.Gate
	sql       *sqlexec.Executor
	proxy     *proxyexec.Executor
	composite *composite.Executor
	webhook   *webhook.Executor
	logger    *logging.Logger
	metrics   *metrics.Metrics
	version   string
}

// SetVersion records a build version surfaced by /health.
func (s *Server) SetVersion(version string) { s.version = version }

// NewServer wires the dispatcher's dependencies. All of them are expected
// to already be constructed (registry watching, pools warmed) by the
// process entrypoint.
func NewServer(
	registry *endpoint.Registry,
	resolver *environment.Resolver,
	pools *sqlstore.Manager,
	gate *auth.Gate,
	sqlExec *sqlexec.Executor,
	proxyExec *proxyexec.Executor,
	compositeExec *composite.Executor,
	webhookExec *webhook.Executor,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Server {
	return &Server{
		registry:  registry,
		resolver:  resolver,
		pools:     pools,
		gate:      gate,
		sql:       sqlExec,
		proxy:     proxyExec,
		composite: compositeExec,
		webhook:   webhookExec,
		logger:    logger,
		metrics:   m,
	}
}

// NewRouter builds the gateway's full HTTP surface: health endpoints (no
// auth), then the versionless API/webhook routes behind authMiddleware.
// More specific patterns (composite) are registered before the catch-all
// "{name}"/"{name}/{tail...}" routes because mux tries routes in
// registration order and takes the first match, so a general route
// registered earlier would shadow a specific one.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.livenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/details", s.healthDetailsHandler()).Methods(http.MethodGet)

	r.HandleFunc("/webhook/{env}/{id}", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/api/{env}/composite/{name}", s.handleComposite).Methods(http.MethodPost)
	r.HandleFunc("/api/{env}/{name}", s.handleDispatch).Methods(
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)
	r.HandleFunc("/api/{env}/{name}/{tail:.*}", s.handleDispatch).Methods(
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowedHandler)

	r.Use(authMiddleware(s.gate))
	return r
}

// gatewayBase computes the "scheme://host" prefix used both for NextLink
// URLs (implicitly, via the original request URL) and for the proxy
// executor's response URL rewriting, honouring the forwarding headers a
// reverse proxy in front of the gateway would set.
func gatewayBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.Split(fwd, ",")[0]
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.Split(fwd, ",")[0]
	}
	return scheme + "://" + strings.TrimSpace(host)
}

// Command gateway is the process entrypoint: it loads configuration, wires
// the endpoint registry, environment resolver, connection pools, auth gate
// and the four executors into the HTTP dispatcher, and serves until a
// shutdown signal arrives.
package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/r3e-network/odata-gateway/applications/httpapi"
	"github.com/r3e-network/odata-gateway/domain/auth"
	"github.com/r3e-network/odata-gateway/domain/composite"
	"github.com/r3e-network/odata-gateway/domain/endpoint"
	"github.com/r3e-network/odata-gateway/domain/environment"
	"github.com/r3e-network/odata-gateway/domain/proxyexec"
	"github.com/r3e-network/odata-gateway/domain/sqlexec"
	"github.com/r3e-network/odata-gateway/domain/sqlstore"
	"github.com/r3e-network/odata-gateway/domain/webhook"
	"github.com/r3e-network/odata-gateway/infrastructure/config"
	"github.com/r3e-network/odata-gateway/infrastructure/httputil"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
	"github.com/r3e-network/odata-gateway/infrastructure/metrics"
	"github.com/r3e-network/odata-gateway/infrastructure/middleware"
	gwratelimit "github.com/r3e-network/odata-gateway/infrastructure/ratelimit"
	"github.com/r3e-network/odata-gateway/infrastructure/secrets"
	"github.com/r3e-network/odata-gateway/infrastructure/storage/migrations"
)

// buildVersion is overridden at link time via -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func main() {
	_ = godotenv.Load()

	logger := logging.NewFromEnv("gateway")
	m := metrics.Init("gateway")

	cfg, err := config.LoadGatewayConfig()
	if err != nil {
		logger.Fatal(context.Background(), "gateway config failed to load", err)
	}

	registry, loadErrs := endpoint.New(cfg.Endpoints.Root, logger)
	for _, e := range loadErrs {
		logger.WithError(e).Warn("endpoint definition failed to load")
	}
	if err := registry.Watch(); err != nil {
		logger.WithError(err).Warn("endpoint directory watch failed to start")
	}
	defer registry.Close()

	secretProvider := secrets.NewHTTPProvider(cfg.Secrets.StoreURI, nil)
	if cfg.Secrets.Token != "" {
		secretProvider.WithBearerToken(cfg.Secrets.Token)
	}
	resolver := environment.New(cfg.Endpoints.EnvironmentRoot, secretProvider, logger)

	pools := sqlstore.NewManager(sqlstore.DefaultConfig(), logger, m)
	defer pools.Close()

	gate := buildAuthGate(cfg, pools, logger)

	proxyClient := buildProxyClient(cfg)
	sqlExec := sqlexec.New(pools, logger, m)
	proxyExec := proxyexec.New(proxyClient, logger, m)
	compositeExec := composite.New(registry, proxyExec, logger, m)
	webhookExec := webhook.New(pools, nil, logger, m)

	server := httpapi.NewServer(registry, resolver, pools, gate, sqlExec, proxyExec, compositeExec, webhookExec, logger, m)
	server.SetVersion(buildVersion)

	handler := buildMiddlewareChain(cfg, server.NewRouter(), logger, m)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, cfg.Server.ShutdownTimeout, logger)
	shutdown.OnShutdown(func() {
		if err := pools.Close(); err != nil {
			logger.WithError(err).Warn("error closing sql pools during shutdown")
		}
		if err := registry.Close(); err != nil {
			logger.WithError(err).Warn("error stopping endpoint watcher during shutdown")
		}
	})
	shutdown.ListenForSignals()

	logger.Info(context.Background(), "gateway listening", map[string]interface{}{"addr": addr})
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal(context.Background(), "gateway server failed", err)
	}
	shutdown.Wait()
}

// buildAuthGate constructs the token store (SQL-backed when TOKEN_STORE_DSN
// is configured, otherwise an empty in-memory store suitable for
// development) and wraps it in a Gate keyed by GATEWAY_SERVER_KEY.
func buildAuthGate(cfg *config.GatewayConfig, pools *sqlstore.Manager, logger *logging.Logger) *auth.Gate {
	serverKey := []byte(cfg.Auth.ServerKey)

	dsn := cfg.Auth.TokenStoreDSN
	if dsn == "" {
		logger.Warn(context.Background(), "TOKEN_STORE_DSN not set, starting with an empty in-memory token store", nil)
		return auth.NewGate(auth.NewMemoryStore(nil), serverKey, nil)
	}

	db, err := pools.Get(context.Background(), dsn)
	if err != nil {
		logger.WithError(err).Warn("token store connection failed, starting with an empty in-memory token store")
		return auth.NewGate(auth.NewMemoryStore(nil), serverKey, nil)
	}
	if err := migrations.Apply(db.DB); err != nil {
		logger.WithError(err).Warn("token store migration failed, continuing against existing schema")
	}
	return auth.NewGate(auth.NewSQLStore(db), serverKey, nil)
}

// buildProxyClient wraps the upstream HTTP client used by the proxy and
// composite executors with the shared rate limiter, so a misbehaving
// upstream or a runaway composite fan-out can't exhaust the gateway's own
// outbound connections.
func buildProxyClient(cfg *config.GatewayConfig) *http.Client {
	base, _ := httputil.NewClient(httputil.ClientConfig{
		Timeout:    cfg.Proxy.Timeout,
		HTTPClient: &http.Client{Transport: httputil.DefaultTransportWithMinTLS12()},
	}, httputil.DefaultClientDefaults())
	limitCfg := gwratelimit.Config{
		RequestsPerSecond: float64(cfg.Proxy.OutboundRPS),
		Burst:             cfg.Proxy.OutboundBurst,
	}
	limited := gwratelimit.NewClient(base, limitCfg)
	return &http.Client{
		Timeout:   base.Timeout,
		Transport: rateLimitedTransport{limited: limited},
	}
}

// rateLimitedTransport adapts ratelimit.Client.Do (which itself wraps an
// *http.Client, not a RoundTripper) to http.RoundTripper so it can be
// installed as the Transport of an otherwise-normal *http.Client; this
// keeps proxyexec.Executor's *http.Client-shaped dependency unchanged while
// still routing every outbound call through the rate limiter.
type rateLimitedTransport struct {
	limited *gwratelimit.Client
}

func (t rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.limited.Do(req)
}

// buildMiddlewareChain wraps the router in the gateway's onion order:
// recovery outermost (so nothing downstream can take the process down),
// then security headers, timeout, body limit, metrics, logging, and the
// combined IP/token rate limiter immediately outside auth (which runs
// inside the router via mux.Use).
func buildMiddlewareChain(cfg *config.GatewayConfig, router http.Handler, logger *logging.Logger, m *metrics.Metrics) http.Handler {
	recovery := middleware.NewRecoveryMiddleware(logger)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(nil).WithHeader("X-Gateway-Version", buildVersion)
	timeout := middleware.NewTimeoutMiddleware(cfg.Server.RequestTimeout)
	bodyLimit := middleware.NewBodyLimitMiddleware(cfg.Server.MaxBodyBytes)
	rateLimiter := middleware.NewDualRateLimiter(middleware.DualRateLimiterConfig{
		Enabled:       cfg.RateLimit.Enabled,
		IPRequests:    cfg.RateLimit.Requests,
		IPBurst:       cfg.RateLimit.Burst,
		TokenRequests: cfg.RateLimit.TokenRequests,
		TokenBurst:    cfg.RateLimit.TokenBurst,
		Window:        cfg.RateLimit.Window,
	}, logger)
	stopCleanup := rateLimiter.StartCleanup(5 * time.Minute)
	_ = stopCleanup // the rate limiter outlives the process; cleanup just bounds memory

	handler := router
	handler = rateLimiter.Handler(handler)
	handler = middleware.LoggingMiddleware(logger)(handler)
	handler = middleware.MetricsMiddleware("gateway", m)(handler)
	handler = bodyLimit.Handler(handler)
	handler = timeout.Handler(handler)
	handler = securityHeaders.Handler(handler)
	handler = recovery.Handler(handler)
	return handler
}

// Package proxyexec forwards requests to arbitrary upstream HTTP targets:
// method/header hygiene, response URL rewriting back to the gateway's own
// address space. The request body is passed upstream as a stream; the
// response body is not streamed: it is read in full (up to
// maxResponseBytes) before rewriting and then written to the client.
package proxyexec

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/r3e-network/odata-gateway/domain/endpoint"
	"github.com/r3e-network/odata-gateway/infrastructure/errors"
	"github.com/r3e-network/odata-gateway/infrastructure/httputil"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
	"github.com/r3e-network/odata-gateway/infrastructure/metrics"
)

// maxResponseBytes bounds how much of an upstream response is buffered for
// rewriting. Upstreams that stream more than this are misdirected bulk
// transfers, not API responses.
const maxResponseBytes int64 = 32 << 20

// hopByHopHeaders must never be forwarded in either direction (RFC 7230 §6.1).
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// defaultMaxInflight bounds concurrent upstream calls per endpoint when no
// explicit limit is configured.
const defaultMaxInflight = 64

// Executor forwards HTTP requests to proxy endpoints. Concurrent calls to
// the same endpoint are bounded by a per-endpoint semaphore so one slow
// upstream can't absorb every outbound connection the gateway has.
type Executor struct {
	client      *http.Client
	logger      *logging.Logger
	metrics     *metrics.Metrics
	maxInflight int

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// New builds an Executor. client should already carry the gateway's default
// timeout (infrastructure/httputil.NewClient).
func New(client *http.Client, logger *logging.Logger, m *metrics.Metrics) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Executor{
		client:      client,
		logger:      logger,
		metrics:     m,
		maxInflight: defaultMaxInflight,
		inflight:    make(map[string]chan struct{}),
	}
}

// WithMaxInflight overrides the per-endpoint concurrent-call bound and
// returns the receiver for chaining at construction time.
func (e *Executor) WithMaxInflight(n int) *Executor {
	if n > 0 {
		e.maxInflight = n
	}
	return e
}

// acquire blocks until a per-endpoint slot frees up or ctx is done.
func (e *Executor) acquire(ctx context.Context, endpointName string) (release func(), err error) {
	e.mu.Lock()
	sem, ok := e.inflight[endpointName]
	if !ok {
		sem = make(chan struct{}, e.maxInflight)
		e.inflight[endpointName] = sem
	}
	e.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Request is one inbound call to forward.
type Request struct {
	Endpoint    *endpoint.ProxyEndpoint
	Method      string
	TailPath    string // path segments after the endpoint name, joined with "/"
	Query       string
	Body        io.Reader
	Header      http.Header
	ClientIP    string // appended to X-Forwarded-For when non-empty
	GatewayBase string // e.g. "https://gw"
	Env         string
}

// Response is the relayed upstream response, already rewritten.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do forwards the request and returns the rewritten response.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	def := req.Endpoint
	if !def.AllowedMethods.Has(req.Method) {
		return nil, errors.MethodNotAllowed(req.Method, def.AllowedMethods.Values())
	}

	targetURL := strings.TrimRight(def.TargetURL, "/")
	if req.TailPath != "" {
		targetURL += "/" + strings.TrimLeft(req.TailPath, "/")
	}
	if req.Query != "" {
		targetURL += "?" + req.Query
	}

	release, err := e.acquire(ctx, def.Name)
	if err != nil {
		return nil, errors.Timeout("proxy " + def.Name)
	}
	defer release()

	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, targetURL, req.Body)
	if err != nil {
		return nil, errors.Internal("build upstream request", err)
	}
	copyForwardHeaders(upstreamReq.Header, req.Header)
	if req.ClientIP != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			upstreamReq.Header.Set("X-Forwarded-For", prior+", "+req.ClientIP)
		} else {
			upstreamReq.Header.Set("X-Forwarded-For", req.ClientIP)
		}
	}

	start := time.Now()
	resp, err := e.client.Do(upstreamReq)
	duration := time.Since(start)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordUpstreamCall("gateway", "proxy", def.Name, "error", duration)
		}
		return nil, errors.UpstreamError(def.Name, 0, "", err)
	}
	defer resp.Body.Close()

	if e.metrics != nil {
		e.metrics.RecordUpstreamCall("gateway", "proxy", def.Name, statusClass(resp.StatusCode), duration)
	}

	body, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		var tooLarge *httputil.BodyTooLargeError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.UpstreamError(def.Name, resp.StatusCode, "response exceeds size limit", err)
		}
		return nil, errors.Internal("read upstream response", err)
	}

	rewritten := RewriteBody(body, resp.Header.Get("Content-Type"), def.TargetURL, req.GatewayBase, req.Env, def.Name, e.logger)

	outHeader := make(http.Header, len(resp.Header))
	copyForwardHeaders(outHeader, resp.Header)

	return &Response{StatusCode: resp.StatusCode, Header: outHeader, Body: rewritten}, nil
}

func copyForwardHeaders(dst, src http.Header) {
	skip := make(map[string]bool, len(hopByHopHeaders)+1)
	for _, h := range hopByHopHeaders {
		skip[http.CanonicalHeaderKey(h)] = true
	}
	skip[http.CanonicalHeaderKey("Authorization")] = true

	for key, values := range src {
		if skip[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func statusClass(code int) string {
	if code >= 200 && code < 300 {
		return "2xx"
	}
	if code >= 400 && code < 500 {
		return "4xx"
	}
	if code >= 500 {
		return "5xx"
	}
	return "other"
}

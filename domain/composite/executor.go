// Package composite chains ProxyEndpoint calls into a single request/response
// cycle, propagating values from one step's captured result into the next
// step's request body.
package composite

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/r3e-network/odata-gateway/domain/endpoint"
	"github.com/r3e-network/odata-gateway/domain/proxyexec"
	"github.com/r3e-network/odata-gateway/infrastructure/errors"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
	"github.com/r3e-network/odata-gateway/infrastructure/metrics"
)

// Executor runs a CompositeConfig's step graph against ProxyEndpoints
// resolved from the shared registry.
type Executor struct {
	registry *endpoint.Registry
	proxy    *proxyexec.Executor
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// New builds an Executor. registry supplies the Step.Endpoint lookups,
// proxy performs the underlying HTTP call for each step.
func New(registry *endpoint.Registry, proxy *proxyexec.Executor, logger *logging.Logger, m *metrics.Metrics) *Executor {
	return &Executor{registry: registry, proxy: proxy, logger: logger, metrics: m}
}

// Request is one inbound composite invocation.
type Request struct {
	Composite   *endpoint.CompositeEndpoint
	Body        map[string]any
	Env         string
	GatewayBase string
}

// Result is the aggregated per-step output, keyed by step name. A step
// captured under isArray carries a []any of per-element results; others
// carry a single decoded value (or a raw string if the upstream body wasn't
// JSON).
type Result struct {
	Results map[string]any
}

// Execute runs every step in declaration order, aborting on the first
// failing step.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	captured := make(map[string]capturedStep, len(req.Composite.Config.Steps))
	out := make(map[string]any, len(req.Composite.Config.Steps))

	for i, step := range req.Composite.Config.Steps {
		def, ok := e.registry.Lookup(endpoint.KindProxy, step.Endpoint)
		if !ok || def.Proxy == nil {
			return Result{}, errors.NotFound("proxy endpoint", step.Endpoint).
				WithDetails("stepIndex", i).WithDetails("stepName", step.Name)
		}

		payloads, isArray, err := resolvePayloads(step, req.Body)
		if err != nil {
			return Result{}, err
		}

		if isArray {
			rawResults := make([][]byte, 0, len(payloads))
			decoded := make([]any, 0, len(payloads))
			for _, payload := range payloads {
				body, err := e.runStep(ctx, i, step, def.Proxy, payload, captured, req)
				if err != nil {
					return Result{}, err
				}
				rawResults = append(rawResults, body)
				decoded = append(decoded, decodeOrRaw(body))
			}
			captured[step.Name] = capturedStep{isArray: true, array: rawResults}
			out[step.Name] = decoded
			continue
		}

		var payload map[string]any
		if len(payloads) > 0 {
			payload = payloads[0]
		}
		body, err := e.runStep(ctx, i, step, def.Proxy, payload, captured, req)
		if err != nil {
			return Result{}, err
		}
		captured[step.Name] = capturedStep{single: body}
		out[step.Name] = decodeOrRaw(body)
	}

	return Result{Results: out}, nil
}

func (e *Executor) runStep(ctx context.Context, index int, step endpoint.Step, proxyDef *endpoint.ProxyEndpoint, payload map[string]any, captured map[string]capturedStep, req Request) ([]byte, error) {
	resolved := map[string]any{}
	for k, v := range payload {
		resolved[k] = v
	}
	for field, expr := range step.TemplateTransformations {
		val, err := evaluateExpression(expr, captured)
		if err != nil {
			return nil, err
		}
		resolved[field] = val
	}

	encoded, err := json.Marshal(resolved)
	if err != nil {
		return nil, errors.Internal("encode composite step body", err)
	}

	start := time.Now()
	resp, err := e.proxy.Do(ctx, proxyexec.Request{
		Endpoint:    proxyDef,
		Method:      string(step.Method),
		Body:        bytes.NewReader(encoded),
		Header:      http.Header{"Content-Type": []string{"application/json"}},
		GatewayBase: req.GatewayBase,
		Env:         req.Env,
	})
	duration := time.Since(start)

	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordCompositeStep("gateway", proxyDef.Name, step.Name, "error", duration)
		}
		return nil, errors.UpstreamError(step.Endpoint, 0, "", err).
			WithDetails("stepIndex", index).WithDetails("stepName", step.Name)
	}

	if resp.StatusCode >= 400 {
		if e.metrics != nil {
			e.metrics.RecordCompositeStep("gateway", proxyDef.Name, step.Name, "failed", duration)
		}
		return nil, errors.UpstreamError(step.Endpoint, resp.StatusCode, excerpt(resp.Body), nil).
			WithDetails("stepIndex", index).WithDetails("stepName", step.Name)
	}

	if e.metrics != nil {
		e.metrics.RecordCompositeStep("gateway", proxyDef.Name, step.Name, "ok", duration)
	}
	return resp.Body, nil
}

// resolvePayloads resolves a step's source payload(s) from the request
// body: a declared sourceProperty sub-object, an arrayProperty expansion
// (one call per element), or the full body.
func resolvePayloads(step endpoint.Step, body map[string]any) ([]map[string]any, bool, error) {
	if step.SourceProperty != "" {
		sub, ok := body[step.SourceProperty]
		if !ok {
			return nil, false, errors.MissingParameter(step.SourceProperty)
		}
		m, ok := sub.(map[string]any)
		if !ok {
			return nil, false, errors.InvalidInput(step.SourceProperty, "must be a JSON object")
		}
		return []map[string]any{m}, false, nil
	}

	if step.IsArray && step.ArrayProperty != "" {
		raw, ok := body[step.ArrayProperty]
		if !ok {
			return nil, false, errors.MissingParameter(step.ArrayProperty)
		}
		items, ok := raw.([]any)
		if !ok {
			return nil, false, errors.InvalidInput(step.ArrayProperty, "must be a JSON array")
		}
		out := make([]map[string]any, 0, len(items))
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false, errors.InvalidInput(step.ArrayProperty, "array elements must be JSON objects")
			}
			out = append(out, m)
		}
		return out, true, nil
	}

	return []map[string]any{body}, false, nil
}

func decodeOrRaw(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}

func excerpt(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

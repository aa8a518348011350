package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/r3e-network/odata-gateway/domain/composite"
	"github.com/r3e-network/odata-gateway/domain/endpoint"
	"github.com/r3e-network/odata-gateway/domain/proxyexec"
	"github.com/r3e-network/odata-gateway/domain/sqlexec"
	"github.com/r3e-network/odata-gateway/domain/webhook"
	"github.com/r3e-network/odata-gateway/infrastructure/errors"
	"github.com/r3e-network/odata-gateway/infrastructure/httputil"
)

// invisible reports whether env falls outside def's own allowedEnvironments
// set, per the rule that such an endpoint "becomes invisible" — a 404, not
// the 403 reserved for the token's own allowedEnvironments mismatch (that
// check already ran in authMiddleware via auth.Authorize).
func invisible(def endpoint.Definition, env string) bool {
	envs := def.AllowedEnvironments()
	return envs.Len() > 0 && !envs.Has(env)
}

// handleDispatch resolves "/api/{env}/{name}" and "/api/{env}/{name}/{tail...}"
// to either the SQL or the Proxy executor, SQL taking priority when both are
// registered under the same name.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	env, name, tail := vars["env"], vars["name"], vars["tail"]

	def, ok := s.registry.LookupSQLOrProxy(name)
	if !ok || invisible(def, env) {
		writeServiceError(w, r, errors.NotFound("endpoint", name))
		return
	}

	switch def.Kind {
	case endpoint.KindSQL:
		s.dispatchSQL(w, r, def.SQL, env, tail)
	case endpoint.KindProxy:
		s.dispatchProxy(w, r, def.Proxy, env, tail)
	default:
		writeServiceError(w, r, errors.NotFound("endpoint", name))
	}
}

func (s *Server) resolveConnectionString(w http.ResponseWriter, r *http.Request, env string) (string, bool) {
	rec, err := s.resolver.Resolve(r.Context(), env)
	if err != nil {
		// The endpoint lookup already succeeded by the time this runs, so a
		// resolver failure here is a client-fixable bad environment name,
		// not a "nothing here" 404.
		writeServiceError(w, r, errors.EnvironmentUnresolved(env))
		return "", false
	}
	return rec.ConnectionString, true
}

func (s *Server) dispatchSQL(w http.ResponseWriter, r *http.Request, def *endpoint.SQLEndpoint, env, tail string) {
	connStr, ok := s.resolveConnectionString(w, r, env)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		filter := q.Get("$filter")
		if tail != "" {
			// "{id}" path form: filter on the endpoint's primary key rather
			// than whatever $filter (if any) was also supplied.
			filter = def.PrimaryKey + " eq '" + tail + "'"
		}
		result, err := s.sql.Get(r.Context(), sqlexec.GetRequest{
			ConnectionString: connStr,
			Endpoint:         def,
			Select:           q.Get("$select"),
			Filter:           filter,
			OrderBy:          q.Get("$orderby"),
			Top:              q.Get("$top"),
			Skip:             q.Get("$skip"),
			RequestURL:       r.URL,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"Count":    result.Count,
			"Value":    result.Value,
			"NextLink": result.NextLink,
		})
		return
	}

	var body map[string]any
	if !httputil.DecodeJSONOptional(w, r, &body) {
		return
	}
	if body == nil {
		body = map[string]any{}
	}

	result, err := s.sql.Write(r.Context(), sqlexec.WriteRequest{
		ConnectionString: connStr,
		Endpoint:         def,
		HTTPMethod:       r.Method,
		Principal:        httputil.GetPrincipal(r),
		Body:             body,
		ID:               tail,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": result.Success,
		"message": result.Message,
		"result":  result.Result,
	})
}

func (s *Server) dispatchProxy(w http.ResponseWriter, r *http.Request, def *endpoint.ProxyEndpoint, env, tail string) {
	resp, err := s.proxy.Do(r.Context(), proxyexec.Request{
		Endpoint:    def,
		Method:      r.Method,
		TailPath:    tail,
		Query:       r.URL.RawQuery,
		Body:        r.Body,
		Header:      r.Header,
		ClientIP:    httputil.ClientIP(r),
		GatewayBase: gatewayBase(r),
		Env:         env,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// handleComposite runs a composite flow's declared step graph.
func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	env, name := vars["env"], vars["name"]

	def, ok := s.registry.Lookup(endpoint.KindComposite, name)
	if !ok || invisible(def, env) {
		writeServiceError(w, r, errors.NotFound("endpoint", name))
		return
	}

	var body map[string]any
	if !httputil.DecodeJSONOptional(w, r, &body) {
		return
	}
	if body == nil {
		body = map[string]any{}
	}

	result, err := s.composite.Execute(r.Context(), composite.Request{
		Composite:   def.Composite,
		Body:        body,
		Env:         env,
		GatewayBase: gatewayBase(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result.Results)
}

// handleWebhook persists one inbound JSON payload. The path's {id} segment
// is a webhook id, not an endpoint name: the registry locates the endpoint
// whose allowedWebhookIds contains it, so one endpoint (one sink table) can
// accept several distinct ids.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	env, id := vars["env"], vars["id"]

	def, ok := s.registry.LookupWebhookByID(id)
	if !ok || invisible(def, env) {
		writeServiceError(w, r, errors.UnknownWebhook(id))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeServiceError(w, r, errors.InvalidInput("body", "could not read request body"))
		return
	}

	connStr, ok := s.resolveConnectionString(w, r, env)
	if !ok {
		return
	}

	result, err := s.webhook.Persist(r.Context(), webhook.Request{
		ConnectionString: connStr,
		Endpoint:         def.Webhook,
		Env:              env,
		ID:               id,
		Body:             body,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": result.Success})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeServiceError(w, r, errors.NotFound("route", r.URL.Path))
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeServiceError(w, r, errors.MethodNotAllowed(r.Method, nil))
}

package httpapi

import (
	"net/http"

	"github.com/r3e-network/odata-gateway/domain/auth"
	"github.com/r3e-network/odata-gateway/infrastructure/errors"
	"github.com/r3e-network/odata-gateway/infrastructure/httputil"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// authMiddleware authenticates every request not covered by auth.Bypass,
// then authorizes the parsed route's env/scope against the principal's
// token record before handing off to the dispatcher. The same parsePath
// used here is used again by the dispatch handlers, so the two stages
// never disagree about what a path means.
func authMiddleware(gate *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.Bypass(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			rec, err := gate.Authenticate(r.Context(), auth.RequestAuthHeader(r))
			if err != nil {
				writeServiceError(w, r, err)
				return
			}

			route := parsePath(r.URL.Path)
			if err := auth.Authorize(rec, route.Env, route.Scope()); err != nil {
				writeServiceError(w, r, err)
				return
			}

			ctx := logging.WithUserID(r.Context(), rec.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeServiceError maps any error into the gateway's error envelope,
// using the error's own status/code/details when it is a ServiceError and
// falling back to a sanitised 500 otherwise.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("internal error", err)
	}
	httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

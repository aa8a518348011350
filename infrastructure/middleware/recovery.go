package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	gwerrors "github.com/r3e-network/odata-gateway/infrastructure/errors"
	"github.com/r3e-network/odata-gateway/infrastructure/httputil"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// RecoveryMiddleware turns a panic anywhere downstream into a logged 500
// instead of a dropped connection, so one bad endpoint definition or a nil
// dereference in a proxy/composite step can't take the whole process down.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger: logger,
	}
}

// Handler returns the recovery middleware handler.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":       fmt.Sprintf("%v", err),
					"stack":       string(stack),
					"path":        r.URL.Path,
					"method":      r.Method,
					"remote_addr": r.RemoteAddr,
				}).Error("panic recovered")

				serviceErr := gwerrors.Internal("internal server error", fmt.Errorf("%v", err))
				httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"net/http"

	gwerrors "github.com/r3e-network/odata-gateway/infrastructure/errors"
	"github.com/r3e-network/odata-gateway/infrastructure/httputil"
)

// defaultMaxRequestBodyBytes mirrors ServerConfig.MaxBodyBytes's own default.
const defaultMaxRequestBodyBytes int64 = 8 << 20 // 8MiB

// BodyLimitMiddleware caps request bodies so a composite or webhook POST
// with an oversized payload can't exhaust gateway memory before the
// endpoint's own allowedColumns/validation rules ever run. It applies
// http.MaxBytesReader so downstream decoders cannot read past the limit.
type BodyLimitMiddleware struct {
	maxBytes int64
}

// NewBodyLimitMiddleware creates a request body limiting middleware.
// When maxBytes <= 0, defaultMaxRequestBodyBytes is applied.
func NewBodyLimitMiddleware(maxBytes int64) *BodyLimitMiddleware {
	if maxBytes <= 0 {
		maxBytes = defaultMaxRequestBodyBytes
	}
	return &BodyLimitMiddleware{maxBytes: maxBytes}
}

// Handler returns the body limiting middleware handler.
func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || m.maxBytes <= 0 || r == nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > m.maxBytes {
			serviceErr := gwerrors.PayloadTooLarge(m.maxBytes)
			httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)
			return
		}

		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes)
		}

		next.ServeHTTP(w, r)
	})
}

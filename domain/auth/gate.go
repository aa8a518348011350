package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/r3e-network/odata-gateway/infrastructure/clock"
	"github.com/r3e-network/odata-gateway/infrastructure/errors"
)

// bypassExact and bypassPrefixes are the exact and prefix matches that skip
// authentication entirely.
var bypassExact = map[string]bool{
	"/":            true,
	"/index.html":  true,
	"/favicon.ico": true,
}

var bypassPrefixes = []string{"/swagger", "/health/live"}

// Bypass reports whether path skips authentication.
func Bypass(path string) bool {
	if bypassExact[path] {
		return true
	}
	for _, prefix := range bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Gate is the bearer-token authentication and scope/environment
// authorization gate every incoming request passes through.
type Gate struct {
	store     Store
	serverKey []byte
	clock     clock.Clock
}

// NewGate builds a Gate. serverKey seeds the HMAC prefix derivation; it
// must be stable for the process lifetime of the token store's data
// (rotating it invalidates every prefix index until tokens are re-issued).
func NewGate(store Store, serverKey []byte, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Gate{store: store, serverKey: serverKey, clock: clk}
}

// ExtractBearer pulls the opaque plaintext token out of an Authorization
// header, failing with 401 if absent or malformed.
func ExtractBearer(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.Unauthorized("")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.Unauthorized("")
	}
	return token, nil
}

// Authenticate verifies plaintext against the store and returns the
// matching active TokenRecord. Candidates are first narrowed by a
// non-reversible prefix lookup; every candidate is then PBKDF2-verified in
// constant time regardless of how many match, so timing never reveals
// whether a partial hash matched.
func (g *Gate) Authenticate(ctx context.Context, authHeader string) (*TokenRecord, error) {
	plaintext, err := ExtractBearer(authHeader)
	if err != nil {
		return nil, err
	}

	candidates, err := g.candidates(ctx, plaintext)
	if err != nil {
		return nil, errors.Internal("token lookup failed", err)
	}

	now := g.clock.Now()
	var matched *TokenRecord
	for i := range candidates {
		rec := candidates[i]
		ok := VerifyHash(plaintext, rec.TokenSalt, rec.TokenHash)
		if ok && rec.Active(now) {
			matched = &rec
		}
	}
	if matched == nil {
		return nil, errors.InvalidToken()
	}
	return matched, nil
}

func (g *Gate) candidates(ctx context.Context, plaintext string) ([]TokenRecord, error) {
	if len(g.serverKey) > 0 {
		prefix := DerivePrefix(plaintext, g.serverKey)
		rows, err := g.store.ByPrefix(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return g.store.All(ctx)
}

// Authorize checks the principal's scope/environment coverage for a parsed
// request. env or endpointScope may be empty for routes that don't carry
// one (e.g. health checks never reach here).
func Authorize(rec *TokenRecord, env, endpointScope string) error {
	if env != "" && !rec.AllowsEnvironment(env) {
		return errors.EnvironmentDenied(env, rec.AllowedEnvironments)
	}
	if endpointScope != "" && !rec.AllowsScope(endpointScope) {
		return errors.ScopeDenied(endpointScope, rec.AllowedScopes)
	}
	return nil
}

// RequestAuthHeader is a tiny convenience so HTTP handlers don't reach into
// net/http directly when building tests against Gate.
func RequestAuthHeader(r *http.Request) string {
	return r.Header.Get("Authorization")
}

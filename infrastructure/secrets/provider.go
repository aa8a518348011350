package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/r3e-network/odata-gateway/infrastructure/httputil"
)

// maxSecretBytes caps a plain-text secret response; anything larger is a
// misconfigured store, not a secret.
const maxSecretBytes = 64 << 10

// HTTPProvider resolves secrets from a remote secret-store reachable over
// HTTP, addressed by SECRET_STORE_URI. It issues GET {baseURL}/secrets/{name}
// and expects either a bare-string body or a JSON object with a "value" field.
//
// This is the concrete remote half of the environment resolver's two-tier
// lookup: callers fall back to the local settings file when GetSecret returns
// ErrNotFound or any transport error.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
	authHeader string
	authValue  string
}

// NewHTTPProvider builds a provider from a SECRET_STORE_URI value. An empty
// baseURL yields a provider whose GetSecret always reports ErrNotFound, so
// callers can construct it unconditionally and let resolution fall through.
func NewHTTPProvider(baseURL string, client *http.Client) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httputil.CopyHTTPClientWithTimeout(client, 5*time.Second, false),
	}
}

// WithBearerToken configures a static bearer token sent on every request.
func (p *HTTPProvider) WithBearerToken(token string) *HTTPProvider {
	if token == "" {
		return p
	}
	p.authHeader = "Authorization"
	p.authValue = "Bearer " + token
	return p
}

type secretEnvelope struct {
	Value string `json:"value"`
}

// GetSecret fetches a single named secret. It returns ErrNotFound for a 404
// response or an empty base URL; any other non-2xx status is returned as an
// opaque error so the caller can decide whether to fall through.
func (p *HTTPProvider) GetSecret(ctx context.Context, name string) (string, error) {
	if p.baseURL == "" {
		return "", ErrNotFound
	}

	endpoint := p.baseURL + "/secrets/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: build request for %q: %w", name, err)
	}
	if p.authHeader != "" {
		req.Header.Set(p.authHeader, p.authValue)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("secrets: fetch %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("secrets: access denied for %q (status %d)", name, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("secrets: unexpected status %d for %q", resp.StatusCode, name)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var env secretEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return "", fmt.Errorf("secrets: decode %q: %w", name, err)
		}
		return env.Value, nil
	}

	raw, err := httputil.ReadAllStrict(resp.Body, maxSecretBytes)
	if err != nil {
		return "", fmt.Errorf("secrets: read %q: %w", name, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

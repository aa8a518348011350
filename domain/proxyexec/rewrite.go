package proxyexec

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// RewriteBody replaces occurrences of the upstream base URL (and bare host,
// when quoted) with the gateway-facing equivalent. If the body isn't
// recognisably JSON/text, it is returned unmodified without logging; if the
// target URL fails to parse, it is returned unmodified and a warning is
// logged — rewriting never panics or corrupts an opaque payload it can't
// safely touch.
func RewriteBody(body []byte, contentType, targetURL, gatewayBase, env, endpointName string, logger *logging.Logger) []byte {
	if !looksRewritable(contentType, body) {
		return body
	}

	parsed, err := url.Parse(strings.TrimRight(targetURL, "/"))
	if err != nil || parsed.Host == "" {
		if logger != nil {
			logger.WithField("targetUrl", targetURL).WithError(err).Warn("proxy rewrite: could not parse target URL, passing through")
		}
		return body
	}

	gatewayTarget := strings.TrimRight(gatewayBase, "/") + "/api/" + env + "/" + endpointName
	baseURL := strings.TrimRight(targetURL, "/")
	host := parsed.Host

	text := string(body)

	// 1. Full base URL plus any sub-path: preserve the path tail.
	text = rewriteBaseURLWithTail(text, baseURL, gatewayTarget)

	// 2. Host-only occurrences, anchored inside quotes so we don't touch
	// substrings of unrelated words.
	text = rewriteQuotedHost(text, host, extractHost(gatewayTarget))

	return []byte(text)
}

func looksRewritable(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "json") || strings.Contains(ct, "text/") {
		return true
	}
	if ct == "" {
		trimmed := strings.TrimSpace(string(body))
		return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
	}
	return false
}

func rewriteBaseURLWithTail(text, baseURL, gatewayTarget string) string {
	pattern := regexp.MustCompile(regexp.QuoteMeta(baseURL) + `([^"'\s]*)`)
	return pattern.ReplaceAllStringFunc(text, func(match string) string {
		tail := strings.TrimPrefix(match, baseURL)
		return gatewayTarget + tail
	})
}

func rewriteQuotedHost(text, host, gatewayHost string) string {
	if host == "" || gatewayHost == "" {
		return text
	}
	pattern := regexp.MustCompile(`(["'])` + regexp.QuoteMeta(host) + `(["'])`)
	return pattern.ReplaceAllString(text, fmt.Sprintf("${1}%s${2}", gatewayHost))
}

func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

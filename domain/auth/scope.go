package auth

import "strings"

// matchesCSV reports whether target matches any entry of a CSV allow-list:
// an entry matches when it is "*", equals target case-insensitively, or
// ends with "*" and its prefix matches target case-insensitively.
func matchesCSV(csv, target string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if entry == "*" {
			return true
		}
		if entry == target {
			return true
		}
		if strings.HasSuffix(entry, "*") && strings.HasPrefix(target, strings.TrimSuffix(entry, "*")) {
			return true
		}
	}
	return false
}

// AllowsScope reports whether the token's allowedScopes CSV covers the
// requested endpoint scope (bare name, or "composite/<name>"/"webhook/<name>").
func (t TokenRecord) AllowsScope(scope string) bool {
	if scope == "" {
		return true
	}
	return matchesCSV(t.AllowedScopes, scope)
}

// AllowsEnvironment reports whether the token's allowedEnvironments CSV
// covers the requested env path segment.
func (t TokenRecord) AllowsEnvironment(env string) bool {
	if env == "" {
		return true
	}
	return matchesCSV(t.AllowedEnvironments, env)
}

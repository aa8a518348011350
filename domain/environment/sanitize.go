package environment

import "strings"

// preservedKeys are connection-string tokens safe to log verbatim.
var preservedKeys = map[string]bool{
	"server":          true,
	"database":        true,
	"data source":     true,
	"initial catalog": true,
}

// secretKeys are always masked regardless of value.
var secretKeys = map[string]bool{
	"password": true,
	"pwd":      true,
}

// SanitizeConnectionString masks credential-bearing tokens in a SQL Server
// style "key=value;key=value" connection string for safe logging: password
// and pwd are always replaced by "***"; server/database/data source/initial
// catalog are preserved; every other key's value is masked.
func SanitizeConnectionString(raw string) string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx < 0 {
			out = append(out, "***")
			continue
		}
		key := strings.TrimSpace(part[:idx])
		lowerKey := strings.ToLower(key)
		switch {
		case secretKeys[lowerKey]:
			out = append(out, key+"=***")
		case preservedKeys[lowerKey]:
			out = append(out, part)
		default:
			out = append(out, key+"=***")
		}
	}
	return strings.Join(out, ";")
}

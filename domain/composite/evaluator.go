package composite

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/r3e-network/odata-gateway/infrastructure/errors"
)

// capturedStep is the JSON-encoded result of a previously executed step,
// kept as raw bytes so $prev expressions can be resolved with gjson
// without a full unmarshal round-trip.
type capturedStep struct {
	isArray bool
	single  []byte
	array   [][]byte
}

// evaluateExpression resolves one templateTransformations value against the
// steps executed so far. Anything that isn't "$guid" or a "$prev." prefix is
// treated as a literal string, passed through unchanged.
func evaluateExpression(expr string, results map[string]capturedStep) (any, error) {
	switch {
	case expr == "$guid":
		return uuid.NewString(), nil
	case strings.HasPrefix(expr, "$prev."):
		return evaluatePrev(expr, results)
	default:
		return expr, nil
	}
}

func evaluatePrev(expr string, results map[string]capturedStep) (any, error) {
	rest := strings.TrimPrefix(expr, "$prev.")
	parts := strings.SplitN(rest, ".", 2)
	if parts[0] == "" {
		return nil, errors.UnresolvedTemplate(expr)
	}
	stepName := parts[0]
	var path string
	if len(parts) == 2 {
		path = parts[1]
	}

	cs, ok := results[stepName]
	if !ok {
		return nil, errors.UnresolvedTemplate(expr)
	}

	if cs.isArray {
		idx, remainder, ok := splitLeadingIndex(path)
		if !ok || idx < 0 || idx >= len(cs.array) {
			return nil, errors.UnresolvedTemplate(expr)
		}
		return extractValue(cs.array[idx], remainder, expr)
	}
	return extractValue(cs.single, path, expr)
}

func extractValue(data []byte, path, expr string) (any, error) {
	if path == "" {
		return string(data), nil
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return nil, errors.UnresolvedTemplate(expr)
	}
	return res.Value(), nil
}

func splitLeadingIndex(path string) (idx int, remainder string, ok bool) {
	segment := path
	if i := strings.IndexByte(path, '.'); i >= 0 {
		segment = path[:i]
		remainder = path[i+1:]
	}
	n, err := strconv.Atoi(segment)
	if err != nil {
		return 0, "", false
	}
	return n, remainder, true
}

// Package httpapi wires the gateway's four executors behind a single HTTP
// surface: path parsing, authentication/authorization, dispatch, and
// health reporting.
package httpapi

import (
	"strings"
)

// routeKind discriminates how a parsed path should be dispatched, distinct
// from endpoint.Kind because a bare "/api/{env}/{name}" segment doesn't
// know yet whether it addresses a SQL or Proxy endpoint.
type routeKind int

const (
	routeUnknown routeKind = iota
	routeSQLOrProxy
	routeComposite
	routeWebhook
)

// Route is the parsed shape of an inbound request path, computed once and
// shared between the auth middleware (which needs Env/Scope) and the
// dispatch handlers (which need Name/Tail too), so the two never disagree
// about what a path means.
type Route struct {
	Kind routeKind
	Env  string
	Name string
	Tail string // remaining path segments after Name, joined with "/"
}

// Scope returns the token-scope name this route is addressed by, mirroring
// endpoint.Definition.Scope's namespacing convention.
func (rt Route) Scope() string {
	switch rt.Kind {
	case routeComposite:
		return "composite/" + rt.Name
	case routeWebhook:
		return "webhook/" + rt.Name
	case routeSQLOrProxy:
		return rt.Name
	default:
		return ""
	}
}

// parsePath parses "/api/{env}/composite/{name}", "/api/{env}/{name}",
// "/api/{env}/{name}/{tail...}" and "/webhook/{env}/{id}" per the
// dispatcher's routing table. The zero Route (routeUnknown) signals a path
// this function doesn't recognise at all.
func parsePath(path string) Route {
	segments := splitPath(path)

	if len(segments) >= 3 && segments[0] == "webhook" {
		return Route{Kind: routeWebhook, Env: segments[1], Name: segments[2]}
	}

	if len(segments) >= 3 && segments[0] == "api" {
		env := segments[1]
		if segments[2] == "composite" {
			if len(segments) < 4 {
				return Route{}
			}
			return Route{Kind: routeComposite, Env: env, Name: segments[3]}
		}
		name := segments[2]
		tail := ""
		if len(segments) > 3 {
			tail = strings.Join(segments[3:], "/")
		}
		return Route{Kind: routeSQLOrProxy, Env: env, Name: name, Tail: tail}
	}

	return Route{}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

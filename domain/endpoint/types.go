// Package endpoint loads and hot-watches the per-endpoint JSON definitions
// that drive dispatch: which table or upstream a request addresses, which
// methods and columns are permitted, and (for composites) the step graph.
package endpoint

import "strings"

// Kind discriminates the four endpoint definition variants.
type Kind string

const (
	KindSQL       Kind = "SQL"
	KindProxy     Kind = "Proxy"
	KindComposite Kind = "Composite"
	KindWebhook   Kind = "Webhooks"
)

// Method is an allowed HTTP verb for an endpoint.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// StringSet is a case-insensitive membership set, used for allowedColumns,
// allowedEnvironments and method sets. An empty set means "no restriction";
// callers must check Len() before treating absence as denial.
type StringSet map[string]struct{}

// NewStringSet builds a StringSet from raw values, lower-casing each member.
func NewStringSet(values ...string) StringSet {
	set := make(StringSet, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Has reports case-insensitive membership.
func (s StringSet) Has(value string) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

func (s StringSet) Len() int { return len(s) }

// Values returns the set's members as a sorted-free slice (order not
// guaranteed), used for echoing "allowed" sets back in error bodies.
func (s StringSet) Values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	return out
}

// SQLEndpoint is a table or view exposed via OData-flavoured GET plus an
// optional stored-procedure write path.
type SQLEndpoint struct {
	Name                string
	Schema              string
	ObjectName          string
	PrimaryKey          string
	AllowedColumns      StringSet
	AllowedMethods      StringSet
	Procedure           string
	AllowedEnvironments StringSet
}

// ProxyEndpoint forwards to an arbitrary upstream HTTP target.
type ProxyEndpoint struct {
	Name                string
	TargetURL           string
	AllowedMethods      StringSet
	IsPrivate           bool
	AllowedEnvironments StringSet
}

// Step is one leg of a CompositeConfig's flow.
type Step struct {
	Name                    string
	Endpoint                string
	Method                  Method
	DependsOn               string
	SourceProperty          string
	IsArray                 bool
	ArrayProperty           string
	TemplateTransformations map[string]string
}

// CompositeConfig is the ordered step graph for a composite endpoint.
type CompositeConfig struct {
	Name        string
	Description string
	Steps       []Step
}

// CompositeEndpoint chains ProxyEndpoint calls with value propagation.
type CompositeEndpoint struct {
	Name                string
	BaseURL             string
	AllowedMethods      StringSet
	AllowedEnvironments StringSet
	Config              CompositeConfig
}

// WebhookEndpoint persists inbound JSON into a table, one row per request,
// gated by an allow-list of webhook ids.
type WebhookEndpoint struct {
	Name                string
	Schema              string
	Table               string
	AllowedWebhookIDs   StringSet
	AllowedEnvironments StringSet
}

// Definition is the discriminated union published by the registry. Exactly
// one of the kind-specific pointers is non-nil, matching Kind.
type Definition struct {
	Kind      Kind
	SQL       *SQLEndpoint
	Proxy     *ProxyEndpoint
	Composite *CompositeEndpoint
	Webhook   *WebhookEndpoint
}

// AllowedEnvironments returns the environment allow-set regardless of kind.
func (d Definition) AllowedEnvironments() StringSet {
	switch d.Kind {
	case KindSQL:
		return d.SQL.AllowedEnvironments
	case KindProxy:
		return d.Proxy.AllowedEnvironments
	case KindComposite:
		return d.Composite.AllowedEnvironments
	case KindWebhook:
		return d.Webhook.AllowedEnvironments
	default:
		return nil
	}
}

// AllowedMethods returns the method allow-set regardless of kind. Webhook
// endpoints only ever accept POST, so this returns a fixed set for them.
func (d Definition) AllowedMethods() StringSet {
	switch d.Kind {
	case KindSQL:
		return d.SQL.AllowedMethods
	case KindProxy:
		return d.Proxy.AllowedMethods
	case KindComposite:
		return d.Composite.AllowedMethods
	case KindWebhook:
		return NewStringSet(string(MethodPost))
	default:
		return nil
	}
}

// Name returns the endpoint's plain name regardless of kind, used as the
// registry's lookup key together with Kind.
func (d Definition) Name() string {
	switch d.Kind {
	case KindSQL:
		return d.SQL.Name
	case KindProxy:
		return d.Proxy.Name
	case KindComposite:
		return d.Composite.Name
	case KindWebhook:
		return d.Webhook.Name
	default:
		return ""
	}
}

// Scope returns the token-scope name this endpoint is addressed by:
// composites are namespaced "composite/<name>", webhooks "webhook/<name>",
// SQL and proxy endpoints by bare name.
func (d Definition) Scope() string {
	switch d.Kind {
	case KindComposite:
		return "composite/" + d.Composite.Name
	case KindWebhook:
		return "webhook/" + d.Webhook.Name
	case KindSQL:
		return d.SQL.Name
	case KindProxy:
		return d.Proxy.Name
	default:
		return ""
	}
}

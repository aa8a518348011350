package endpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/r3e-network/odata-gateway/infrastructure/httputil"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

// rawEntity mirrors the on-disk entity.json shape across all kinds; unused
// fields for a given kind are simply left zero.
type rawEntity struct {
	Name                string            `json:"Name"`
	Schema              string            `json:"Schema"`
	ObjectName          string            `json:"ObjectName"`
	PrimaryKey          string            `json:"PrimaryKey"`
	AllowedColumns      []string          `json:"AllowedColumns"`
	AllowedMethods      []string          `json:"AllowedMethods"`
	AllowedEnvironments []string          `json:"AllowedEnvironments"`
	Procedure           string            `json:"Procedure"`
	TargetURL           string            `json:"TargetUrl"`
	IsPrivate           bool              `json:"IsPrivate"`
	Type                string            `json:"Type"`
	BaseURL             string            `json:"BaseUrl"`
	Table               string            `json:"Table"`
	AllowedWebhookIDs   []string          `json:"AllowedWebhookIds"`
	Config              *rawCompositeConf `json:"Config"`
}

type rawCompositeConf struct {
	Name        string    `json:"Name"`
	Description string    `json:"Description"`
	Steps       []rawStep `json:"Steps"`
}

type rawStep struct {
	Name                    string            `json:"Name"`
	Endpoint                string            `json:"Endpoint"`
	Method                  string            `json:"Method"`
	DependsOn               string            `json:"DependsOn"`
	SourceProperty          string            `json:"SourceProperty"`
	IsArray                 bool              `json:"IsArray"`
	ArrayProperty           string            `json:"ArrayProperty"`
	TemplateTransformations map[string]string `json:"TemplateTransformations"`
}

// defaultMethodsFor returns the per-kind default allowedMethods when
// the definition omits the field.
func defaultMethodsFor(kind Kind) []string {
	switch kind {
	case KindSQL:
		return []string{"GET"}
	case KindProxy, KindComposite:
		return []string{"GET", "POST", "PUT", "DELETE"}
	default:
		return nil
	}
}

// parseEntity parses and validates a single entity.json for the given kind,
// directory name (used as a fallback Name) and raw bytes.
func parseEntity(kind Kind, dirName string, data []byte) (Definition, error) {
	var raw rawEntity
	if err := json.Unmarshal(data, &raw); err != nil {
		return Definition{}, fmt.Errorf("parse %s: %w", dirName, err)
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		name = dirName
	}

	methods := raw.AllowedMethods
	if len(methods) == 0 {
		methods = defaultMethodsFor(kind)
	}
	allowedEnvs := NewStringSet(raw.AllowedEnvironments...)

	switch kind {
	case KindSQL:
		if strings.TrimSpace(raw.ObjectName) == "" {
			return Definition{}, fmt.Errorf("sql endpoint %q: ObjectName is required", name)
		}
		schema := strings.TrimSpace(raw.Schema)
		if schema == "" {
			schema = "dbo"
		}
		return Definition{
			Kind: KindSQL,
			SQL: &SQLEndpoint{
				Name:                name,
				Schema:              schema,
				ObjectName:          raw.ObjectName,
				PrimaryKey:          raw.PrimaryKey,
				AllowedColumns:      NewStringSet(raw.AllowedColumns...),
				AllowedMethods:      NewStringSet(methods...),
				Procedure:           strings.TrimSpace(raw.Procedure),
				AllowedEnvironments: allowedEnvs,
			},
		}, nil

	case KindProxy:
		if strings.TrimSpace(raw.Type) == "Composite" {
			if raw.Config == nil {
				return Definition{}, fmt.Errorf("composite endpoint %q: Config is required", name)
			}
			cfg, err := parseCompositeConfig(name, raw.Config)
			if err != nil {
				return Definition{}, err
			}
			baseURL := strings.TrimSpace(raw.BaseURL)
			if baseURL != "" {
				normalized, _, err := httputil.NormalizeBaseURL(baseURL, httputil.BaseURLOptions{})
				if err != nil {
					return Definition{}, fmt.Errorf("composite endpoint %q: BaseUrl: %w", name, err)
				}
				baseURL = normalized
			}
			return Definition{
				Kind: KindComposite,
				Composite: &CompositeEndpoint{
					Name:                name,
					BaseURL:             baseURL,
					AllowedMethods:      NewStringSet(methods...),
					AllowedEnvironments: allowedEnvs,
					Config:              cfg,
				},
			}, nil
		}
		if strings.TrimSpace(raw.TargetURL) == "" {
			return Definition{}, fmt.Errorf("proxy endpoint %q: TargetUrl is required", name)
		}
		targetURL, _, err := httputil.NormalizeUpstreamBaseURL(raw.TargetURL)
		if err != nil {
			return Definition{}, fmt.Errorf("proxy endpoint %q: TargetUrl: %w", name, err)
		}
		return Definition{
			Kind: KindProxy,
			Proxy: &ProxyEndpoint{
				Name:                name,
				TargetURL:           targetURL,
				AllowedMethods:      NewStringSet(methods...),
				IsPrivate:           raw.IsPrivate,
				AllowedEnvironments: allowedEnvs,
			},
		}, nil

	case KindWebhook:
		if strings.TrimSpace(raw.Table) == "" {
			return Definition{}, fmt.Errorf("webhook endpoint %q: Table is required", name)
		}
		schema := strings.TrimSpace(raw.Schema)
		if schema == "" {
			schema = "dbo"
		}
		return Definition{
			Kind: KindWebhook,
			Webhook: &WebhookEndpoint{
				Name:                name,
				Schema:              schema,
				Table:               raw.Table,
				AllowedWebhookIDs:   NewStringSet(raw.AllowedWebhookIDs...),
				AllowedEnvironments: allowedEnvs,
			},
		}, nil

	default:
		return Definition{}, fmt.Errorf("unknown kind %q", kind)
	}
}

// prevStepRef extracts the step name out of a "$prev.<step>.<path>"
// template expression, mirroring how the composite executor's evaluator
// parses it at request time. ok is false for any other expression shape
// ($guid, literals).
func prevStepRef(expr string) (step string, ok bool) {
	const prefix = "$prev."
	if !strings.HasPrefix(expr, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(expr, prefix)
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	return rest, true
}

func parseCompositeConfig(endpointName string, raw *rawCompositeConf) (CompositeConfig, error) {
	cfgName := strings.TrimSpace(raw.Name)
	if cfgName == "" {
		cfgName = endpointName
	}

	steps := make([]Step, 0, len(raw.Steps))
	seen := make(map[string]int, len(raw.Steps))
	for i, rs := range raw.Steps {
		name := strings.TrimSpace(rs.Name)
		if name == "" {
			return CompositeConfig{}, fmt.Errorf("composite %q: step %d has no Name", endpointName, i)
		}
		if strings.TrimSpace(rs.Endpoint) == "" {
			return CompositeConfig{}, fmt.Errorf("composite %q: step %q has no Endpoint", endpointName, name)
		}
		method := Method(strings.ToUpper(strings.TrimSpace(rs.Method)))
		if method == "" {
			method = MethodPost
		}
		if depIdx, dependsSet := seen[rs.DependsOn]; rs.DependsOn != "" {
			if !dependsSet {
				return CompositeConfig{}, fmt.Errorf("composite %q: step %q depends on undeclared or forward step %q", endpointName, name, rs.DependsOn)
			}
			_ = depIdx
		}
		for field, expr := range rs.TemplateTransformations {
			ref, ok := prevStepRef(expr)
			if !ok {
				continue
			}
			if _, declared := seen[ref]; !declared {
				return CompositeConfig{}, fmt.Errorf("composite %q: step %q field %q references undeclared or forward step %q", endpointName, name, field, ref)
			}
		}
		seen[name] = i
		steps = append(steps, Step{
			Name:                    name,
			Endpoint:                rs.Endpoint,
			Method:                  method,
			DependsOn:               rs.DependsOn,
			SourceProperty:          rs.SourceProperty,
			IsArray:                 rs.IsArray,
			ArrayProperty:           rs.ArrayProperty,
			TemplateTransformations: rs.TemplateTransformations,
		})
	}

	return CompositeConfig{Name: cfgName, Description: raw.Description, Steps: steps}, nil
}

// loadTree walks root/<Kind>/<Name>/entity.json for each known kind,
// recording a parse error per failed leaf without aborting sibling loads.
//
// attempted carries one entry per <Kind>/<dirName> directory that still
// exists on disk, whether or not its entity.json parsed successfully, so
// Reload can distinguish "failed to reparse" (key absent from defs but
// present in attempted, via its provisional dirName-based key) from
// "directory removed" (absent from attempted entirely) without guessing.
func loadTree(root string, logger *logging.Logger) (defs map[string]Definition, errs []error, attempted map[string]bool) {
	defs = make(map[string]Definition)
	attempted = make(map[string]bool)

	kinds := []Kind{KindSQL, KindProxy, KindWebhook}
	for _, kind := range kinds {
		kindDir := filepath.Join(root, string(kind))
		entries, err := os.ReadDir(kindDir)
		if err != nil {
			continue // absent kind directory is not an error
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dirName := entry.Name()
			provisionalKey := registryKey(kind, dirName)
			entityPath := filepath.Join(kindDir, dirName, "entity.json")
			data, err := os.ReadFile(entityPath)
			if err != nil {
				if !os.IsNotExist(err) {
					errs = append(errs, fmt.Errorf("read %s: %w", entityPath, err))
					attempted[provisionalKey] = true
				}
				continue
			}
			attempted[provisionalKey] = true
			def, err := parseEntity(kind, dirName, data)
			if err != nil {
				errs = append(errs, err)
				if logger != nil {
					logger.WithField("path", entityPath).WithError(err).Warn("endpoint parse failed, keeping prior definition")
				}
				continue
			}
			key := registryKey(def.Kind, def.Name())
			defs[key] = def
			if key != provisionalKey {
				attempted[key] = true
			}
		}
	}
	return defs, errs, attempted
}

package endpoint

import (
	"strings"
	"sync/atomic"

	"github.com/r3e-network/odata-gateway/infrastructure/logging"
)

func registryKey(kind Kind, name string) string {
	return string(kind) + "/" + strings.ToLower(strings.TrimSpace(name))
}

// Registry exposes lock-free lookups over a directory-watched catalogue of
// endpoint definitions. Updates build a fresh map and swap it in atomically;
// readers always observe a complete old or new snapshot, never a partial one.
type Registry struct {
	root    string
	logger  *logging.Logger
	snap    atomic.Pointer[map[string]Definition]
	watcher *watcher
}

// New loads the endpoint tree rooted at root and returns a Registry with a
// live snapshot. Parse errors are logged and returned but do not prevent the
// registry from publishing the definitions that did parse.
func New(root string, logger *logging.Logger) (*Registry, []error) {
	r := &Registry{root: root, logger: logger}
	defs, errs, _ := loadTree(root, logger)
	r.publish(defs)
	return r, errs
}

func (r *Registry) publish(defs map[string]Definition) {
	snapshot := defs
	r.snap.Store(&snapshot)
}

func (r *Registry) current() map[string]Definition {
	p := r.snap.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Lookup returns the definition for {kind, name}, if present.
func (r *Registry) Lookup(kind Kind, name string) (Definition, bool) {
	defs := r.current()
	def, ok := defs[registryKey(kind, name)]
	return def, ok
}

// LookupSQLOrProxy resolves a bare "/api/{env}/{name}" route: SQL takes
// priority over Proxy when both are registered under the same name.
func (r *Registry) LookupSQLOrProxy(name string) (Definition, bool) {
	if def, ok := r.Lookup(KindSQL, name); ok {
		return def, true
	}
	return r.Lookup(KindProxy, name)
}

// LookupWebhookByID resolves an inbound webhook {id} to the endpoint whose
// AllowedWebhookIDs contains it. One endpoint (and so one sink table) can
// accept several distinct ids; the id is a member of an allow-list, not the
// endpoint's registry name. When no allow-list matches, an endpoint with an
// empty AllowedWebhookIDs set serves as the unrestricted catch-all. Ties are
// broken by name order so concurrent snapshots resolve identically.
func (r *Registry) LookupWebhookByID(id string) (Definition, bool) {
	defs := r.current()
	prefix := string(KindWebhook) + "/"

	var matched, catchAll Definition
	var haveMatch, haveCatchAll bool
	for key, def := range defs {
		if !strings.HasPrefix(key, prefix) || def.Webhook == nil {
			continue
		}
		if def.Webhook.AllowedWebhookIDs.Has(id) {
			if !haveMatch || def.Webhook.Name < matched.Webhook.Name {
				matched = def
				haveMatch = true
			}
			continue
		}
		if def.Webhook.AllowedWebhookIDs.Len() == 0 {
			if !haveCatchAll || def.Webhook.Name < catchAll.Webhook.Name {
				catchAll = def
				haveCatchAll = true
			}
		}
	}
	if haveMatch {
		return matched, true
	}
	if haveCatchAll {
		return catchAll, true
	}
	return Definition{}, false
}

// List returns the names of every loaded endpoint of the given kind.
func (r *Registry) List(kind Kind) []string {
	defs := r.current()
	names := make([]string, 0, len(defs))
	prefix := string(kind) + "/"
	for key, def := range defs {
		if strings.HasPrefix(key, prefix) {
			names = append(names, def.Name())
		}
	}
	return names
}

// Reload re-walks the root directory and swaps in a fresh snapshot.
// A key whose entity.json failed to reparse this pass keeps its prior
// definition (attempted[key] true, fresh[key] absent); a key whose
// directory vanished entirely is purged (attempted[key] false).
func (r *Registry) Reload() []error {
	fresh, errs, attempted := loadTree(r.root, r.logger)
	prior := r.current()

	merged := make(map[string]Definition, len(fresh))
	for key, def := range fresh {
		merged[key] = def
	}
	for key, def := range prior {
		if _, ok := merged[key]; ok {
			continue
		}
		if attempted[key] {
			merged[key] = def
		}
	}
	r.publish(merged)
	return errs
}

// Close stops the background watcher, if one was started via Watch.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.close()
	}
	return nil
}

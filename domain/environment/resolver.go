// Package environment resolves the per-tenant {env} path segment into a
// connection string and server name, preferring a remote secret store and
// falling back to local JSON settings files. Resolved entries are cached
// for the process lifetime: secrets are rolled by restarting the process,
// not by re-resolving mid-run.
package environment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/r3e-network/odata-gateway/infrastructure/errors"
	"github.com/r3e-network/odata-gateway/infrastructure/logging"
	"github.com/r3e-network/odata-gateway/infrastructure/secrets"
)

// Record is a resolved environment's connection details.
type Record struct {
	ConnectionString string
	ServerName       string
}

// localSettings mirrors environments/<env>/settings.json.
type localSettings struct {
	ServerName       string `json:"ServerName"`
	ConnectionString string `json:"ConnectionString"`
}

// Resolver resolves an env name to a Record, caching results in-process.
type Resolver struct {
	root     string
	provider secrets.Provider
	logger   *logging.Logger

	mu       sync.Mutex
	cache    map[string]Record
	inflight map[string]*sync.WaitGroup
}

// New builds a Resolver. provider may be nil (remote lookup always falls
// through to local). root is the directory containing <env>/settings.json.
func New(root string, provider secrets.Provider, logger *logging.Logger) *Resolver {
	return &Resolver{
		root:     root,
		provider: provider,
		logger:   logger,
		cache:    make(map[string]Record),
		inflight: make(map[string]*sync.WaitGroup),
	}
}

// Resolve returns the cached Record for env, resolving and caching it on
// first use. Concurrent callers for the same unresolved env single-flight
// onto one resolution.
func (r *Resolver) Resolve(ctx context.Context, env string) (Record, error) {
	r.mu.Lock()
	if rec, ok := r.cache[env]; ok {
		r.mu.Unlock()
		return rec, nil
	}
	if wg, ok := r.inflight[env]; ok {
		r.mu.Unlock()
		wg.Wait()
		r.mu.Lock()
		rec, ok := r.cache[env]
		r.mu.Unlock()
		if !ok {
			return Record{}, errors.EnvironmentUnknown(env)
		}
		return rec, nil
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	r.inflight[env] = wg
	r.mu.Unlock()

	rec, err := r.resolveUncached(ctx, env)

	r.mu.Lock()
	if err == nil {
		r.cache[env] = rec
	}
	delete(r.inflight, env)
	r.mu.Unlock()
	wg.Done()

	return rec, err
}

func (r *Resolver) resolveUncached(ctx context.Context, env string) (Record, error) {
	if r.provider != nil {
		rec, err := r.resolveRemote(ctx, env)
		if err == nil {
			return rec, nil
		}
		if r.logger != nil {
			r.logger.WithField("env", env).WithError(err).Warn("secret store lookup failed, falling back to local settings")
		}
	}
	return r.resolveLocal(env)
}

func (r *Resolver) resolveRemote(ctx context.Context, env string) (Record, error) {
	connSecret, err := r.provider.GetSecret(ctx, env+"-ConnectionString")
	if err != nil {
		return Record{}, err
	}
	serverSecret, err := r.provider.GetSecret(ctx, env+"-ServerName")
	if err != nil {
		return Record{}, err
	}
	if connSecret == "" {
		return Record{}, fmt.Errorf("environment %q: remote ConnectionString secret is empty", env)
	}
	return Record{ConnectionString: connSecret, ServerName: serverSecret}, nil
}

func (r *Resolver) resolveLocal(env string) (Record, error) {
	path := filepath.Join(r.root, env, "settings.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, errors.EnvironmentUnknown(env)
	}
	var settings localSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Record{}, fmt.Errorf("environment %q: parse %s: %w", env, path, err)
	}
	if settings.ConnectionString == "" {
		return Record{}, fmt.Errorf("environment %q: ConnectionString is required in %s", env, path)
	}
	return Record{ConnectionString: settings.ConnectionString, ServerName: settings.ServerName}, nil
}

// Package secrets provides a remote secret-store client used to resolve
// per-environment connection strings and server names.
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound indicates the named secret does not exist in the store.
var ErrNotFound = errors.New("secret not found")

// Provider resolves a named secret value from a remote store.
//
// Implementations must return ErrNotFound (or a wrapped instance of it) when
// the secret is absent so callers can fall through to a local fallback
// without treating the miss as a hard failure.
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/odata-gateway/infrastructure/clock"
	gwerrors "github.com/r3e-network/odata-gateway/infrastructure/errors"
)

var serverKey = []byte("test-server-key")

func newTestRecord(plaintext string, scopes, envs string, expiresAt, revokedAt *time.Time) TokenRecord {
	salt := []byte("fixed-salt-for-tests-only")
	return TokenRecord{
		ID:                  1,
		Username:            "svc-account",
		TokenHash:           DeriveHash(plaintext, salt),
		TokenSalt:           salt,
		TokenPrefix:         DerivePrefix(plaintext, serverKey),
		CreatedAt:           time.Now(),
		ExpiresAt:           expiresAt,
		RevokedAt:           revokedAt,
		AllowedScopes:       scopes,
		AllowedEnvironments: envs,
	}
}

func TestGate_AuthenticateSuccess(t *testing.T) {
	rec := newTestRecord("secret-token", "Products,Cust*", "prod,dev", nil, nil)
	store := NewMemoryStore([]TokenRecord{rec})
	gate := NewGate(store, serverKey, clock.Real{})

	got, err := gate.Authenticate(context.Background(), "Bearer secret-token")
	require.NoError(t, err)
	assert.Equal(t, "svc-account", got.Username)
}

func TestGate_MissingHeader(t *testing.T) {
	gate := NewGate(NewMemoryStore(nil), serverKey, clock.Real{})
	_, err := gate.Authenticate(context.Background(), "")
	require.Error(t, err)
	se := gwerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, 401, se.HTTPStatus)
}

func TestGate_WrongToken(t *testing.T) {
	rec := newTestRecord("secret-token", "*", "*", nil, nil)
	store := NewMemoryStore([]TokenRecord{rec})
	gate := NewGate(store, serverKey, clock.Real{})

	_, err := gate.Authenticate(context.Background(), "Bearer wrong-token")
	require.Error(t, err)
	se := gwerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, 401, se.HTTPStatus)
}

func TestGate_ExpiredTokenRejected(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	rec := newTestRecord("secret-token", "*", "*", &past, nil)
	store := NewMemoryStore([]TokenRecord{rec})
	gate := NewGate(store, serverKey, clock.Real{})

	_, err := gate.Authenticate(context.Background(), "Bearer secret-token")
	require.Error(t, err)
}

func TestGate_RevokedTokenRejected(t *testing.T) {
	now := time.Now()
	rec := newTestRecord("secret-token", "*", "*", nil, &now)
	store := NewMemoryStore([]TokenRecord{rec})
	gate := NewGate(store, serverKey, clock.Real{})

	_, err := gate.Authenticate(context.Background(), "Bearer secret-token")
	require.Error(t, err)
}

func TestAuthorize_ScopeDenied(t *testing.T) {
	rec := newTestRecord("t", "Products,Cust*", "*", nil, nil)
	err := Authorize(&rec, "prod", "Orders")
	require.Error(t, err)
	se := gwerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, 403, se.HTTPStatus)
	assert.Equal(t, "Orders", se.Details["requestedEndpoint"])
	assert.Equal(t, "Products,Cust*", se.Details["availableScopes"])
}

func TestAuthorize_EnvironmentDenied(t *testing.T) {
	rec := newTestRecord("t", "*", "prod,dev", nil, nil)
	err := Authorize(&rec, "staging", "Products")
	require.Error(t, err)
	se := gwerrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, 403, se.HTTPStatus)
}

func TestAuthorize_WildcardPrefixScope(t *testing.T) {
	rec := newTestRecord("t", "Cust*", "*", nil, nil)
	require.NoError(t, Authorize(&rec, "prod", "CustomerOrders"))
}

func TestBypass(t *testing.T) {
	assert.True(t, Bypass("/"))
	assert.True(t, Bypass("/swagger/index.html"))
	assert.True(t, Bypass("/health/live"))
	assert.True(t, Bypass("/favicon.ico"))
	assert.False(t, Bypass("/api/prod/Products"))
}

package environment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwsecrets "github.com/r3e-network/odata-gateway/infrastructure/secrets"
)

type fakeProvider struct {
	values map[string]string
	err    error
}

func (f *fakeProvider) GetSecret(ctx context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if v, ok := f.values[name]; ok {
		return v, nil
	}
	return "", gwsecrets.ErrNotFound
}

func writeLocalSettings(t *testing.T, root, env, connStr, server string) {
	t.Helper()
	dir := filepath.Join(root, env)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	body := `{"ServerName": "` + server + `", "ConnectionString": "` + connStr + `"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(body), 0o644))
}

func TestResolver_RemoteWins(t *testing.T) {
	root := t.TempDir()
	writeLocalSettings(t, root, "prod", "Server=local;", "local-srv")
	provider := &fakeProvider{values: map[string]string{
		"prod-ConnectionString": "Server=remote;",
		"prod-ServerName":       "remote-srv",
	}}
	r := New(root, provider, nil)

	rec, err := r.Resolve(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, "Server=remote;", rec.ConnectionString)
	assert.Equal(t, "remote-srv", rec.ServerName)
}

func TestResolver_FallsThroughOnRemoteFailure(t *testing.T) {
	root := t.TempDir()
	writeLocalSettings(t, root, "dev", "Server=local;", "local-srv")
	provider := &fakeProvider{err: errors.New("access denied")}
	r := New(root, provider, nil)

	rec, err := r.Resolve(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, "Server=local;", rec.ConnectionString)
}

func TestResolver_UnknownEnvironment(t *testing.T) {
	root := t.TempDir()
	r := New(root, nil, nil)
	_, err := r.Resolve(context.Background(), "ghost")
	require.Error(t, err)
}

func TestResolver_CachesAfterFirstResolve(t *testing.T) {
	root := t.TempDir()
	writeLocalSettings(t, root, "600", "Server=local;", "srv")
	r := New(root, nil, nil)

	rec1, err := r.Resolve(context.Background(), "600")
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "600")))

	rec2, err := r.Resolve(context.Background(), "600")
	require.NoError(t, err)
	assert.Equal(t, rec1, rec2)
}

func TestSanitizeConnectionString(t *testing.T) {
	in := "Server=tcp:db.example.com;Database=orders;User Id=svc;Password=hunter2;Pwd=hunter2"
	out := SanitizeConnectionString(in)
	assert.Contains(t, out, "Server=tcp:db.example.com")
	assert.Contains(t, out, "Database=orders")
	assert.Contains(t, out, "Password=***")
	assert.Contains(t, out, "Pwd=***")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "User Id=svc")
}

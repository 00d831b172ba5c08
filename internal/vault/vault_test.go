package vault_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviora/carrier/internal/vault"
	"github.com/enviora/carrier/pkg/carrier"
)

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	keys, err := vault.NewLocalKeyManager(filepath.Join(t.TempDir(), "keys.json"))
	require.NoError(t, err)
	return vault.New(keys, vault.NewMemoryStore())
}

func TestVault_PutGetRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	secrets := map[string]string{"client_id": "id-1", "client_secret": "hunter2"}
	require.NoError(t, v.Put(ctx, "dhl", carrier.EnvProduction, secrets, time.Time{}))

	handle, err := v.Get(ctx, "dhl", carrier.EnvProduction)
	require.NoError(t, err)
	cred, err := handle.Credential()
	require.NoError(t, err)

	assert.Equal(t, "dhl", cred.Carrier)
	assert.Equal(t, carrier.EnvProduction, cred.Env)
	assert.Equal(t, "hunter2", cred.Secret("client_secret"))
}

func TestVault_EnvironmentsIsolated(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "dhl", carrier.EnvSandbox, map[string]string{"api_key": "sandbox"}, time.Time{}))
	require.NoError(t, v.Put(ctx, "dhl", carrier.EnvProduction, map[string]string{"api_key": "prod"}, time.Time{}))

	sandbox, err := v.Get(ctx, "dhl", carrier.EnvSandbox)
	require.NoError(t, err)
	prod, err := v.Get(ctx, "dhl", carrier.EnvProduction)
	require.NoError(t, err)

	sbCred, err := sandbox.Credential()
	require.NoError(t, err)
	prodCred, err := prod.Credential()
	require.NoError(t, err)
	assert.Equal(t, "sandbox", sbCred.Secret("api_key"))
	assert.Equal(t, "prod", prodCred.Secret("api_key"))
}

func TestVault_GetMissing(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Get(context.Background(), "dhl", carrier.EnvSandbox)
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestVault_RotateReplacesSecrets(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "ups", carrier.EnvProduction, map[string]string{"api_key": "old"}, time.Time{}))
	require.NoError(t, v.Rotate(ctx, "ups", carrier.EnvProduction, map[string]string{"api_key": "new"}, time.Time{}))

	handle, err := v.Get(ctx, "ups", carrier.EnvProduction)
	require.NoError(t, err)
	cred, err := handle.Credential()
	require.NoError(t, err)
	assert.Equal(t, "new", cred.Secret("api_key"))
}

func TestVault_ExpiringSoon(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "dhl", carrier.EnvProduction, map[string]string{"k": "v"}, time.Now().Add(24*time.Hour)))
	require.NoError(t, v.Put(ctx, "ups", carrier.EnvProduction, map[string]string{"k": "v"}, time.Now().Add(90*24*time.Hour)))
	require.NoError(t, v.Put(ctx, "fedex", carrier.EnvProduction, map[string]string{"k": "v"}, time.Time{})) // no expiry hint

	hints, err := v.ExpiringSoon(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, hints, 1)
	assert.Equal(t, "dhl", hints[0].Carrier)
	assert.Equal(t, carrier.EnvProduction, hints[0].Env)
}

func TestVault_MasterKeyRotationKeepsOldRecordsReadable(t *testing.T) {
	keys, err := vault.NewLocalKeyManager(filepath.Join(t.TempDir(), "keys.json"))
	require.NoError(t, err)
	v := vault.New(keys, vault.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, v.Put(ctx, "dhl", carrier.EnvProduction, map[string]string{"api_key": "before"}, time.Time{}))

	version, err := keys.Rotate()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, 2, keys.ActiveVersion())

	// Records wrapped under v1 must still decrypt after rotation.
	handle, err := v.Get(ctx, "dhl", carrier.EnvProduction)
	require.NoError(t, err)
	cred, err := handle.Credential()
	require.NoError(t, err)
	assert.Equal(t, "before", cred.Secret("api_key"))

	// New writes wrap under the new active version.
	require.NoError(t, v.Put(ctx, "ups", carrier.EnvProduction, map[string]string{"api_key": "after"}, time.Time{}))
	handle, err = v.Get(ctx, "ups", carrier.EnvProduction)
	require.NoError(t, err)
	cred, err = handle.Credential()
	require.NoError(t, err)
	assert.Equal(t, "after", cred.Secret("api_key"))
}

func TestLocalKeyManager_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")

	first, err := vault.NewLocalKeyManager(path)
	require.NoError(t, err)
	wrapped, err := first.Wrap([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	// A fresh manager over the same file unwraps ciphertext from the
	// previous process lifetime.
	second, err := vault.NewLocalKeyManager(path)
	require.NoError(t, err)
	dataKey, err := second.Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), dataKey)
}

func TestLocalKeyManager_UnwrapGarbage(t *testing.T) {
	km, err := vault.NewLocalKeyManager(filepath.Join(t.TempDir(), "keys.json"))
	require.NoError(t, err)

	_, err = km.Unwrap("not-a-wrapped-key")
	assert.Error(t, err)

	_, err = km.Unwrap("v99:AAAA")
	assert.Error(t, err)
}

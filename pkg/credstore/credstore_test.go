package credstore_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stackworks/panelauth/pkg/credstore"
	"github.com/stretchr/testify/require"
)

func sampleCredential() credstore.Credential {
	now := time.Now().UTC().Truncate(time.Second)
	return credstore.Credential{
		Token: "header.payload.signature",
		Identity: credstore.Identity{
			UserID:   7,
			Username: "alice",
			Admin:    true,
			IssuedAt: now,
			Expiry:   now.Add(15 * time.Minute),
		},
		StoredAt: now,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "credential.json")
	store := credstore.NewFileStore(path)

	_, err := store.Get()
	require.ErrorIs(t, err, credstore.ErrNoCredential)

	want := sampleCredential()
	require.NoError(t, store.Set(want))

	got, err := store.Get()
	require.NoError(t, err)
	require.Equal(t, want, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreClearRemovesEverything(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credential.json")
	store := credstore.NewFileStore(path)

	require.NoError(t, store.Set(sampleCredential()))
	require.NoError(t, store.Clear())

	// Token, identity and issuance timestamp must be gone together.
	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = store.Get()
	require.ErrorIs(t, err, credstore.ErrNoCredential)

	// Clearing an already empty store is a no-op.
	require.NoError(t, store.Clear())
}

func TestFileStoreReplacesOnSet(t *testing.T) {
	t.Parallel()

	store := credstore.NewFileStore(filepath.Join(t.TempDir(), "credential.json"))

	first := sampleCredential()
	require.NoError(t, store.Set(first))

	second := first
	second.Token = "new.token.value"
	second.Identity.Username = "bob"
	require.NoError(t, store.Set(second))

	got, err := store.Get()
	require.NoError(t, err)
	require.Equal(t, second, got)
}

func TestMemStore(t *testing.T) {
	t.Parallel()

	store := credstore.NewMemStore()
	_, err := store.Get()
	require.ErrorIs(t, err, credstore.ErrNoCredential)
	require.Empty(t, credstore.Token(store))

	want := sampleCredential()
	require.NoError(t, store.Set(want))
	got, err := store.Get()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, want.Token, credstore.Token(store))

	require.NoError(t, store.Clear())
	_, err = store.Get()
	require.ErrorIs(t, err, credstore.ErrNoCredential)
}

// unsignedToken assembles a JWT-shaped token with the given claim payload.
// The signature is junk, which is fine for unverified parsing.
func unsignedToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	return fmt.Sprintf("%s.%s.%s", header, base64.RawURLEncoding.EncodeToString(payload), "sig")
}

func TestIdentityFromToken(t *testing.T) {
	t.Parallel()

	t.Run("decodes collaborator claims", func(t *testing.T) {
		iat := time.Now().Add(-time.Minute).Unix()
		exp := time.Now().Add(14 * time.Minute).Unix()
		token := unsignedToken(t, map[string]any{
			"user_id":  float64(42),
			"username": "alice",
			"is_admin": 1,
			"iat":      iat,
			"exp":      exp,
		})

		id, err := credstore.IdentityFromToken(token)
		require.NoError(t, err)
		require.EqualValues(t, 42, id.UserID)
		require.Equal(t, "alice", id.Username)
		require.True(t, id.Admin)
		require.Equal(t, iat, id.IssuedAt.Unix())
		require.Equal(t, exp, id.Expiry.Unix())
	})

	t.Run("accepts boolean admin flag", func(t *testing.T) {
		token := unsignedToken(t, map[string]any{"username": "bob", "is_admin": true})
		id, err := credstore.IdentityFromToken(token)
		require.NoError(t, err)
		require.True(t, id.Admin)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := credstore.IdentityFromToken("not-a-token")
		require.ErrorIs(t, err, credstore.ErrMalformedToken)
	})

	t.Run("rejects tokens without identity", func(t *testing.T) {
		token := unsignedToken(t, map[string]any{"exp": time.Now().Unix()})
		_, err := credstore.IdentityFromToken(token)
		require.ErrorIs(t, err, credstore.ErrMalformedToken)
	})
}

func TestIdentityExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	require.True(t, credstore.Identity{}.Expired(now))
	require.True(t, credstore.Identity{Expiry: now}.Expired(now))
	require.True(t, credstore.Identity{Expiry: now.Add(-time.Second)}.Expired(now))
	require.False(t, credstore.Identity{Expiry: now.Add(time.Second)}.Expired(now))
}

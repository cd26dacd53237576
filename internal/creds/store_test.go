package creds

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "credentials.afpbridge"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreLookupMissing(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)

	_, found, err := store.Lookup(context.Background(), "fileserver.local", 548)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreSaveAndLookup(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Save(ctx, "fileserver.local", 548, Credentials{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)

	got, found, err := store.Lookup(ctx, "fileserver.local", 548)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "s3cret", got.Password)

	// Same server on a different port is a distinct entry.
	_, found, err = store.Lookup(ctx, "fileserver.local", 10548)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreSaveOverwrites(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "nas.local", 548, Credentials{Username: "alice", Password: "old"}))
	require.NoError(t, store.Save(ctx, "nas.local", 548, Credentials{Username: "bob", Password: "new"}))

	got, found, err := store.Lookup(ctx, "nas.local", 548)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bob", got.Username)
	assert.Equal(t, "new", got.Password)
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "nas.local", 548, Credentials{Username: "alice", Password: "x"}))
	require.NoError(t, store.Delete(ctx, "nas.local", 548))

	_, found, err := store.Lookup(ctx, "nas.local", 548)
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent entry is not an error.
	require.NoError(t, store.Delete(ctx, "nas.local", 548))
}

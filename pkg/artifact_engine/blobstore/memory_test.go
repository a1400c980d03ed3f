package blobstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := blobstore.NewMemoryStore()
	ctx := context.Background()

	cred, err := store.IssueUploadCredential(ctx, "a/b/c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "PUT", cred.Method)
	assert.Contains(t, cred.URL, "a/b/c")
	assert.True(t, cred.ExpiresAt.After(time.Now()))

	ok, err := store.Exists(ctx, "a/b/c")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.HeadSize(ctx, "a/b/c")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put("a/b/c", []byte("hello")))

	ok, err = store.Exists(ctx, "a/b/c")
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := store.HeadSize(ctx, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestMemoryStore_KeysAreAppendOnly(t *testing.T) {
	store := blobstore.NewMemoryStore()

	require.NoError(t, store.Put("k", []byte("one")))
	assert.Error(t, store.Put("k", []byte("two")))

	size, err := store.HeadSize(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

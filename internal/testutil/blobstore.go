package testutil

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// ReadBlob returns the content stored under key.
func ReadBlob(t *testing.T, store mangashelf.BlobStore, key string) []byte {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	require.NoError(t, err, "get %s", key)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// BlobExists reports whether key is present.
func BlobExists(t *testing.T, store mangashelf.BlobStore, key string) bool {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	if err != nil {
		require.ErrorIs(t, err, mangashelf.ErrNotFound)
		return false
	}
	_ = rc.Close()
	return true
}

// RunBlobStoreTests exercises the BlobStore contract. newStore must return an
// empty store for every call.
func RunBlobStoreTests(t *testing.T, newStore func(t *testing.T) mangashelf.BlobStore) {
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "m/c/1.jpg", strings.NewReader("page one")))
		assert.Equal(t, "page one", string(ReadBlob(t, store, "m/c/1.jpg")))

		require.NoError(t, store.Put(ctx, "m/c/1.jpg", strings.NewReader("replaced")))
		assert.Equal(t, "replaced", string(ReadBlob(t, store, "m/c/1.jpg")))

		_, err := store.Get(ctx, "m/c/2.jpg")
		assert.ErrorIs(t, err, mangashelf.ErrNotFound)
	})

	t.Run("CopyMove", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "blobs/a.jpg", strings.NewReader("a")))

		require.NoError(t, store.Copy(ctx, "blobs/a.jpg", "blobs/b.jpg"))
		assert.Equal(t, "a", string(ReadBlob(t, store, "blobs/a.jpg")))
		assert.Equal(t, "a", string(ReadBlob(t, store, "blobs/b.jpg")))

		require.NoError(t, store.Move(ctx, "blobs/b.jpg", "m/c/1.jpg"))
		assert.False(t, BlobExists(t, store, "blobs/b.jpg"))
		assert.Equal(t, "a", string(ReadBlob(t, store, "m/c/1.jpg")))

		assert.ErrorIs(t, store.Copy(ctx, "blobs/missing.jpg", "x.jpg"), mangashelf.ErrNotFound)
		assert.ErrorIs(t, store.Move(ctx, "blobs/missing.jpg", "x.jpg"), mangashelf.ErrNotFound)
	})

	t.Run("ListAndDeleteTree", func(t *testing.T) {
		store := newStore(t)
		for _, key := range []string{"m/c1/2.jpg", "m/c1/1.jpg", "m/c10/1.jpg", "m/c2/1.jpg", "blobs/x.jpg"} {
			require.NoError(t, store.Put(ctx, key, strings.NewReader(key)))
		}

		keys, err := store.List(ctx, "m/c1/")
		require.NoError(t, err)
		assert.Equal(t, []string{"m/c1/1.jpg", "m/c1/2.jpg"}, keys)

		keys, err = store.List(ctx, "nothing/")
		require.NoError(t, err)
		assert.Empty(t, keys)

		require.NoError(t, store.DeleteTree(ctx, "m/c1/"))
		keys, err = store.List(ctx, "m/")
		require.NoError(t, err)
		assert.Equal(t, []string{"m/c10/1.jpg", "m/c2/1.jpg"}, keys)

		require.NoError(t, store.DeleteTree(ctx, "nothing/"))
	})

	t.Run("DeleteMany", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, "blobs/a.jpg", strings.NewReader("a")))
		require.NoError(t, store.Put(ctx, "blobs/b.jpg", strings.NewReader("b")))

		require.NoError(t, store.DeleteMany(ctx, []string{"blobs/a.jpg", "blobs/missing.jpg"}))
		assert.False(t, BlobExists(t, store, "blobs/a.jpg"))
		assert.True(t, BlobExists(t, store, "blobs/b.jpg"))

		require.NoError(t, store.DeleteMany(ctx, nil))
	})
}

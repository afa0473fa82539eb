package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/mangashelf/internal/testutil"
	"github.com/tendant/mangashelf/pkg/mangashelf"
	"github.com/tendant/mangashelf/pkg/mangashelf/storage/fs"
)

func TestFSBackend(t *testing.T) {
	testutil.RunBlobStoreTests(t, func(t *testing.T) mangashelf.BlobStore {
		b, err := fs.New(fs.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		return b
	})
}

func TestFSBackend_Layout(t *testing.T) {
	tmp := t.TempDir()
	b, err := fs.New(fs.Config{BaseDir: tmp})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "m/c/1.jpg", strings.NewReader("x")))
	_, err = os.Stat(filepath.Join(tmp, "m", "c", "1.jpg"))
	assert.NoError(t, err)

	require.NoError(t, b.DeleteTree(ctx, "m/c/"))
	_, err = os.Stat(filepath.Join(tmp, "m", "c"))
	assert.True(t, os.IsNotExist(err))
}

func TestFSBackend_RejectsEscapingKeys(t *testing.T) {
	b, err := fs.New(fs.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"../x.jpg", "a/../../x.jpg", "/abs.jpg", "", "dir/"} {
		err := b.Put(ctx, key, strings.NewReader("x"))
		assert.ErrorIs(t, err, mangashelf.ErrValidation, key)
	}
}

func TestFSBackend_RequiresBaseDir(t *testing.T) {
	_, err := fs.New(fs.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base directory is required")
}

// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lcf-connectors/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "blobs", "nested")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutAndDeleteObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	path := "documents/livelink/3f2a"
	data := []byte("%PDF-1.7")
	uri, err := store.PutObject(ctx, path, "application/pdf", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

	// #nosec G304 -- test reads from the controlled temp directory.
	readData, err := os.ReadFile(filepath.Join(tempDir, path))
	require.NoError(t, err)
	assert.Equal(t, data, readData)

	_, err = store.PutObject(ctx, path, "application/pdf", bytes.NewReader([]byte("v2")))
	require.NoError(t, err)
	// #nosec G304 -- test reads from the controlled temp directory.
	readData, err = os.ReadFile(filepath.Join(tempDir, path))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(readData))

	require.NoError(t, store.DeleteObject(ctx, path))
	_, err = os.Stat(filepath.Join(tempDir, path))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, store.DeleteObject(ctx, path))
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "text/plain", bytes.NewReader([]byte("data")))
	require.ErrorContains(t, err, "path is required")

	_, err = store.PutObject(context.Background(), "../escape", "text/plain", bytes.NewReader([]byte("data")))
	require.ErrorContains(t, err, "path traversal detected")
	require.ErrorContains(t, store.DeleteObject(context.Background(), "../../etc/passwd"), "path traversal detected")
}

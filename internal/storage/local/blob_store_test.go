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

	"github.com/JakeFAU/iati-climate-dataset/internal/storage/local"
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

	t.Run("BaseDirDoesNotExist", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		_, err := local.New(local.Config{BaseDir: dir})
		require.ErrorIs(t, err, local.ErrBaseDirMissing)
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr), "directory must not be created")
	})

	t.Run("CreateDirs", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		_, err := local.New(local.Config{BaseDir: dir, CreateDirs: true})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		data := []byte("iati_identifier,text,label\n")
		uri, err := store.PutObject(context.Background(), "GB-GOV-1.csv", "text/csv", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "GB-GOV-1.csv"), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "GB-GOV-1.csv"))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "dup.csv", "text/csv", bytes.NewReader([]byte("one")))
		require.NoError(t, err)
		_, err = store.PutObject(context.Background(), "dup.csv", "text/csv", bytes.NewReader([]byte("two")))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "dup.csv"))
		require.NoError(t, err)
		assert.Equal(t, "two", string(readData))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/csv", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.csv", "text/csv", bytes.NewReader([]byte("x")))
		assert.Error(t, err)
	})

	t.Run("MissingPrefixDir", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "nested/GB-GOV-1.csv", "text/csv", bytes.NewReader([]byte("x")))
		require.ErrorIs(t, err, local.ErrBaseDirMissing)
	})
}

func TestPutObjectCreatesPrefixDirs(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir, CreateDirs: true})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "a/b/GB-GOV-1.csv", "text/csv", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(tempDir, "a/b/GB-GOV-1.csv"), uri)
}

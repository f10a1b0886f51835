// Package local implements a local filesystem blob store for exported datasets.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrBaseDirMissing is returned when the output directory does not exist and
// CreateDirs is off.
var ErrBaseDirMissing = errors.New("output directory does not exist")

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where datasets are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// CreateDirs allows the store to create BaseDir and nested prefixes.
	CreateDirs bool `mapstructure:"create_dirs" yaml:"create_dirs"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir    string
	createDirs bool
}

// New creates a new local filesystem-backed blob store. Unless CreateDirs is
// set, BaseDir must already exist.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err) && !cfg.CreateDirs:
		return nil, fmt.Errorf("%w: %s", ErrBaseDirMissing, cfg.BaseDir)
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{
		baseDir:    cfg.BaseDir,
		createDirs: cfg.CreateDirs,
	}, nil
}

// PutObject writes data to a file under the base directory and returns a
// file:// URI. The file is written to a temporary sibling and renamed so a
// failed write never leaves a partial dataset behind.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	fullPath := filepath.Join(s.baseDir, path)

	// Clean the path and verify it's within baseDir to prevent path traversal.
	cleanBaseDir := filepath.Clean(s.baseDir)
	cleanFullPath := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	dir := filepath.Dir(fullPath)
	if s.createDirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("failed to create parent directories: %w", err)
		}
	} else if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("%w: %s", ErrBaseDirMissing, dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	return fmt.Sprintf("file://%s", fullPath), nil
}

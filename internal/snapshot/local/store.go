// Package local stores frontier snapshots on the local filesystem.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Config captures the parameters for the local snapshot store.
type Config struct {
	// Dir is the directory holding one snapshot file per crawl key.
	Dir string `mapstructure:"dir"`
}

// Store reads and writes temp_state.<key>.json files under a directory.
type Store struct {
	dir string
}

// New creates a snapshot store, creating the directory if needed.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat snapshot directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("snapshot path %q is not a directory", cfg.Dir)
	}
	return &Store{dir: cfg.Dir}, nil
}

// Path returns the snapshot file for key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, FileName(key))
}

// FileName maps a crawl key to its snapshot file name. Keys that need
// sanitising get a digest suffix so two keys never share a file.
func FileName(key string) string {
	safe := unsafeKeyChars.ReplaceAllString(key, "_")
	if safe == "" || safe == "." || safe == ".." {
		safe = "_"
	}
	if safe != key {
		sum := sha256.Sum256([]byte(key))
		safe += "-" + hex.EncodeToString(sum[:4])
	}
	return "temp_state." + safe + ".json"
}

// Exists reports whether a snapshot file is present.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat snapshot: %w", err)
	}
	return true, nil
}

// Load reads the snapshot for key.
func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, crawler.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Save replaces the snapshot for key. The new content is written to a temp
// file in the same directory and renamed over the old one.
func (s *Store) Save(_ context.Context, key string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		cleanup()
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot for key. A missing file is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

var _ crawler.SnapshotStore = (*Store)(nil)

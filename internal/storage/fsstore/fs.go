// Package fsstore implements storage.Store as one file per paste in a
// single directory. The file name is exactly the paste id.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"clibin/internal/storage"
)

const tempPrefix = ".tmp-"

// Store implements storage.Store on a local directory.
type Store struct {
	dir string
}

// Open prepares dir for use, creating it when missing and removing temp
// files left behind by interrupted writes.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("data directory required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) (string, bool) {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") ||
		strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return "", false
	}
	return filepath.Join(s.dir, id), true
}

// Create writes blob to a temp file and links it into place. Linking fails
// when the id already exists, so an existing paste is never replaced.
func (s *Store) Create(ctx context.Context, id string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, ok := s.path(id)
	if !ok {
		return fmt.Errorf("invalid paste id %q", id)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write paste: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync paste: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close paste: %w", err)
	}
	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return storage.ErrExists
		}
		return fmt.Errorf("link paste: %w", err)
	}
	return nil
}

// Read returns the blob stored under id.
func (s *Store) Read(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := s.path(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read paste: %w", err)
	}
	return data, nil
}

// Delete removes the file for id. Removal is atomic, so of several
// concurrent deletes only one succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, ok := s.path(id)
	if !ok {
		return storage.ErrNotFound
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("delete paste: %w", err)
	}
	return nil
}

// ListIDs returns the names of all regular, non-hidden files.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list pastes: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

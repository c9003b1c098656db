package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore keeps each object in its own file below root. Objects are
// written to a temporary file first and renamed into place, so readers never
// see partial content.
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "./data/blobs"
	}
	cleanRoot := filepath.Clean(root)
	if err := os.MkdirAll(cleanRoot, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FilesystemStore{root: cleanRoot}, nil
}

func (s *FilesystemStore) Put(_ context.Context, key, _ string, body []byte) error {
	path, err := s.resolvePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FilesystemStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return data, err
}

// Delete removes the object. Removing a missing object is not an error.
func (s *FilesystemStore) Delete(_ context.Context, key string) error {
	path, err := s.resolvePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// resolvePath maps key below root and refuses keys that would escape it.
func (s *FilesystemStore) resolvePath(key string) (string, error) {
	key = strings.TrimPrefix(filepath.Clean("/"+strings.TrimSpace(key)), "/")
	if key == "" || key == "." {
		return "", errors.New("invalid blob key")
	}
	path := filepath.Join(s.root, key)
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("invalid blob key path %q", key)
	}
	return path, nil
}

package savecell

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Storage.Load when nothing was saved under a key.
var ErrNotFound = errors.New("savecell: document not found")

// Storage persists whole encoded documents by key. Implementations must be
// safe for concurrent use; a Cell only ever calls Store from its flush worker.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, data []byte) error
}

// FileStorage stores each document as a file. Keys are file paths, resolved
// against Dir when they are relative and Dir is set.
type FileStorage struct {
	Dir  string
	Perm fs.FileMode
}

func (s FileStorage) path(key string) string {
	if s.Dir == "" || filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(s.Dir, key)
}

// Load reads the file for key.
func (s FileStorage) Load(_ context.Context, key string) ([]byte, error) {
	p := s.path(key)
	data, err := os.ReadFile(p) //nolint:gosec // path comes from operator config
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// Store replaces the file for key. The document is written to a temp file in
// the same directory and renamed over the old one, so readers never observe a
// partial write.
func (s FileStorage) Store(_ context.Context, key string, data []byte) error {
	p := s.path(key)
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}

	perm := s.Perm
	if perm == 0 {
		perm = 0o600
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("rename to %s: %w", p, err)
	}
	return nil
}

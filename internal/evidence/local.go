package evidence

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes evidence under a directory, typically <workspace>/evidence.
type LocalStore struct {
	Dir string
	// BaseURL prefixes returned URLs; empty yields file:// URLs.
	BaseURL string
}

// NewLocalStore returns a LocalStore rooted at dir.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve evidence dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("ensure evidence dir: %w", err)
	}
	return &LocalStore{Dir: abs, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes f to a temp file beside its destination and renames it into
// place, so a cancelled upload leaves nothing behind.
func (s *LocalStore) Put(ctx context.Context, key string, f File) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("ensure evidence subdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, reader(f)); err != nil {
		_ = tmpFile.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	return s.URL(key), nil
}

// Remove deletes the file for key; a missing file is not an error.
func (s *LocalStore) Remove(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(s.Dir, filepath.FromSlash(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove evidence %s: %w", key, err)
	}
	return nil
}

// URL returns the public location of key.
func (s *LocalStore) URL(key string) string {
	if s.BaseURL != "" {
		return s.BaseURL + "/" + key
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.Dir, filepath.FromSlash(key)))}
	return u.String()
}

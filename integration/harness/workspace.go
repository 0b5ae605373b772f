package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// RepoRoot returns the module root, found relative to this source file.
func RepoRoot(t *testing.T) string {
	t.Helper()
	root, err := repoRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}
	return root
}

func repoRoot() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	root := filepath.Dir(filepath.Dir(filepath.Dir(file)))
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		return "", fmt.Errorf("verify repo root: %w", err)
	}
	return root, nil
}

// Workspace copies integration/fixtures/<fixture> into a temp directory and
// returns the copy's path.
func Workspace(t *testing.T, fixture string) string {
	t.Helper()
	src := filepath.Join(RepoRoot(t), "integration", "fixtures", fixture)
	dst := filepath.Join(t.TempDir(), fixture)
	if err := os.CopyFS(dst, os.DirFS(src)); err != nil {
		t.Fatalf("copy fixture %s: %v", fixture, err)
	}
	return dst
}

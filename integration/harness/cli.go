// Package harness builds the kpiboard binary once per test run and drives it
// against throwaway workspaces.
package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	buildPath string
	buildErr  error
)

// CLI invokes the built binary from Dir. Env entries override the inherited
// environment.
type CLI struct {
	Bin string
	Dir string
	Env map[string]string
}

// Result is one finished invocation.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

func (r Result) String() string {
	return fmt.Sprintf("exit code %d\nstdout:\n%s\nstderr:\n%s", r.Code, r.Stdout, r.Stderr)
}

// New builds the binary on first use and returns a CLI running from a fresh
// temp directory, so nothing lands in the repository.
func New(t *testing.T) *CLI {
	t.Helper()
	buildOnce.Do(func() {
		buildPath, buildErr = build()
	})
	if buildErr != nil {
		t.Fatalf("build kpiboard binary: %v", buildErr)
	}
	return &CLI{Bin: buildPath, Dir: t.TempDir()}
}

func build() (string, error) {
	root, err := repoRoot()
	if err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp("", "kpiboard-bin-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	out := filepath.Join(dir, "kpiboard")

	cmd := exec.Command("go", "build", "-o", out, "./cmd/kpiboard")
	cmd.Dir = root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("go build: %w\nstderr:\n%s", err, stderr.String())
	}
	return out, nil
}

// WithEnv returns a copy of c with env added to its overrides.
func (c *CLI) WithEnv(env map[string]string) *CLI {
	merged := make(map[string]string, len(c.Env)+len(env))
	for k, v := range c.Env {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}
	return &CLI{Bin: c.Bin, Dir: c.Dir, Env: merged}
}

// Run invokes the binary. A non-zero exit is reported in Result.Code; only a
// failure to start the process fails the test.
func (c *CLI) Run(t *testing.T, args ...string) Result {
	t.Helper()
	cmd := exec.Command(c.Bin, args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		// exec keeps the last value of a repeated key.
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.Code = exitErr.ExitCode()
	case err != nil:
		t.Fatalf("run %s: %v", c.Bin, err)
	}
	return res
}

// MustRun is Run that fails the test on a non-zero exit.
func (c *CLI) MustRun(t *testing.T, args ...string) Result {
	t.Helper()
	res := c.Run(t, args...)
	if res.Code != 0 {
		t.Fatalf("kpiboard %s: %s", strings.Join(args, " "), res)
	}
	return res
}

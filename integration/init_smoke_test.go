package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kpiboard/integration/harness"
	"kpiboard/internal/audit"
)

func TestInitSmoke(t *testing.T) {
	cli := harness.New(t)
	workspaceRoot := filepath.Join(t.TempDir(), "workspace-init")

	cli.MustRun(t, "init", "--workspace", workspaceRoot, "--timezone", "Europe/Berlin")

	paths := []string{
		filepath.Join(workspaceRoot, "kpis"),
		filepath.Join(workspaceRoot, "evidence"),
		filepath.Join(workspaceRoot, "state"),
		filepath.Join(workspaceRoot, "audit"),
		filepath.Join(workspaceRoot, "kpis", "example.yml"),
		filepath.Join(workspaceRoot, "kpiboard.yml"),
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing init path %s: %v", path, err)
		}
	}

	cfg, err := os.ReadFile(filepath.Join(workspaceRoot, "kpiboard.yml"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(cfg), "Europe/Berlin") {
		t.Fatalf("config does not carry the requested time zone:\n%s", cfg)
	}

	auditPath := filepath.Join(workspaceRoot, "audit", "audit.sqlite")
	requireAuditEvents(t, auditPath, audit.EventWorkspaceInitialized)

	// The example document must import cleanly.
	cli.WithEnv(map[string]string{"KPIBOARD_LOG_MODE": "nop"}).
		MustRun(t, "kpi", "import", "--workspace", workspaceRoot)
	imported := requireAuditPayload(t, auditPath, audit.EventKPIImported, map[string]any{"created": true})
	if imported.Actor != "cli" {
		t.Fatalf("kpi_imported actor = %q, want cli", imported.Actor)
	}
}

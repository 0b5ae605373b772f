package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"kpiboard/internal/api"
	"kpiboard/internal/audit"
	"kpiboard/internal/config"
	"kpiboard/internal/evidence"
	"kpiboard/internal/kpi"
	"kpiboard/internal/logger"
	"kpiboard/internal/scoring"
	"kpiboard/internal/store"
	"kpiboard/internal/workspace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// globalFlags are accepted anywhere on the command line.
type globalFlags struct {
	Workspace  string
	As         string
	Department string
}

func (g globalFlags) caller() kpi.Identity {
	return kpi.Identity{UserID: strings.TrimSpace(g.As), Department: strings.TrimSpace(g.Department)}
}

// actor names the audit actor for commands that do not need a caller.
func (g globalFlags) actor() string {
	if id := strings.TrimSpace(g.As); id != "" {
		return id
	}
	return "cli"
}

func extractGlobalFlags(args []string) (globalFlags, []string, error) {
	var g globalFlags
	targets := map[string]*string{
		"--workspace":  &g.Workspace,
		"--as":         &g.As,
		"--department": &g.Department,
	}
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if dst, ok := targets[arg]; ok {
			if i+1 >= len(args) {
				return g, nil, fmt.Errorf("%s requires a value", arg)
			}
			*dst = args[i+1]
			i++
			continue
		}
		if name, value, found := strings.Cut(arg, "="); found {
			if dst, ok := targets[name]; ok {
				*dst = value
				continue
			}
		}
		remaining = append(remaining, arg)
	}
	return g, remaining, nil
}

// app holds everything a command needs, opened from one workspace.
type app struct {
	ws       *workspace.Workspace
	cfg      config.Config
	log      *logger.Logger
	repo     *store.Store
	evidence evidence.Store
	audit    *audit.Logger
	svc      *scoring.Service
	board    *api.Board
	closers  []func() error
}

func openApp(ctx context.Context, g globalFlags) (*app, error) {
	if strings.TrimSpace(g.Workspace) == "" {
		return nil, fmt.Errorf("--workspace is required")
	}
	ws, err := workspace.Resolve(g.Workspace)
	if err != nil {
		return nil, err
	}
	if err := ws.EnsureDirs(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(ws.ConfigPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{ws: ws, cfg: cfg, log: log, audit: audit.NewLogger(ws.AuditDBPath)}
	a.repo, err = store.Open(ws.StateDBPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.repo.Close)

	a.evidence, err = openEvidence(ctx, cfg, ws)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := a.evidence.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.svc = scoring.NewService(a.repo, scoring.Options{
		Evidence:      a.evidence,
		Audit:         a.audit,
		Logger:        log,
		Location:      cfg.Location(),
		UploadTimeout: cfg.UploadTimeout,
	})
	a.board = api.NewBoard(a.svc, log)
	return a, nil
}

func openEvidence(ctx context.Context, cfg config.Config, ws *workspace.Workspace) (evidence.Store, error) {
	switch cfg.Evidence.Backend {
	case config.BackendGCS:
		return evidence.NewGCSStore(ctx, cfg.Evidence.Bucket, cfg.Evidence.PublicBaseURL)
	default:
		return evidence.NewLocalStore(ws.EvidenceDir, cfg.Evidence.PublicBaseURL)
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintln(os.Stderr, "close:", err)
		}
	}
	a.closers = nil
	if a.log != nil {
		a.log.Sync()
	}
}

// printResult writes res as JSON and turns a failed Result into an error so
// the process exits non-zero.
func printResult(res api.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	if !res.Success && res.Error != nil {
		return fmt.Errorf("%s: %s", res.Error.Kind, res.Error.Message)
	}
	return nil
}

func printJSON(v any) error {
	return printResult(api.OK(v))
}

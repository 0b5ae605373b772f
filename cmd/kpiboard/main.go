package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"kpiboard/internal/api"
	"kpiboard/internal/audit"
	"kpiboard/internal/config"
	"kpiboard/internal/discrepancy"
	"kpiboard/internal/evidence"
	"kpiboard/internal/httpapi"
	"kpiboard/internal/scoring"
	"kpiboard/internal/store"
	"kpiboard/internal/workspace"
)

const appName = "kpiboard"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s: KPI deliverable scoring and discrepancy resolution\n\n", appName)
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [command] [flags]\n\n", appName)
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  init         Initialize a new workspace")
		fmt.Fprintln(os.Stderr, "  kpi          Import KPI documents")
		fmt.Fprintln(os.Stderr, "  deliverable  Show a deliverable")
		fmt.Fprintln(os.Stderr, "  score        Submit assignee or creator scores")
		fmt.Fprintln(os.Stderr, "  status       Change deliverable status")
		fmt.Fprintln(os.Stderr, "  discrepancy  List, book and resolve discrepancies")
		fmt.Fprintln(os.Stderr, "  audit        Show recent audit events")
		fmt.Fprintln(os.Stderr, "  serve        Run the HTTP API")
		fmt.Fprintln(os.Stderr, "  help         Show this help")
		fmt.Fprintln(os.Stderr, "\nGlobal flags:")
		fmt.Fprintln(os.Stderr, "  --workspace   Path to workspace root")
		fmt.Fprintln(os.Stderr, "  --as          Caller user id")
		fmt.Fprintln(os.Stderr, "  --department  Caller department")
	}

	g, args, err := extractGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		flag.Usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch args[0] {
	case "init":
		runErr = runInit(args[1:], g)
	case "kpi":
		runErr = runKPI(ctx, args[1:], g)
	case "deliverable":
		runErr = runDeliverable(ctx, args[1:], g)
	case "score":
		runErr = runScore(ctx, args[1:], g)
	case "status":
		runErr = runStatus(ctx, args[1:], g)
	case "discrepancy":
		runErr = runDiscrepancy(ctx, args[1:], g)
	case "audit":
		runErr = runAudit(args[1:], g)
	case "serve":
		runErr = runServe(ctx, args[1:], g)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		stop()
		os.Exit(1)
	}
}

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// leadingArg pulls a positional argument given before the flags, so both
// "score assignee D-1 --value 60" and "score assignee --value 60 D-1" work.
func leadingArg(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func parseWithID(fs *flag.FlagSet, args []string, what string) (string, error) {
	id, rest := leadingArg(args)
	if err := fs.Parse(rest); err != nil {
		return "", err
	}
	if id == "" {
		id = fs.Arg(0)
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%s id is required", what)
	}
	return id, nil
}

func subcommand(args []string, group string) (string, []string, error) {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		return "", nil, fmt.Errorf("%s %s: missing subcommand", appName, group)
	}
	return args[0], args[1:], nil
}

func runInit(args []string, g globalFlags) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	tz := fs.String("timezone", "UTC", "IANA time zone used for period labels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(g.Workspace) == "" {
		return fmt.Errorf("--workspace is required")
	}

	root, err := workspace.ResolveRoot(g.Workspace)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	ws, err := workspace.Resolve(root)
	if err != nil {
		return err
	}
	if err := ws.EnsureDirs(); err != nil {
		return err
	}

	cfg := config.Default()
	cfg.TimeZone = *tz
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := writeFileIfMissing(ws.ConfigPath, string(data)); err != nil {
		return err
	}
	if err := writeFileIfMissing(filepath.Join(ws.KPIsDir, "example.yml"), exampleKPITemplate); err != nil {
		return err
	}

	logger := audit.NewLogger(ws.AuditDBPath)
	if err := logger.LogEvent(g.actor(), audit.EventWorkspaceInitialized, map[string]any{
		"workspace": ws.Root,
		"timezone":  cfg.TimeZone,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "audit log failed:", err)
	}

	fmt.Fprintf(os.Stdout, "Initialized workspace: %s\n", ws.Root)
	fmt.Fprintln(os.Stdout, "Next steps:")
	fmt.Fprintf(os.Stdout, "  %s kpi import --workspace %s\n", appName, ws.Root)
	fmt.Fprintf(os.Stdout, "  %s serve --workspace %s\n", appName, ws.Root)
	return nil
}

func runKPI(ctx context.Context, args []string, g globalFlags) error {
	sub, rest, err := subcommand(args, "kpi")
	if err != nil {
		return err
	}
	switch sub {
	case "import":
		return runKPIImport(ctx, rest, g)
	default:
		return fmt.Errorf("%s kpi: unknown subcommand %q", appName, sub)
	}
}

func runKPIImport(ctx context.Context, args []string, g globalFlags) error {
	fs := flag.NewFlagSet("kpi import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dir := fs.String("dir", "", "KPI documents directory (default: <workspace>/kpis)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	kpisDir := a.ws.KPIsDir
	if *dir != "" {
		kpisDir, err = a.ws.ResolvePath(*dir)
		if err != nil {
			return fmt.Errorf("resolve --dir: %w", err)
		}
	}
	summary, err := a.svc.ImportKPIs(ctx, g.actor(), kpisDir)
	if err != nil {
		return printResult(api.Fail(err))
	}
	return printJSON(summary)
}

func runDeliverable(ctx context.Context, args []string, g globalFlags) error {
	sub, rest, err := subcommand(args, "deliverable")
	if err != nil {
		return err
	}
	if sub != "show" {
		return fmt.Errorf("%s deliverable: unknown subcommand %q", appName, sub)
	}

	fs := flag.NewFlagSet("deliverable show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	periodLabel := fs.String("period", "", "Period label of a recurring deliverable (default: current)")
	board := fs.String("board", "", "Whose board to view (default: the caller's)")
	id, err := parseWithID(fs, rest, "deliverable")
	if err != nil {
		return err
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	return printResult(a.board.Deliverable(ctx, g.caller(), scoring.ViewRequest{
		DeliverableID: id,
		PeriodLabel:   *periodLabel,
		BoardOwnerID:  *board,
	}))
}

func runScore(ctx context.Context, args []string, g globalFlags) error {
	sub, rest, err := subcommand(args, "score")
	if err != nil {
		return err
	}
	if sub != "assignee" && sub != "creator" {
		return fmt.Errorf("%s score: unknown subcommand %q", appName, sub)
	}

	fs := flag.NewFlagSet("score "+sub, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	value := fs.Float64("value", -1, "Score between 0 and 100")
	notes := fs.String("notes", "", "Notes explaining the score (required)")
	periodLabel := fs.String("period", "", "Period label of a recurring deliverable (default: current)")
	var files stringList
	fs.Var(&files, "file", "Supporting document to upload (repeatable)")
	id, err := parseWithID(fs, rest, "deliverable")
	if err != nil {
		return err
	}

	uploads, err := readEvidenceFiles(files)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	req := scoring.ScoreRequest{
		DeliverableID: id,
		PeriodLabel:   *periodLabel,
		Value:         *value,
		Notes:         *notes,
		Files:         uploads,
	}
	if sub == "assignee" {
		return printResult(a.board.SubmitAssigneeScore(ctx, g.caller(), req))
	}
	return printResult(a.board.SubmitCreatorScore(ctx, g.caller(), req))
}

func runStatus(ctx context.Context, args []string, g globalFlags) error {
	sub, rest, err := subcommand(args, "status")
	if err != nil {
		return err
	}
	if sub != "set" {
		return fmt.Errorf("%s status: unknown subcommand %q", appName, sub)
	}

	fs := flag.NewFlagSet("status set", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	status := fs.String("status", "", "New status: Pending, In Progress, Completed or Approved")
	periodLabel := fs.String("period", "", "Period label of a recurring deliverable (default: current)")
	board := fs.String("board", "", "Whose board the change is made from (default: the caller's)")
	id, err := parseWithID(fs, rest, "deliverable")
	if err != nil {
		return err
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	return printResult(a.board.ChangeStatus(ctx, g.caller(), scoring.StatusRequest{
		DeliverableID: id,
		PeriodLabel:   *periodLabel,
		Status:        *status,
		BoardOwnerID:  *board,
	}))
}

func runDiscrepancy(ctx context.Context, args []string, g globalFlags) error {
	sub, rest, err := subcommand(args, "discrepancy")
	if err != nil {
		return err
	}
	switch sub {
	case "list":
		return runDiscrepancyList(ctx, rest, g)
	case "show":
		return runDiscrepancyShow(ctx, rest, g)
	case "book":
		return runDiscrepancyBook(ctx, rest, g)
	case "resolve":
		return runDiscrepancyResolve(ctx, rest, g)
	case "scan":
		return runDiscrepancyScan(ctx, rest, g)
	default:
		return fmt.Errorf("%s discrepancy: unknown subcommand %q", appName, sub)
	}
}

func runDiscrepancyList(ctx context.Context, args []string, g globalFlags) error {
	fs := flag.NewFlagSet("discrepancy list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	kpiID := fs.String("kpi", "", "Filter by KPI id")
	assignee := fs.String("assignee", "", "Filter by assignee id")
	deliverable := fs.String("deliverable", "", "Filter by deliverable id")
	resolved := fs.String("resolved", "", "Filter by state: true or false")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := store.Filter{KPIID: *kpiID, AssigneeID: *assignee, DeliverableID: *deliverable}
	if *resolved != "" {
		v, err := strconv.ParseBool(*resolved)
		if err != nil {
			return fmt.Errorf("--resolved must be true or false: %w", err)
		}
		f.Resolved = &v
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	return printResult(a.board.Discrepancies(ctx, f))
}

func runDiscrepancyShow(ctx context.Context, args []string, g globalFlags) error {
	fs := flag.NewFlagSet("discrepancy show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	id, err := parseWithID(fs, args, "discrepancy")
	if err != nil {
		return err
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	return printResult(a.board.Discrepancy(ctx, id))
}

func runDiscrepancyBook(ctx context.Context, args []string, g globalFlags) error {
	fs := flag.NewFlagSet("discrepancy book", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	date := fs.String("date", "", "Meeting time (RFC3339, or YYYY-MM-DD HH:MM in the workspace time zone)")
	notes := fs.String("notes", "", "Meeting notes")
	id, err := parseWithID(fs, args, "discrepancy")
	if err != nil {
		return err
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	when, err := discrepancy.ParseMeetingTime(*date, a.cfg.Location())
	if err != nil {
		return err
	}
	return printResult(a.board.BookMeeting(ctx, g.caller(), id, discrepancy.MeetingRequest{
		Date:  when,
		Notes: *notes,
	}))
}

func runDiscrepancyResolve(ctx context.Context, args []string, g globalFlags) error {
	fs := flag.NewFlagSet("discrepancy resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	score := fs.String("score", "", "Agreed score written to both slots (optional)")
	notes := fs.String("notes", "", "Resolution notes (required)")
	file := fs.String("file", "", "Supporting document for the resolution (optional)")
	id, err := parseWithID(fs, args, "discrepancy")
	if err != nil {
		return err
	}

	req := scoring.ResolveRequest{DiscrepancyID: id, ResolutionNotes: *notes}
	if strings.TrimSpace(*score) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(*score), 64)
		if err != nil {
			return fmt.Errorf("--score must be a number: %w", err)
		}
		req.NewScore = &v
	}
	if *file != "" {
		uploads, err := readEvidenceFiles([]string{*file})
		if err != nil {
			return err
		}
		req.File = &uploads[0]
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	return printResult(a.board.ResolveDiscrepancy(ctx, g.caller(), req))
}

func runDiscrepancyScan(ctx context.Context, args []string, g globalFlags) error {
	fs := flag.NewFlagSet("discrepancy scan", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	created, err := a.svc.Rescan(ctx)
	if err != nil {
		return printResult(api.Fail(err))
	}
	if created == nil {
		created = []discrepancy.Record{}
	}
	return printJSON(created)
}

func runAudit(args []string, g globalFlags) error {
	sub, rest, err := subcommand(args, "audit")
	if err != nil {
		return err
	}
	if sub != "tail" {
		return fmt.Errorf("%s audit: unknown subcommand %q", appName, sub)
	}

	fs := flag.NewFlagSet("audit tail", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	limit := fs.Int("limit", 20, "Number of events to show")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if strings.TrimSpace(g.Workspace) == "" {
		return fmt.Errorf("--workspace is required")
	}
	ws, err := workspace.Resolve(g.Workspace)
	if err != nil {
		return err
	}

	events, err := audit.NewLogger(ws.AuditDBPath).Recent(*limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []audit.Event{}
	}
	return printJSON(events)
}

func runServe(ctx context.Context, args []string, g globalFlags) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addr := fs.String("addr", "", "Listen address (default: http.addr from kpiboard.yml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	listen := a.cfg.HTTP.Addr
	if *addr != "" {
		listen = *addr
	}
	server := httpapi.NewServer(httpapi.RouterConfig{
		Board:          a.board,
		Logger:         a.log,
		AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
		Location:       a.cfg.Location(),
	})
	return server.Run(ctx, listen)
}

func readEvidenceFiles(paths []string) ([]evidence.File, error) {
	files := make([]evidence.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read evidence %s: %w", path, err)
		}
		files = append(files, evidence.File{
			Name:        filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Data:        data,
		})
	}
	return files, nil
}

func writeFileIfMissing(path string, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

const exampleKPITemplate = `kpis:
  - kpi_id: KPI-EXAMPLE-1
    title: Keep the weekly report flowing
    creator_id: manager
    assignment:
      users:
        - analyst
    deliverables:
      - deliverable_id: DEL-EXAMPLE-1
        title: Publish the quarterly summary
        priority: High
        timeline: "2025-12-31"
        status: Pending
      - deliverable_id: DEL-EXAMPLE-2
        title: Weekly operations report
        priority: Medium
        recurrence: Weekly
        status: Pending
`

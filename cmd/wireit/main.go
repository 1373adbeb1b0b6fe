// Command wireit is the CLI front end. It is intentionally thin: flag
// parsing and wiring only, no engine logic, per spec.md §1's explicit
// Non-goal that an IDE/CLI front end beyond the core engine is out of
// scope for what this engine implements.
//
// Grounded on jvmakine-fbs/main.go (a kong CLI struct with one subcommand
// type per verb, dispatched via the returned kong.Context) and the
// teacher's cmd/scriptweaver/main.go (translate an invocation/execution
// error into a process exit code, nothing else in main).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/zeebo/blake3"

	"wireit/internal/cache"
	"wireit/internal/events"
	"wireit/internal/executor"
	"wireit/internal/graph"
	"wireit/internal/manifest"
	"wireit/internal/runlog"
	"wireit/internal/service"
	"wireit/internal/tracelog"
	"wireit/internal/watch"
	"wireit/internal/watchtui"
	"wireit/internal/wireitcfg"
	"wireit/internal/wirelog"
	"wireit/internal/worker"
)

const (
	exitSuccess       = 0
	exitScriptFailure = 1
	exitUsageError    = 2
	exitConfigError   = 3
	exitInternalError = 4
)

type cli struct {
	Run       RunCmd       `cmd:"" help:"Run a script and its dependencies once."`
	Watch     WatchCmd     `cmd:"" help:"Watch declared inputs and re-run on change."`
	CacheInfo CacheInfoCmd `cmd:"" name:"cache-info" help:"Show cache backend configuration."`
	History   HistoryCmd   `cmd:"" help:"Show recent run history for a script."`
}

type RunCmd struct {
	Dir         string `arg:"" optional:"" help:"Package directory (defaults to the current directory)."`
	Script      string `arg:"" optional:"" default:"build" help:"Script name to run."`
	Trace       string `help:"Write the execution trace to this path after the run."`
	FailureMode string `name:"failure-mode" help:"Override WIREIT_FAILURE_MODE: no-new, continue, or kill."`
}

type WatchCmd struct {
	Dir         string `arg:"" optional:"" help:"Package directory (defaults to the current directory)."`
	Script      string `arg:"" optional:"" default:"build" help:"Script name to watch."`
	TUI         bool   `help:"Attach the live terminal dashboard."`
	FailureMode string `name:"failure-mode" help:"Override WIREIT_FAILURE_MODE: no-new, continue, or kill."`
}

type CacheInfoCmd struct{}

type HistoryCmd struct {
	Dir    string `arg:"" optional:"" help:"Package directory (defaults to the current directory)."`
	Script string `arg:"" optional:"" default:"build" help:"Script name to report on."`
	Limit  int    `default:"20" help:"Maximum number of runs to show."`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("wireit"),
		kong.Description("A dependency-aware, content-addressed build and service orchestrator."),
	)

	cfg, err := wireitcfg.Load(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
	wirelog.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch kctx.Command() {
	case "run <dir> <script>", "run <dir>", "run":
		runErr = c.Run.run(ctx, cfg)
	case "watch <dir> <script>", "watch <dir>", "watch":
		runErr = c.Watch.run(ctx, cfg)
	case "cache-info":
		runErr = c.CacheInfo.run(cfg)
	case "history <dir> <script>", "history <dir>", "history":
		runErr = c.History.run(ctx)
	default:
		runErr = fmt.Errorf("unknown command %q", kctx.Command())
	}

	os.Exit(exitCodeFor(runErr))
}

type usageError struct{ error }

func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	var usage usageError
	if errors.As(err, &usage) {
		fmt.Fprintln(os.Stderr, usage.error)
		return exitUsageError
	}
	var failed *scriptFailureError
	if errors.As(err, &failed) {
		fmt.Fprintln(os.Stderr, failed)
		return exitScriptFailure
	}
	fmt.Fprintln(os.Stderr, err)
	return exitInternalError
}

type scriptFailureError struct {
	failures []error
}

func (e *scriptFailureError) Error() string {
	return fmt.Sprintf("%d script(s) failed", len(e.failures))
}

func resolveDir(raw string) (string, error) {
	dir := raw
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", usageError{fmt.Errorf("resolving directory %q: %w", raw, err)}
	}
	return abs, nil
}

func cacheBackendFor(cfg wireitcfg.Config, rootDir string) cache.Backend {
	switch cfg.Cache {
	case wireitcfg.CacheNone:
		return nil
	case wireitcfg.CacheRemote:
		return cache.NewRemoteBackend(cfg.CacheEndpoint)
	default:
		return cache.NewLocalBackend(filepath.Join(rootDir, ".wireit", "cache"))
	}
}

func poolLimit(cfg wireitcfg.Config) int {
	if cfg.Parallel == wireitcfg.ParallelInfinity {
		return -1
	}
	return cfg.Parallel
}

// resolveFailureMode applies override (a RunCmd/WatchCmd --failure-mode
// flag, empty when unset) over cfg's WIREIT_FAILURE_MODE-derived default,
// and converts wireitcfg's config-layer enum to executor's engine-layer
// one; they share the same string values by construction.
func resolveFailureMode(cfg wireitcfg.Config, override string) (executor.FailureMode, error) {
	mode := cfg.FailureMode
	if override != "" {
		mode = wireitcfg.FailureMode(override)
	}
	switch mode {
	case wireitcfg.FailureModeNoNew, wireitcfg.FailureModeContinue, wireitcfg.FailureModeKill:
		return executor.FailureMode(mode), nil
	default:
		return "", usageError{fmt.Errorf("--failure-mode must be no-new, continue, or kill; got %q", mode)}
	}
}

// graphHash computes a stable content hash over the graph's node
// references, commands, and dependency edges, used to key the run-history
// index and the execution trace — distinct from fingerprint.Fingerprint,
// which hashes one script's inputs, not the graph's shape.
func graphHash(g *graph.Graph) string {
	nodes := g.Nodes()
	refs := make([]string, 0, len(nodes))
	byRef := make(map[string]*graph.Node, len(nodes))
	for _, n := range nodes {
		ref := n.Reference().String()
		refs = append(refs, ref)
		byRef[ref] = n
	}
	sort.Strings(refs)

	h := blake3.New()
	for _, ref := range refs {
		n := byRef[ref]
		fmt.Fprintf(h, "%s\x00%s\x00", ref, n.Config.Command)
		deps := make([]string, 0, len(n.Config.Dependencies))
		for _, d := range n.Config.Dependencies {
			deps = append(deps, d.Reference.String())
		}
		sort.Strings(deps)
		for _, d := range deps {
			fmt.Fprintf(h, "%s\x00", d)
		}
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%x", sum)
}

func (r *RunCmd) run(ctx context.Context, cfg wireitcfg.Config) error {
	dir, err := resolveDir(r.Dir)
	if err != nil {
		return err
	}

	reader := manifest.NewReader()
	g, diags, err := graph.Analyze(reader, dir, r.Script)
	if err != nil {
		fmt.Fprint(os.Stderr, diags.String())
		return usageError{err}
	}
	if len(diags.Items()) > 0 {
		fmt.Fprint(os.Stderr, diags.String())
	}

	hub := events.NewHub(256)
	attachLogging(hub)

	mode, err := resolveFailureMode(cfg, r.FailureMode)
	if err != nil {
		return err
	}

	pool := worker.New(poolLimit(cfg))
	mgr := service.NewManager(hub)
	backend := cacheBackendFor(cfg, dir)
	exec := executor.New(g, backend, pool, hub, mgr, mode)

	gh := graphHash(g)

	db, dbErr := runlog.Open(ctx, filepath.Join(dir, ".wireit"))
	var runID string
	if dbErr == nil {
		defer db.Close()
		runID, _ = db.BeginRun(ctx, g.RootNode().Reference(), gh)
	}

	result, execErr := exec.Execute(ctx)

	if dbErr == nil && runID != "" {
		_ = db.RecordResult(ctx, runID, result)
		status := runlog.StatusSucceeded
		if execErr != nil {
			status = runlog.StatusFailed
		}
		_ = db.FinishRun(ctx, runID, status, execErr)
	}
	mgr.StopAll(context.Background())

	if r.Trace != "" {
		trace := tracelog.NewTrace(g, gh, result)
		if b, err := trace.CanonicalJSON(); err == nil {
			_ = os.WriteFile(r.Trace, b, 0o644)
		}
	}

	if execErr != nil {
		if result != nil && result.Failed() {
			return &scriptFailureError{failures: result.Failures}
		}
		return execErr
	}
	return nil
}

func (w *WatchCmd) run(ctx context.Context, cfg wireitcfg.Config) error {
	dir, err := resolveDir(w.Dir)
	if err != nil {
		return err
	}

	mode, err := resolveFailureMode(cfg, w.FailureMode)
	if err != nil {
		return err
	}

	hub := events.NewHub(256)
	attachLogging(hub)

	backend := cacheBackendFor(cfg, dir)
	watcher := watch.New(dir, w.Script, backend, poolLimit(cfg), hub, mode)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	errCh := make(chan error, 1)
	go func() { errCh <- watcher.Run(watchCtx) }()

	var tuiErr error
	if w.TUI {
		tuiErr = watchtui.Run(hub, watcher)
		cancelWatch() // the dashboard quit (q/ctrl+c); stop the watch loop too.
	}

	err = <-errCh
	if err != nil && watchCtx.Err() != nil {
		err = nil // a context cancellation (ctrl-c, or the TUI quitting) is a clean shutdown.
	}
	if tuiErr != nil {
		return tuiErr
	}
	return err
}

func (c *CacheInfoCmd) run(cfg wireitcfg.Config) error {
	fmt.Printf("cache mode:       %s\n", cfg.Cache)
	if cfg.Cache == wireitcfg.CacheRemote {
		fmt.Printf("cache endpoint:   %s\n", cfg.CacheEndpoint)
	}
	fmt.Printf("parallelism:      %s\n", parallelDisplay(cfg))
	fmt.Printf("log format:       %s\n", cfg.LogFormat)
	fmt.Printf("failure mode:     %s\n", cfg.FailureMode)
	return nil
}

func parallelDisplay(cfg wireitcfg.Config) string {
	if cfg.Parallel == wireitcfg.ParallelInfinity {
		return "infinity"
	}
	return fmt.Sprintf("%d", cfg.Parallel)
}

func (h *HistoryCmd) run(ctx context.Context) error {
	dir, err := resolveDir(h.Dir)
	if err != nil {
		return err
	}
	db, err := runlog.Open(ctx, filepath.Join(dir, ".wireit"))
	if err != nil {
		return err
	}
	defer db.Close()

	root := manifest.Reference{PackageDir: dir, Name: h.Script}
	runs, err := db.RecentRuns(ctx, root, h.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %-10s  %s -> %s  %s\n", r.RunID, r.Status, r.StartTime.Format("15:04:05"), r.EndTime.Format("15:04:05"), r.Error)
	}
	return nil
}

// attachLogging subscribes a background goroutine to hub that logs engine
// decisions through wirelog as they happen. The execution trace is built
// separately, after Execute returns, straight from its executor.Result
// (see tracelog.NewTrace) — live hub events are for logging only.
func attachLogging(hub *events.Hub) {
	ch, _ := hub.Subscribe()
	go func() {
		logger := wirelog.Get()
		for ev := range ch {
			logger.Info(string(ev.Kind), "script", ev.Script, "detail", ev.Detail)
		}
	}()
}

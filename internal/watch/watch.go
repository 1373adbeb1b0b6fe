package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wireit/internal/cache"
	"wireit/internal/events"
	"wireit/internal/executor"
	"wireit/internal/globmatch"
	"wireit/internal/graph"
	"wireit/internal/manifest"
	"wireit/internal/service"
	"wireit/internal/wirelog"
	"wireit/internal/worker"
)

// Default debounce/poll intervals; chosen to feel immediate to a human
// editing files without turning every keystroke-triggered save into a
// separate run.
const (
	DefaultPollInterval     = 200 * time.Millisecond
	DefaultDebounceInterval = 500 * time.Millisecond
)

// Watcher drives one root script's analyzer+executor repeatedly, per
// spec.md §4.5.
type Watcher struct {
	RootDir        string
	RootScriptName string
	Backend        cache.Backend
	PoolLimit      int
	Hub            *events.Hub
	FailureMode    executor.FailureMode

	PollInterval     time.Duration
	DebounceInterval time.Duration

	mu    sync.Mutex
	state State
}

// New creates a Watcher with spec default intervals; callers may override
// PollInterval/DebounceInterval before calling Run.
func New(rootDir, rootScriptName string, backend cache.Backend, poolLimit int, hub *events.Hub, mode executor.FailureMode) *Watcher {
	return &Watcher{
		RootDir:          rootDir,
		RootScriptName:   rootScriptName,
		Backend:          backend,
		PoolLimit:        poolLimit,
		Hub:              hub,
		FailureMode:      mode,
		PollInterval:     DefaultPollInterval,
		DebounceInterval: DefaultDebounceInterval,
		state:            StateInitial,
	}
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !isAllowedTransition(w.state, to) {
		return &transitionError{from: w.state, to: to}
	}
	w.state = to
	return nil
}

// Run analyzes and executes the root script repeatedly until ctx is
// cancelled, re-running on any watched-file change (debounced) and handing
// each iteration's service map to the next via service.Manager.AdoptFrom
// (spec.md §4.5's "service continuity").
func (w *Watcher) Run(ctx context.Context) error {
	logger := wirelog.Get()
	_ = w.transition(StateRunning)

	var prevManager *service.Manager
	for {
		if ctx.Err() != nil {
			_ = w.transition(StateAborted)
			return ctx.Err()
		}

		reader := manifest.NewReader()
		g, diags, err := graph.Analyze(reader, w.RootDir, w.RootScriptName)
		if err != nil {
			logger.Error("analysis failed, watching root manifest for a fix", "root", w.RootDir, "script", w.RootScriptName, "error", err, "diagnostics", diags.String())
			rootManifest := filepath.Join(w.RootDir, manifest.ManifestFileName)
			if werr := w.waitForChange(ctx, []string{rootManifest}); werr != nil {
				_ = w.transition(StateAborted)
				return werr
			}
			continue
		}

		pool := worker.New(poolLimitOrDefault(w.PoolLimit))
		mgr := service.NewManager(w.Hub)
		mgr.AdoptFrom(prevManager)
		exec := executor.New(g, w.Backend, pool, w.Hub, mgr, w.FailureMode)

		watchSet := collectWatchSet(g)

		queued, runErr := w.runOnceWatchingForChanges(ctx, exec, watchSet)
		prevManager = mgr
		if runErr != nil {
			mgr.StopAll(context.Background())
			_ = w.transition(StateAborted)
			return runErr
		}

		if queued {
			_ = w.transition(StateQueued)
			if err := w.transition(StateRunning); err != nil {
				return err
			}
			continue
		}

		_ = w.transition(StateWatching)
		if err := w.waitForChange(ctx, watchSet); err != nil {
			mgr.StopAll(context.Background())
			_ = w.transition(StateAborted)
			return err
		}
		_ = w.transition(StateRunning)
	}
}

// runOnceWatchingForChanges executes exec while concurrently polling
// watchSet, so a change that lands mid-run is observed (queued=true)
// instead of lost while execute() is still in flight.
func (w *Watcher) runOnceWatchingForChanges(ctx context.Context, exec *executor.Executor, watchSet []string) (queued bool, err error) {
	logger := wirelog.Get()

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()

	changed := make(chan struct{}, 1)
	go pollForChanges(pollCtx, watchSet, w.PollInterval, changed)

	type outcome struct {
		result *executor.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := exec.Execute(ctx)
		done <- outcome{result: result, err: err}
	}()

	for {
		select {
		case o := <-done:
			if o.err != nil {
				logger.Warn("run completed with failures", "error", o.err)
			}
			return queued, nil
		case <-changed:
			queued = true
		case <-ctx.Done():
			exec.Abort()
			<-done
			return queued, ctx.Err()
		}
	}
}

// waitForChange blocks until a change is detected among watchSet's paths,
// debounced per spec.md §4.5: the first change enters debouncing; further
// changes restart the timer; it fires once no new change has been observed
// for DebounceInterval.
func (w *Watcher) waitForChange(ctx context.Context, watchSet []string) error {
	baseline := snapshotMtimes(watchSet)
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current := snapshotMtimes(watchSet)
			if !mtimesEqual(baseline, current) {
				baseline = current
				if w.State() != StateDebouncing {
					_ = w.transition(StateDebouncing)
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.NewTimer(w.DebounceInterval)
				debounceC = debounceTimer.C
			}
		case <-debounceC:
			return nil
		}
	}
}

func pollForChanges(ctx context.Context, watchSet []string, interval time.Duration, changed chan<- struct{}) {
	baseline := snapshotMtimes(watchSet)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := snapshotMtimes(watchSet)
			if !mtimesEqual(baseline, current) {
				baseline = current
				select {
				case changed <- struct{}{}:
				default:
				}
			}
		}
	}
}

// collectWatchSet gathers every manifest discovered during analysis and
// every script's resolved declared input files (spec.md §4.5: "(i) all
// manifests discovered during analysis, (ii) per-script declared input
// files, and (iii) none for scripts without declared inputs").
func collectWatchSet(g *graph.Graph) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	for _, n := range g.Nodes() {
		add(n.Config.DeclaringFile)
		if n.Config.Files == nil {
			continue
		}
		paths, err := globmatch.Resolve(n.Config.Reference.PackageDir, n.Config.Files)
		if err != nil {
			continue
		}
		for _, p := range paths {
			add(p)
		}
	}
	return out
}

func snapshotMtimes(paths []string) map[string]time.Time {
	out := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			out[p] = time.Time{}
			continue
		}
		out[p] = info.ModTime()
	}
	return out
}

func mtimesEqual(a, b map[string]time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !b[k].Equal(v) {
			return false
		}
	}
	return true
}

func poolLimitOrDefault(limit int) int {
	if limit == 0 {
		return worker.Unbounded
	}
	return limit
}

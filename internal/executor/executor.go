// Package executor implements spec.md §4.3: driving a validated build graph
// to completion with per-script memoization, dependency-first sequencing,
// the fresh/cached/run decision, clean policy, and failure-mode
// propagation.
//
// Grounded on internal/dag/executor.go (teacher): the
// Probe/Run-style runner split, the depth-staged dependency-first
// scheduling idea, and the mutex-guarded state snapshot are kept and
// generalized from the teacher's flat task list to this spec's recursive,
// cascade-aware dependency fan-in (a script's dependencies are themselves
// full subgraphs, not a precomputed depth table, because cross-package
// references can make a dependency's own dependency set visible only after
// its manifest is read). internal/dag/state_machine.go's FailAndPropagate
// is the model for how one script's failure is recorded without silently
// cascading through dependency edges (spec.md §7's propagation policy).
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"wireit/internal/cache"
	"wireit/internal/diagnostics"
	"wireit/internal/events"
	"wireit/internal/fingerprint"
	"wireit/internal/graph"
	"wireit/internal/manifest"
	"wireit/internal/procexec"
	"wireit/internal/wirelog"
	"wireit/internal/worker"
)

// ServiceRunner starts or adopts a service script and blocks until it
// reports started (or failed). It is implemented by internal/service;
// defining the interface here (rather than importing that package) keeps
// the dependency one-directional, the same shape as the teacher's
// TaskRunner interface in internal/dag/executor.go.
type ServiceRunner interface {
	Ensure(ctx context.Context, ref manifest.Reference, cfg *manifest.Config, fp fingerprint.Fingerprint) error
}

// Executor drives one Graph to completion.
type Executor struct {
	Graph       *graph.Graph
	Cache       cache.Backend // nil disables the cache tier entirely.
	Pool        *worker.Pool
	Hub         *events.Hub // nil disables event publication.
	Services    ServiceRunner
	FailureMode FailureMode

	group singleflight.Group

	mu       sync.Mutex
	results  map[manifest.Reference]ScriptResult
	failed   map[manifest.Reference]bool
	skipped  map[manifest.Reference]SkipInfo
	failures []error
	aborted  bool
	cancel   context.CancelFunc
}

// New creates an Executor for g. pool and failureMode must be provided;
// cache, hub, and services may be nil/empty to disable those tiers.
func New(g *graph.Graph, backend cache.Backend, pool *worker.Pool, hub *events.Hub, services ServiceRunner, mode FailureMode) *Executor {
	return &Executor{
		Graph:       g,
		Cache:       backend,
		Pool:        pool,
		Hub:         hub,
		Services:    services,
		FailureMode: mode,
		results:     make(map[manifest.Reference]ScriptResult),
		failed:      make(map[manifest.Reference]bool),
		skipped:     make(map[manifest.Reference]SkipInfo),
	}
}

// Abort sets the cooperative abort signal: no new script executions begin
// after this call. Already-running children are only force-killed under
// FailureModeKill, via the context Execute derives internally; a caller that
// wants a hard stop independent of FailureMode should cancel the ctx it
// passed to Execute.
func (e *Executor) Abort() {
	e.mu.Lock()
	e.aborted = true
	e.mu.Unlock()
}

// Execute drives the graph from its root to completion. Under
// FailureModeKill, the first recorded failure cancels the derived context
// this call passes down to every in-flight procexec.Spawn, which SIGKILLs
// each child's process group (spec.md §4.3: "immediately signal running
// children").
func (e *Executor) Execute(ctx context.Context) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	_, err := e.run(runCtx, e.Graph.Root)

	e.mu.Lock()
	defer e.mu.Unlock()

	root := e.results[e.Graph.Root]
	scripts := make(map[manifest.Reference]ScriptResult, len(e.results))
	for ref, r := range e.results {
		scripts[ref] = r
	}
	skipped := make(map[manifest.Reference]SkipInfo, len(e.skipped))
	for ref, info := range e.skipped {
		skipped[ref] = info
	}
	result := &Result{Root: root, Scripts: scripts, Skipped: skipped, Failures: append([]error{}, e.failures...)}
	if err != nil && len(result.Failures) == 0 {
		result.Failures = append(result.Failures, err)
	}
	if len(result.Failures) > 0 {
		return result, fmt.Errorf("executor: %d script(s) failed", len(result.Failures))
	}
	return result, nil
}

// run executes (or awaits an in-flight execution of) ref, returning its
// fingerprint on success.
func (e *Executor) run(ctx context.Context, ref manifest.Reference) (fingerprint.Fingerprint, error) {
	v, err, _ := e.group.Do(ref.String(), func() (any, error) {
		return e.runOnce(ctx, ref)
	})
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	return v.(fingerprint.Fingerprint), nil
}

func (e *Executor) runOnce(ctx context.Context, ref manifest.Reference) (fingerprint.Fingerprint, error) {
	if e.isAborted() {
		reason := fmt.Sprintf("execution aborted before %s started", ref)
		return fingerprint.Fingerprint{}, e.recordSkipped(ref, SkipInfo{Reason: reason}, diagnostics.New(diagnostics.KindAborted, diagnostics.Position{}, reason))
	}

	node, ok := e.Graph.Node(ref)
	if !ok {
		return fingerprint.Fingerprint{}, e.recordFailure(ref, fmt.Errorf("executor: unknown reference %s", ref))
	}
	cfg := node.Config

	depFPs, failedDep, err := e.runDependencies(ctx, cfg)
	if err != nil {
		reason := fmt.Sprintf("%s: dependency %s failed", ref, failedDep)
		diag := diagnostics.New(diagnostics.KindDependencyInvalid, cfg.Pos, "%s: %s", ref, err)
		return fingerprint.Fingerprint{}, e.recordSkipped(ref, SkipInfo{Reason: reason, Cause: failedDep}, diag)
	}

	fp, err := e.computeFingerprint(cfg, depFPs)
	if err != nil {
		return fingerprint.Fingerprint{}, e.recordFailure(ref, err)
	}

	if cfg.Kind == manifest.KindNoCommand {
		e.recordSuccess(ref, OutcomeFresh, fp, 0)
		return fp, nil
	}

	if cfg.Kind == manifest.KindService {
		if e.Services != nil {
			if err := e.Services.Ensure(ctx, ref, cfg, fp); err != nil {
				return fingerprint.Fingerprint{}, e.recordFailure(ref, diagnostics.New(diagnostics.KindServiceExitedUnexpectedly, cfg.Pos, "%s: %s", ref, err))
			}
		}
		e.recordSuccess(ref, OutcomeRan, fp, 0)
		return fp, nil
	}

	previous, hasPrevious, err := loadPersistedFingerprint(ref)
	if err != nil {
		return fingerprint.Fingerprint{}, e.recordFailure(ref, err)
	}

	if hasPrevious && fp.FullyTracked && previous.Equal(fp) {
		e.publish(events.KindFresh, ref, "")
		e.recordSuccess(ref, OutcomeFresh, fp, 0)
		return fp, nil
	}

	if fp.FullyTracked && e.Cache != nil {
		hit, err := e.Cache.Get(ref, fp.Hash())
		if err != nil {
			return fingerprint.Fingerprint{}, e.recordFailure(ref, err)
		}
		if hit != nil {
			if _, err := hit.Apply(cfg.Reference.PackageDir); err != nil {
				return fingerprint.Fingerprint{}, e.recordFailure(ref, err)
			}
			if err := writePersistedFingerprint(ref, fp); err != nil {
				return fingerprint.Fingerprint{}, e.recordFailure(ref, err)
			}
			e.publish(events.KindCached, ref, "")
			e.recordSuccess(ref, OutcomeCached, fp, 0)
			return fp, nil
		}
		e.publish(events.KindCacheMiss, ref, "")
	}

	if !e.mayStartNewWork() {
		reason := fmt.Sprintf("%s: not started, a sibling failed under failure mode %s", ref, e.FailureMode)
		return fingerprint.Fingerprint{}, e.recordSkipped(ref, SkipInfo{Reason: reason}, diagnostics.New(diagnostics.KindAborted, cfg.Pos, reason))
	}

	return e.runCommand(ctx, cfg, fp, previous)
}

// runDependencies executes cfg's dependencies in a randomized start order
// (spec.md §4.3: "so users don't inadvertently depend on implicit
// sequencing"), concurrently, and returns their fingerprints keyed by
// reference string for fingerprint.Compute's Inputs.Dependencies. On
// failure it also reports which dependency reference failed first, so the
// caller can record it as the cause of this script's own skip.
func (e *Executor) runDependencies(ctx context.Context, cfg *manifest.Config) (map[string]fingerprint.Fingerprint, manifest.Reference, error) {
	deps := append([]manifest.Dependency{}, cfg.Dependencies...)
	rand.Shuffle(len(deps), func(i, j int) { deps[i], deps[j] = deps[j], deps[i] })

	out := make(map[string]fingerprint.Fingerprint, len(deps))
	var mu sync.Mutex
	var failedDep manifest.Reference

	// A plain errgroup, not errgroup.WithContext: one dependency's failure
	// must not cancel its in-flight siblings. Only FailureModeKill stops
	// running children, through the context Execute derives.
	var g errgroup.Group
	for _, dep := range deps {
		dep := dep
		g.Go(func() error {
			fp, err := e.run(ctx, dep.Reference)
			if err != nil {
				mu.Lock()
				if failedDep.IsZero() {
					failedDep = dep.Reference
				}
				mu.Unlock()
				return err
			}
			mu.Lock()
			out[dep.Reference.String()] = fp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failedDep, err
	}
	return out, manifest.Reference{}, nil
}

func (e *Executor) computeFingerprint(cfg *manifest.Config, depFPs map[string]fingerprint.Fingerprint) (fingerprint.Fingerprint, error) {
	fileHashes, err := fingerprint.ResolveFiles(cfg, os.ReadFile)
	if err != nil {
		return fingerprint.Fingerprint{}, fmt.Errorf("resolving declared files for %s: %w", cfg.Reference, err)
	}
	fp, reason := fingerprint.Compute(cfg, fingerprint.Inputs{FileHashes: fileHashes, Dependencies: depFPs})
	if reason != fingerprint.ReasonNone {
		wirelog.WithScript(cfg.Reference.String()).Debug("not fully tracked", "reason", string(reason))
	}
	return fp, nil
}

func (e *Executor) runCommand(ctx context.Context, cfg *manifest.Config, fp, previous fingerprint.Fingerprint) (fingerprint.Fingerprint, error) {
	ref := cfg.Reference

	if err := applyCleanPolicy(cfg, previous.Files, fp.Files); err != nil {
		return fingerprint.Fingerprint{}, e.recordFailure(ref, err)
	}

	if err := e.Pool.Acquire(ctx); err != nil {
		return fingerprint.Fingerprint{}, e.recordFailure(ref, diagnostics.New(diagnostics.KindStartCancelled, cfg.Pos, "%s: %s", ref, err))
	}
	defer e.Pool.Release()

	// Deleted before spawn, only rewritten on clean exit: an interrupted
	// build must never be considered fresh (spec.md §4.3/§8).
	if err := deletePersistedFingerprint(ref); err != nil {
		return fingerprint.Fingerprint{}, e.recordFailure(ref, err)
	}

	e.publish(events.KindRunStarted, ref, cfg.Command)
	logger := wirelog.WithScript(ref.String())

	onLine := func(stream, line string) {
		e.publish(events.KindOutputLine, ref, line)
		logger.Debug("child output", "stream", stream, "line", line)
	}

	handle, err := procexec.Spawn(ctx, ref.PackageDir, cfg.Command, cfg.Env, cfg.ExtraArgs, onLine)
	if err != nil {
		return fingerprint.Fingerprint{}, e.recordFailure(ref, diagnostics.New(diagnostics.KindSpawnError, cfg.Pos, "%s: %s", ref, err))
	}

	exitCode, waitErr := handle.Wait()
	if waitErr != nil {
		return fingerprint.Fingerprint{}, e.recordFailure(ref, diagnostics.New(diagnostics.KindSpawnError, cfg.Pos, "%s: %s", ref, waitErr))
	}

	if exitCode != 0 {
		e.publish(events.KindRunFailed, ref, fmt.Sprintf("exit code %d", exitCode))
		e.recordSuccess(ref, OutcomeFailed, fp, exitCode)
		return fingerprint.Fingerprint{}, e.recordFailure(ref, diagnostics.New(diagnostics.KindExitNonZero, cfg.Pos, "%s: exited %d", ref, exitCode))
	}

	if fp.FullyTracked {
		if err := e.materializeCacheEntry(cfg, fp); err != nil {
			return fingerprint.Fingerprint{}, e.recordFailure(ref, err)
		}
	}
	if err := writePersistedFingerprint(ref, fp); err != nil {
		return fingerprint.Fingerprint{}, e.recordFailure(ref, err)
	}

	e.publish(events.KindRunSucceeded, ref, "")
	e.recordSuccess(ref, OutcomeRan, fp, 0)
	return fp, nil
}

func (e *Executor) materializeCacheEntry(cfg *manifest.Config, fp fingerprint.Fingerprint) error {
	if e.Cache == nil || len(cfg.Output) == 0 {
		return nil
	}
	files, err := outputFiles(cfg)
	if err != nil {
		return err
	}
	if _, err := e.Cache.Set(cfg.Reference, fp.Hash(), files); err != nil {
		return fmt.Errorf("caching outputs for %s: %w", cfg.Reference, err)
	}
	return nil
}

func (e *Executor) publish(kind events.Kind, ref manifest.Reference, detail string) {
	if e.Hub == nil {
		return
	}
	e.Hub.Publish(kind, ref.String(), detail)
}

func (e *Executor) isAborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// mayStartNewWork applies the failure-mode policy (spec.md §4.3) to the
// decision of whether a not-yet-started script may begin.
func (e *Executor) mayStartNewWork() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted {
		return false
	}
	if len(e.failures) == 0 {
		return true
	}
	switch e.FailureMode {
	case FailureModeContinue:
		return true
	default: // no-new, kill
		return false
	}
}

func (e *Executor) recordFailure(ref manifest.Reference, err error) error {
	e.mu.Lock()
	e.failed[ref] = true
	e.failures = append(e.failures, err)
	if e.FailureMode == FailureModeKill {
		e.aborted = true
		if e.cancel != nil {
			e.cancel()
		}
	}
	e.mu.Unlock()
	return err
}

// recordSkipped records a script that never started, as distinct from one
// that started and then failed: info.Cause, when non-zero, is the specific
// dependency whose own failure propagated up to this script.
func (e *Executor) recordSkipped(ref manifest.Reference, info SkipInfo, err error) error {
	e.mu.Lock()
	e.skipped[ref] = info
	e.mu.Unlock()

	return e.recordFailure(ref, err) // acquires e.mu itself; must not be held here.
}

func (e *Executor) recordSuccess(ref manifest.Reference, outcome Outcome, fp fingerprint.Fingerprint, exitCode int) {
	e.mu.Lock()
	e.results[ref] = ScriptResult{Reference: ref, Outcome: outcome, Fingerprint: fp, ExitCode: exitCode}
	e.mu.Unlock()
}

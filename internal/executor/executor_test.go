package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wireit/internal/cache"
	"wireit/internal/graph"
	"wireit/internal/manifest"
	"wireit/internal/worker"
)

// writePackage writes a minimal package.json with one wireit script into
// dir, mirroring the teacher's practice of driving core.Executor tests
// through real temp directories and a real shell rather than mocks.
func writePackage(t *testing.T, dir string, scriptJSON string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifest.ManifestFileName), []byte(scriptJSON), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}
}

func analyzeOrFatal(t *testing.T, rootDir, script string) *graph.Graph {
	t.Helper()
	g, diags, err := graph.Analyze(manifest.NewReader(), rootDir, script)
	if err != nil {
		t.Fatalf("analyze failed: %v (%s)", err, diags.String())
	}
	return g
}

func TestExecutor_OneShotRunsThenIsFreshOnSecondExecute(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"build": "wireit"},
  "wireit": {
    "build": {
      "command": "echo built > out.txt",
      "files": [],
      "output": ["out.txt"]
    }
  }
}`)

	g := analyzeOrFatal(t, dir, "build")
	exec := New(g, nil, worker.New(4), nil, nil, FailureModeNoNew)

	result, err := exec.Execute(context.Background())
	if err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}
	if result.Root.Outcome != OutcomeRan {
		t.Fatalf("expected first run to be %q, got %q", OutcomeRan, result.Root.Outcome)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err != nil {
		t.Fatalf("expected out.txt to exist: %v", err)
	}

	exec2 := New(g, nil, worker.New(4), nil, nil, FailureModeNoNew)
	result2, err := exec2.Execute(context.Background())
	if err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}
	if result2.Root.Outcome != OutcomeFresh {
		t.Fatalf("expected second run to be %q, got %q", OutcomeFresh, result2.Root.Outcome)
	}
}

func TestExecutor_NoCommandGroupIsAlwaysFresh(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"a": "wireit", "all": "wireit"},
  "wireit": {
    "a": {"command": "true", "files": [], "output": []},
    "all": {"dependencies": ["a"]}
  }
}`)

	g := analyzeOrFatal(t, dir, "all")
	exec := New(g, nil, worker.New(4), nil, nil, FailureModeNoNew)

	result, err := exec.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Root.Outcome != OutcomeFresh {
		t.Fatalf("expected grouping node to be %q, got %q", OutcomeFresh, result.Root.Outcome)
	}
}

func TestExecutor_NonZeroExitRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"fail": "wireit"},
  "wireit": {
    "fail": {"command": "exit 3", "files": [], "output": []}
  }
}`)

	g := analyzeOrFatal(t, dir, "fail")
	exec := New(g, nil, worker.New(4), nil, nil, FailureModeNoNew)

	result, err := exec.Execute(context.Background())
	if err == nil {
		t.Fatal("expected Execute to return an error")
	}
	if !result.Failed() {
		t.Fatal("expected result.Failed() to be true")
	}
	if result.Root.Outcome != OutcomeFailed {
		t.Fatalf("expected %q, got %q", OutcomeFailed, result.Root.Outcome)
	}
	if result.Root.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.Root.ExitCode)
	}
}

func TestExecutor_FailureModeNoNewBlocksIndependentSibling(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"fail": "wireit", "ok": "wireit", "all": "wireit"},
  "wireit": {
    "fail": {"command": "exit 1", "files": [], "output": []},
    "ok": {"command": "true", "files": [], "output": []},
    "all": {"dependencies": ["fail", "ok"]}
  }
}`)

	g := analyzeOrFatal(t, dir, "all")
	exec := New(g, nil, worker.New(1), nil, nil, FailureModeNoNew)

	result, err := exec.Execute(context.Background())
	if err == nil {
		t.Fatal("expected Execute to return an error")
	}
	if !result.Failed() {
		t.Fatal("expected result.Failed() to be true")
	}
}

func TestExecutor_FailureModeContinueStartsIndependentSibling(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"fail": "wireit", "ok": "wireit", "all": "wireit"},
  "wireit": {
    "fail": {"command": "exit 1", "files": [], "output": []},
    "ok": {"command": "true", "files": [], "output": []},
    "all": {"dependencies": ["fail", "ok"]}
  }
}`)

	g := analyzeOrFatal(t, dir, "all")
	exec := New(g, nil, worker.New(1), nil, nil, FailureModeContinue)

	result, err := exec.Execute(context.Background())
	if err == nil {
		t.Fatal("expected Execute to return an error")
	}
	okRef := manifest.Reference{PackageDir: dir, Name: "ok"}
	okResult, started := result.Scripts[okRef]
	if !started {
		t.Fatal("expected the independent sibling to have been started under FailureModeContinue")
	}
	if okResult.Outcome != OutcomeRan {
		t.Fatalf("expected the independent sibling to run, got %q", okResult.Outcome)
	}
}

func TestExecutor_FailureModeNoNewLeavesInFlightSiblingRunning(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"fail": "wireit", "slow": "wireit", "branchA": "wireit", "branchB": "wireit", "all": "wireit"},
  "wireit": {
    "fail": {"command": "exit 1", "files": [], "output": []},
    "slow": {"command": "sleep 2", "files": [], "output": []},
    "branchA": {"dependencies": ["fail"]},
    "branchB": {"dependencies": ["slow"]},
    "all": {"dependencies": ["branchA", "branchB"]}
  }
}`)

	g := analyzeOrFatal(t, dir, "all")
	exec := New(g, nil, worker.New(4), nil, nil, FailureModeNoNew)

	start := time.Now()
	result, err := exec.Execute(context.Background())
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected Execute to return an error")
	}
	if !result.Failed() {
		t.Fatal("expected result.Failed() to be true")
	}
	slowRef := manifest.Reference{PackageDir: dir, Name: "slow"}
	slowResult, ok := result.Scripts[slowRef]
	if !ok || slowResult.Outcome != OutcomeRan {
		t.Fatalf("expected the in-flight sibling to finish running under FailureModeNoNew, got %+v (present=%v)", slowResult, ok)
	}
	if elapsed < 2*time.Second {
		t.Fatalf("expected FailureModeNoNew to let the in-flight sleep run to completion, only took %s", elapsed)
	}
}

func TestExecutor_FailureModeKillCancelsInFlightSibling(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"fail": "wireit", "slow": "wireit", "branchA": "wireit", "branchB": "wireit", "all": "wireit"},
  "wireit": {
    "fail": {"command": "exit 1", "files": [], "output": []},
    "slow": {"command": "sleep 30", "files": [], "output": []},
    "branchA": {"dependencies": ["fail"]},
    "branchB": {"dependencies": ["slow"]},
    "all": {"dependencies": ["branchA", "branchB"]}
  }
}`)

	// branchA and branchB are separate runDependencies() fan-ins (each with
	// its own errgroup), so fail's failure can only reach slow through the
	// Executor-owned context FailureModeKill cancels — proving this is
	// Kill-specific, not errgroup's own same-branch error cancellation.
	g := analyzeOrFatal(t, dir, "all")
	exec := New(g, nil, worker.New(4), nil, nil, FailureModeKill)

	start := time.Now()
	result, err := exec.Execute(context.Background())
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected Execute to return an error")
	}
	if !result.Failed() {
		t.Fatal("expected result.Failed() to be true")
	}
	if elapsed > 5*time.Second {
		t.Fatalf("expected FailureModeKill to cancel the in-flight sleep quickly, took %s", elapsed)
	}
}

func TestExecutor_CacheHitRestoresFilesWithoutRunning(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"build": "wireit"},
  "wireit": {
    "build": {
      "command": "echo from-run > out.txt",
      "files": [],
      "output": ["out.txt"]
    }
  }
}`)

	cacheDir := t.TempDir()
	backend := cache.NewLocalBackend(cacheDir)

	g := analyzeOrFatal(t, dir, "build")
	exec := New(g, backend, worker.New(4), nil, nil, FailureModeNoNew)
	if _, err := exec.Execute(context.Background()); err != nil {
		t.Fatalf("first Execute failed: %v", err)
	}

	// Delete the persisted fingerprint (but not the cache entry) to force
	// the executor past the "already fresh" check and into the cache path.
	ref := manifest.Reference{PackageDir: dir, Name: "build"}
	if err := deletePersistedFingerprint(ref); err != nil {
		t.Fatalf("deletePersistedFingerprint: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "out.txt")); err != nil {
		t.Fatalf("remove out.txt: %v", err)
	}

	g2 := analyzeOrFatal(t, dir, "build")
	exec2 := New(g2, backend, worker.New(4), nil, nil, FailureModeNoNew)
	result, err := exec2.Execute(context.Background())
	if err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}
	if result.Root.Outcome != OutcomeCached {
		t.Fatalf("expected %q, got %q", OutcomeCached, result.Root.Outcome)
	}
	content, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("expected out.txt restored from cache: %v", err)
	}
	if string(content) != "from-run\n" {
		t.Fatalf("unexpected restored content: %q", content)
	}
}

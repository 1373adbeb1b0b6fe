package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wireit/internal/executor"
)

func writeWatchPackage(t *testing.T, dir, scriptJSON string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := `{"name":"fixture","scripts":{"build":"wireit"},"wireit":{"build":` + scriptJSON + `}}`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}
}

func readFileStringOrEmpty(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func waitForFileContent(t *testing.T, path, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := readFileStringOrEmpty(path); got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to contain %q; last saw %q", path, want, readFileStringOrEmpty(path))
}

// TestWatcher_RerunsOnWatchedFileChange exercises the full debounced
// re-run loop: an initial run, a declared input file edit, and a second
// run picking up the change, without mocking the filesystem or the
// executor.
func TestWatcher_RerunsOnWatchedFileChange(t *testing.T) {
	dir := t.TempDir()
	writeWatchPackage(t, dir, `{"command": "cat input.txt >> history.txt && wc -l < history.txt | tr -d ' ' > count.txt", "files": ["input.txt"], "output": ["count.txt", "history.txt"], "clean": false}`)

	inputPath := filepath.Join(dir, "input.txt")
	countPath := filepath.Join(dir, "count.txt")
	if err := os.WriteFile(inputPath, []byte("v1\n"), 0o644); err != nil {
		t.Fatalf("write input.txt: %v", err)
	}

	w := New(dir, "build", nil, 1, nil, executor.FailureModeNoNew)
	w.PollInterval = 20 * time.Millisecond
	w.DebounceInterval = 40 * time.Millisecond

	runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- w.Run(runCtx) }()

	waitForFileContent(t, countPath, "1\n", 2*time.Second)

	time.Sleep(60 * time.Millisecond) // ensure a distinguishable mtime from the initial write.
	if err := os.WriteFile(inputPath, []byte("v2\n"), 0o644); err != nil {
		t.Fatalf("rewrite input.txt: %v", err)
	}

	waitForFileContent(t, countPath, "2\n", 3*time.Second)

	cancel()
	select {
	case err := <-runErrCh:
		if err == nil {
			t.Fatal("expected Run to return ctx.Err() after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

// TestWatcher_ReanalyzesAfterManifestFixedFollowingParseError confirms the
// watcher survives an initially-broken manifest by watching the manifest
// file itself and re-analyzing once it's corrected.
func TestWatcher_ReanalyzesAfterManifestFixedFollowingParseError(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	packagePath := filepath.Join(dir, "package.json")
	if err := os.WriteFile(packagePath, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("write broken package.json: %v", err)
	}

	w := New(dir, "build", nil, 1, nil, executor.FailureModeNoNew)
	w.PollInterval = 20 * time.Millisecond
	w.DebounceInterval = 40 * time.Millisecond

	runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- w.Run(runCtx) }()

	// Give the watcher a moment to observe the broken manifest and settle
	// into watching it, then fix it.
	time.Sleep(100 * time.Millisecond)
	content := `{"name":"fixture","scripts":{"build":"wireit"},"wireit":{"build":{"command":"wc -l < package.json | tr -d ' ' > out.txt","files":["package.json"],"output":["out.txt"]}}}`
	if err := os.WriteFile(packagePath, []byte(content), 0o644); err != nil {
		t.Fatalf("fix package.json: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, "out.txt")); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err != nil {
		t.Fatalf("expected out.txt to exist after manifest was fixed: %v", err)
	}

	cancel()
	select {
	case <-runErrCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

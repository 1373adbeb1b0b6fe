package executor

import (
	"os"
	"path/filepath"

	"wireit/internal/globmatch"
	"wireit/internal/manifest"
)

// FailureMode governs how in-flight siblings react to a script failure
// (spec.md §4.3).
type FailureMode string

const (
	// FailureModeNoNew lets running scripts finish; no new ones start.
	FailureModeNoNew FailureMode = "no-new"
	// FailureModeContinue lets running scripts finish and starts new ones,
	// unless a dependency of that new work has failed.
	FailureModeContinue FailureMode = "continue"
	// FailureModeKill immediately signals running children; no new ones start.
	FailureModeKill FailureMode = "kill"
)

// applyCleanPolicy deletes files matching cfg's output globs when the
// clean policy requires it. The caller consults the cache first; this only
// runs once a run has actually been decided.
//
// previousFiles is the set of relative file paths the last run observed
// (from the persisted fingerprint, if any); it is used only to detect
// "if-file-deleted".
func applyCleanPolicy(cfg *manifest.Config, previousFiles map[string]string, currentFiles map[string]string) error {
	switch cfg.Clean {
	case manifest.CleanNever:
		return nil
	case manifest.CleanAlways:
		return cleanOutputs(cfg)
	case manifest.CleanIfFileDeleted:
		if fileWasDeleted(previousFiles, currentFiles) {
			return cleanOutputs(cfg)
		}
		return nil
	default:
		return nil
	}
}

func fileWasDeleted(previous, current map[string]string) bool {
	for path := range previous {
		if _, ok := current[path]; !ok {
			return true
		}
	}
	return false
}

// cleanOutputs deletes every file matching cfg's output globs, then any
// directory left empty by those deletions.
func cleanOutputs(cfg *manifest.Config) error {
	if len(cfg.Output) == 0 {
		return nil
	}
	paths, err := globmatch.Resolve(cfg.Reference.PackageDir, cfg.Output)
	if err != nil {
		return err
	}

	dirs := map[string]struct{}{}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		removeIfEmptyDir(dir)
	}
	return nil
}

func removeIfEmptyDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 0 {
		return
	}
	_ = os.Remove(dir)
}

package graph

import (
	"errors"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"wireit/internal/diagnostics"
	"wireit/internal/manifest"
)

// walkPlaceholders runs the analyzer's pass 1: allocate a placeholder for
// every script reference reached from the root, fan out "upgrade" tasks
// that read+decode the owning manifest, and drain the resulting queue
// iteratively as dependency edges surface new references.
//
// This is grounded on the contract's "parallel placeholder walk": instead
// of a literal future/once-cell per reference, each breadth-first level of
// newly discovered references is resolved concurrently via errgroup, and
// manifest.Reader's own cache gives repeated references to the same
// package directory the same free convergence a once-cell map would. Tasks
// never await dependencies (only the current level's manifests), so a
// cyclic back-reference is simply never re-scheduled once seen — cycles
// are left for pass 2 to detect explicitly.
func walkPlaceholders(reader *manifest.Reader, rootDir, rootScriptName string, diags *diagnostics.List) (map[manifest.Reference]*manifest.Config, error) {
	root := manifest.Reference{PackageDir: filepath.Clean(rootDir), Name: rootScriptName}

	configs := make(map[manifest.Reference]*manifest.Config)
	var mu sync.Mutex
	seen := map[manifest.Reference]bool{root: true}

	level := []manifest.Reference{root}

	for len(level) > 0 {
		type resolved struct {
			ref  manifest.Reference
			cfg  *manifest.Config
			next []manifest.Reference
		}

		var g errgroup.Group
		results := make([]resolved, len(level))

		for i, ref := range level {
			i, ref := i, ref
			g.Go(func() error {
				cfg, next, err := resolveOne(reader, ref, diags, &mu)
				if err != nil {
					return err
				}
				results[i] = resolved{ref: ref, cfg: cfg, next: next}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			var fatal *fatalAnalysisError
			if errors.As(err, &fatal) {
				return nil, fatal.err
			}
			return nil, err
		}

		var nextLevel []manifest.Reference
		mu.Lock()
		for _, r := range results {
			if r.cfg != nil {
				configs[r.ref] = r.cfg
			}
			for _, nr := range r.next {
				if !seen[nr] {
					seen[nr] = true
					nextLevel = append(nextLevel, nr)
				}
			}
		}
		mu.Unlock()
		level = nextLevel
	}

	return configs, nil
}

// fatalAnalysisError wraps an error that should abort analysis entirely
// (as opposed to a diagnostic, which is accumulated and does not stop the
// walk from covering the rest of the graph).
type fatalAnalysisError struct{ err error }

func (e *fatalAnalysisError) Error() string { return e.err.Error() }
func (e *fatalAnalysisError) Unwrap() error { return e.err }

// resolveOne loads ref's owning package, decodes its config, resolves each
// dependency reference to an absolute package directory, and validates the
// cross-package/missing-script rules that need the dependency's target
// context (as opposed to the purely-local rules already applied by
// manifest.decodeConfig).
func resolveOne(reader *manifest.Reader, ref manifest.Reference, diags *diagnostics.List, mu *sync.Mutex) (*manifest.Config, []manifest.Reference, error) {
	pkg, err := reader.Load(ref.PackageDir)
	if err != nil {
		var d *diagnostics.Diagnostic
		if errors.As(err, &d) {
			mu.Lock()
			diags.Add(d)
			mu.Unlock()
			return nil, nil, nil
		}
		return nil, nil, &fatalAnalysisError{err: err}
	}

	mu.Lock()
	for _, d := range pkg.Diagnostics {
		diags.Add(d)
	}
	mu.Unlock()

	cfg, ok := pkg.Configs[ref.Name]
	if !ok {
		mu.Lock()
		if _, isScript := pkg.Scripts[ref.Name]; isScript {
			diags.Add(diagnostics.New(diagnostics.KindScriptNotWireit, diagnostics.Position{File: pkg.Path},
				"%q is a plain script, not a wireit-managed script", ref.Name))
		} else {
			diags.Add(diagnostics.New(diagnostics.KindScriptNotFound, diagnostics.Position{File: pkg.Path},
				"no script named %q in %s", ref.Name, pkg.Path))
		}
		mu.Unlock()
		return nil, nil, nil
	}

	var next []manifest.Reference
	for idx := range cfg.Dependencies {
		dep := &cfg.Dependencies[idx]
		resolvedDir := resolveDependencyDir(ref.PackageDir, dep.Reference.PackageDir)

		if dep.Reference.PackageDir != "" && !filepath.IsAbs(dep.Reference.PackageDir) && resolvedDir == ref.PackageDir {
			mu.Lock()
			diags.Add(diagnostics.New(diagnostics.KindInvalidConfigSyntax, dep.Pos,
				"cross-package dependency %q resolves to its own package", dep.Reference.Name))
			mu.Unlock()
		}

		dep.Reference = manifest.Reference{PackageDir: resolvedDir, Name: dep.Reference.Name}
		next = append(next, dep.Reference)
	}

	return cfg, next, nil
}

// resolveDependencyDir resolves a dependency's (possibly relative, possibly
// already-absolute, possibly empty) package-dir component against the
// referencing script's absolute package directory. Idempotent: an
// already-absolute dir resolves to itself, so re-resolving a config that
// was already resolved in a prior analysis pass (manifest.Reader's cache
// persists configs across Analyze calls) is a no-op.
func resolveDependencyDir(referencingDir, depDir string) string {
	switch {
	case depDir == "":
		return referencingDir
	case filepath.IsAbs(depDir):
		return filepath.Clean(depDir)
	default:
		return filepath.Clean(filepath.Join(referencingDir, depDir))
	}
}

// Package globmatch is the engine's small, internal glob matcher: expansion
// of declared file/output patterns into a deterministic, sorted file list.
//
// This is one of the contract's out-of-scope "external collaborators" (the
// glob matcher) — vendored here as a small internal package rather than an
// external dependency, per spec.md §1's framing of it as a black box behind
// the contract in §6, not a subsystem of the engine proper.
package globmatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolve expands patterns (relative to baseDir) into a sorted, deduplicated
// list of absolute file paths.
//
// Patterns are applied in order: a normal pattern adds matches to the
// result set; a pattern prefixed with "!" removes matches from the set
// accumulated so far. Order is therefore significant, per the manifest
// schema's `files`/`output` semantics ("!pattern excludes; order
// significant"). Only files (not directories) are included.
func Resolve(baseDir string, patterns []string) ([]string, error) {
	set := map[string]struct{}{}

	for _, raw := range patterns {
		exclude := strings.HasPrefix(raw, "!")
		pattern := strings.TrimPrefix(raw, "!")

		matches, err := expand(baseDir, pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", raw, err)
		}

		if exclude {
			for _, m := range matches {
				delete(set, m)
			}
			continue
		}
		for _, m := range matches {
			set[m] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func expand(baseDir, pattern string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(baseDir, pattern)
	}

	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 && !containsGlobChar(pattern) {
		if _, err := os.Stat(full); err == nil {
			matches = []string{full}
		}
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		out = append(out, filepath.Clean(m))
	}
	return out, nil
}

func containsGlobChar(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]")
}

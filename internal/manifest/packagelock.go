package manifest

import "path/filepath"

// ExpandPackageLocks synthesizes additional input glob patterns for a
// script's lockfiles, walking from packageDir up to the filesystem root and
// adding each lockfile name relative to every ancestor directory.
//
// This models the runtime module resolver's own upward lockfile search, and
// follows the same ancestor-walk shape as jvmakine-fbs's configuration
// loader (pkg/config/config.go), which walks from a start directory to the
// filesystem root collecting one config file per ancestor and merging
// root-to-leaf. Here there is no merge: every ancestor's lockfile is simply
// added as its own input pattern, since any of them changing could affect
// what gets resolved.
//
// locks == nil means "use the default canonical lockfile name". An empty,
// non-nil slice disables auto-inclusion and this returns nil.
func ExpandPackageLocks(packageDir string, locks []string) []string {
	if locks != nil && len(locks) == 0 {
		return nil
	}
	names := locks
	if names == nil {
		names = []string{DefaultLockfileName}
	}

	var patterns []string
	dir := filepath.Clean(packageDir)
	for {
		for _, name := range names {
			patterns = append(patterns, filepath.Join(dir, name))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return patterns
}

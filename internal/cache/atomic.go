package cache

import (
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"wireit/internal/durablefile"
)

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	return durablefile.Write(path, data, perm)
}

// restoreFiles writes each file under dir, skipping any whose on-disk
// content already matches, and returns the relative paths actually written.
//
// Grounded on internal/core/replay.go's compare-before-write restore
// (teacher): re-running the same cache hit over an already-fresh tree
// should not touch mtimes or trigger a watcher it didn't need to.
func restoreFiles(dir string, files []File) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, f := range files {
		full := filepath.Join(dir, f.RelPath)
		if existing, err := os.ReadFile(full); err == nil {
			if blake3.Sum256(existing) == blake3.Sum256(f.Content) {
				continue
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}

		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := writeFileAtomicDurable(full, f.Content, 0o644); err != nil {
			return nil, err
		}
		written = append(written, f.RelPath)
	}
	return written, nil
}

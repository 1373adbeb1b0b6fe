package executor

import (
	"os"
	"path/filepath"

	"wireit/internal/cache"
	"wireit/internal/globmatch"
	"wireit/internal/manifest"
)

// outputFiles reads cfg's declared output globs into cache.File values,
// relative to the package directory, for materializing a cache entry.
func outputFiles(cfg *manifest.Config) ([]cache.File, error) {
	paths, err := globmatch.Resolve(cfg.Reference.PackageDir, cfg.Output)
	if err != nil {
		return nil, err
	}
	files := make([]cache.File, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		rel := relativeOutputPath(cfg.Reference.PackageDir, p)
		files = append(files, cache.File{RelPath: rel, Content: content})
	}
	return files, nil
}

func relativeOutputPath(baseDir, path string) string {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

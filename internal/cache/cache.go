// Package cache implements the cache backend contract (spec.md §6):
// get(script, fingerprint) -> hit?, where hit.apply() restores output
// files; set(script, fingerprint, outputFiles) -> bool. Temporary failure
// is reported by returning false without an error; unexpected errors are
// returned as errors.
package cache

import "wireit/internal/manifest"

// File is one output file's relative path and content, as archived for a
// cache entry.
type File struct {
	RelPath string
	Content []byte
}

// Hit is a cache entry found for a given fingerprint.
type Hit struct {
	Files []File
}

// Apply restores the hit's files under dir, skipping any file whose
// on-disk content already matches (an idempotent restore, grounded on the
// teacher's internal/core/replay.go compare-before-write pattern).
func (h *Hit) Apply(dir string) ([]string, error) {
	return restoreFiles(dir, h.Files)
}

// Backend is the cache backend contract.
type Backend interface {
	// Get returns the cache entry for (script, fingerprintHash), or nil if
	// there is no entry. A nil, nil return is a cache miss; a non-nil error
	// is an unexpected failure.
	Get(script manifest.Reference, fingerprintHash string) (*Hit, error)

	// Set stores outputFiles under (script, fingerprintHash). It returns
	// false (without an error) to report a temporary failure the caller
	// should treat as "not cached this time", and an error for anything
	// unexpected.
	Set(script manifest.Reference, fingerprintHash string, outputFiles []File) (bool, error)
}

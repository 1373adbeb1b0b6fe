package executor

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"wireit/internal/durablefile"
	"wireit/internal/fingerprint"
	"wireit/internal/manifest"
)

// fingerprintDirName is the dotdir under the package directory that holds
// each script's persisted-fingerprint file, so the invariant in spec.md
// §8 ("if a run was interrupted, no fingerprint file exists") is easy to
// reason about: one file, deleted at spawn time, rewritten only on clean
// exit.
const fingerprintDirName = ".wireit"

func fingerprintPath(ref manifest.Reference) string {
	sum := blake3.Sum256([]byte(ref.Name))
	return filepath.Join(ref.PackageDir, fingerprintDirName, hex.EncodeToString(sum[:8])+".fingerprint.json")
}

// loadPersistedFingerprint reads the previous run's fingerprint for ref, or
// (zero value, false, nil) if none exists.
func loadPersistedFingerprint(ref manifest.Reference) (fingerprint.Fingerprint, bool, error) {
	data, err := os.ReadFile(fingerprintPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return fingerprint.Fingerprint{}, false, nil
		}
		return fingerprint.Fingerprint{}, false, err
	}
	fp, err := fingerprint.ParseCanonical(data)
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}
	return fp, true, nil
}

// deletePersistedFingerprint removes ref's fingerprint file, if any. Called
// at spawn time so an interrupted run is never mistaken for fresh.
func deletePersistedFingerprint(ref manifest.Reference) error {
	err := os.Remove(fingerprintPath(ref))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// writePersistedFingerprint durably writes fp as ref's new persisted
// fingerprint, only ever called after a clean exit or after a cache hit
// restored the outputs. A fresh outcome leaves the existing file untouched.
func writePersistedFingerprint(ref manifest.Reference, fp fingerprint.Fingerprint) error {
	path := fingerprintPath(ref)
	return durablefile.Write(path, fp.CanonicalBytes(), 0o644)
}

// Package durablefile provides the one atomic, fsync'd file write this
// engine needs in two places (the local cache backend and persisted
// fingerprint files) — temp file in the destination
// directory, fsync, atomic rename, then fsync the directory.
//
// Grounded on internal/recovery/state/store.go's writeFileAtomicDurable and
// fsyncDir (teacher), lifted out of that package so the cache and executor
// packages don't need to depend on internal/runlog (or each other) just to
// share this helper.
package durablefile

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// Write writes data to path via a temp file in the same directory, fsync,
// then atomic rename, with a trailing fsync of the parent directory.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return FsyncDir(dir)
}

// FsyncDir syncs a directory's metadata, needed after a rename into it for
// the rename itself to be durable across a crash.
func FsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

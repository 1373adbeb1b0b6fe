package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"wireit/internal/manifest"
)

// LocalBackend stores cache entries on the filesystem, sharded by the first
// two hex characters of the fingerprint hash, one JSON metadata file plus
// one content blob per file.
//
// Grounded on internal/core/cache.go's FileCache (teacher): same
// hash-prefix sharding and temp-dir-then-atomic-rename commit strategy,
// generalized from "one task's stdout/stderr/exitcode/artifacts" to "one
// script's output file set" per this engine's cache contract (spec.md §6),
// which has no stdout/stderr/exit-code in its cache payload — those live in
// the run log (internal/runlog), not the cache.
type LocalBackend struct {
	RootDir string
}

func NewLocalBackend(rootDir string) *LocalBackend {
	return &LocalBackend{RootDir: rootDir}
}

func (b *LocalBackend) entryDir(script manifest.Reference, fingerprintHash string) string {
	shard := fingerprintHash
	if len(shard) > 2 {
		shard = shard[:2]
	}
	scriptDir := scriptDirName(script)
	return filepath.Join(b.RootDir, scriptDir, shard, fingerprintHash)
}

func scriptDirName(script manifest.Reference) string {
	sum := blake3.Sum256([]byte(script.String()))
	return hex.EncodeToString(sum[:8])
}

type entryMetadata struct {
	Files []fileMeta `json:"files"`
}

type fileMeta struct {
	RelPath  string `json:"relPath"`
	BlobHash string `json:"blobHash"`
}

func (b *LocalBackend) Get(script manifest.Reference, fingerprintHash string) (*Hit, error) {
	dir := b.entryDir(script, fingerprintHash)
	metaPath := filepath.Join(dir, "metadata.json")

	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: read metadata: %w", err)
	}

	var meta entryMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("cache: parse metadata: %w", err)
	}

	hit := &Hit{Files: make([]File, 0, len(meta.Files))}
	for _, fm := range meta.Files {
		blobPath := filepath.Join(dir, "blobs", fm.BlobHash+".blob")
		content, err := os.ReadFile(blobPath)
		if err != nil {
			return nil, fmt.Errorf("cache: read blob for %s: %w", fm.RelPath, err)
		}
		hit.Files = append(hit.Files, File{RelPath: fm.RelPath, Content: content})
	}
	return hit, nil
}

func (b *LocalBackend) Set(script manifest.Reference, fingerprintHash string, outputFiles []File) (bool, error) {
	dir := b.entryDir(script, fingerprintHash)
	parent := filepath.Dir(dir)

	if err := os.MkdirAll(parent, 0o755); err != nil {
		return false, fmt.Errorf("cache: mkdir: %w", err)
	}

	tmpDir, err := os.MkdirTemp(parent, "tmp-entry-*")
	if err != nil {
		return false, fmt.Errorf("cache: mkdir temp: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	blobsDir := filepath.Join(tmpDir, "blobs")
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return false, fmt.Errorf("cache: mkdir blobs: %w", err)
	}

	meta := entryMetadata{Files: make([]fileMeta, 0, len(outputFiles))}
	for _, f := range outputFiles {
		sum := blake3.Sum256(f.Content)
		blobHash := hex.EncodeToString(sum[:])
		blobPath := filepath.Join(blobsDir, blobHash+".blob")
		if err := writeFileAtomicDurable(blobPath, f.Content, 0o644); err != nil {
			return false, fmt.Errorf("cache: write blob for %s: %w", f.RelPath, err)
		}
		meta.Files = append(meta.Files, fileMeta{RelPath: f.RelPath, BlobHash: blobHash})
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return false, fmt.Errorf("cache: marshal metadata: %w", err)
	}
	if err := writeFileAtomicDurable(filepath.Join(tmpDir, "metadata.json"), data, 0o644); err != nil {
		return false, fmt.Errorf("cache: write metadata: %w", err)
	}

	_ = os.RemoveAll(dir)
	if err := os.Rename(tmpDir, dir); err != nil {
		return false, fmt.Errorf("cache: commit entry: %w", err)
	}
	committed = true
	return true, nil
}

// Package fingerprint computes and compares content-addressed fingerprints
// for a script, per spec.md §4.2: a normalized record over everything that
// could affect a script's output.
package fingerprint

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/zeebo/blake3"

	"wireit/internal/globmatch"
	"wireit/internal/manifest"
)

// Fingerprint is the normalized record described by the data model.
type Fingerprint struct {
	Platform        string            `json:"platform"`
	Architecture    string            `json:"architecture"`
	RuntimeVersion  string            `json:"runtimeVersion"`
	Command         string            `json:"command"`
	ExtraArgs       []string          `json:"extraArgs"`
	Clean           string            `json:"clean"`
	Output          []string          `json:"output"`
	ServiceReadyWhen string           `json:"serviceReadyWhen"`
	Env             map[string]string `json:"env"`
	Files           map[string]string `json:"files"`        // relative path -> content hash, sorted keys.
	Dependencies    map[string]string `json:"dependencies"` // dependency reference string -> dependency fingerprint hash, sorted keys.
	FullyTracked    bool              `json:"fullyTracked"`
}

// NotFullyTrackedReason explains why FullyTracked is false, for diagnostics
// and logging; it does not affect equality or hashing.
type NotFullyTrackedReason string

const (
	ReasonNone                 NotFullyTrackedReason = ""
	ReasonNoFilesDeclared      NotFullyTrackedReason = "script has a command but no declared files"
	ReasonNoOutputDeclared     NotFullyTrackedReason = "script declares files but no output to track"
	ReasonDependencyNotTracked NotFullyTrackedReason = "a cascaded dependency is not fully tracked"
)

// Inputs carries everything Compute needs beyond the config itself: content
// hashes for the script's own declared files (already resolved by
// globmatch, relative to the package directory) and fingerprints already
// computed for each dependency (keyed by reference string).
type Inputs struct {
	FileHashes   map[string]string // relative path -> content hash.
	Dependencies map[string]Fingerprint
}

// HashFile hashes a file's content with BLAKE3 and returns its hex digest.
// The content is passed in whole, already read into memory; it is not
// streamed. BLAKE3 is used instead of the teacher's SHA-256 per the content
// hashing choice in SPEC_FULL.md §11.5 (grounded on
// mattjoyce-senechal-gw/internal/config/hash.go), chosen as the fixed
// cryptographic digest for this subsystem.
func HashFile(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ResolveFiles expands a config's declared file patterns relative to its
// package directory and hashes each match, returning a relative-path ->
// hash map suitable for Inputs.FileHashes.
func ResolveFiles(cfg *manifest.Config, readFile func(path string) ([]byte, error)) (map[string]string, error) {
	if cfg.Files == nil {
		return nil, nil
	}
	paths, err := globmatch.Resolve(cfg.Reference.PackageDir, cfg.Files)
	if err != nil {
		return nil, err
	}
	hashes := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := readFile(p)
		if err != nil {
			return nil, err
		}
		rel := relativeTo(cfg.Reference.PackageDir, p)
		hashes[rel] = HashFile(data)
	}
	return hashes, nil
}

// Compute builds the Fingerprint for cfg given its resolved inputs, along
// with the reason FullyTracked is false (ReasonNone when it's true), per
// spec.md §4.2's compute(config, dependencyFingerprints) -> (Fingerprint,
// notFullyTrackedReason?) contract.
func Compute(cfg *manifest.Config, in Inputs) (Fingerprint, NotFullyTrackedReason) {
	fp := Fingerprint{
		Platform:         runtime.GOOS,
		Architecture:     runtime.GOARCH,
		RuntimeVersion:   runtime.Version(),
		Command:          cfg.Command,
		ExtraArgs:        append([]string{}, cfg.ExtraArgs...),
		Clean:            string(cfg.Clean),
		Output:           append([]string{}, cfg.Output...),
		ServiceReadyWhen: cfg.Service.ReadyWhenLineMatches,
		Env:              copyStringMap(cfg.Env),
		Files:            copyStringMap(in.FileHashes),
	}

	deps := map[string]string{}
	depsTracked := true
	for ref, depFP := range in.Dependencies {
		deps[ref] = depFP.Hash()
		if !depFP.FullyTracked {
			depsTracked = false
		}
	}
	fp.Dependencies = deps

	reason := computeFullyTracked(cfg, depsTracked)
	fp.FullyTracked = reason == ReasonNone
	return fp, reason
}

// computeFullyTracked decides whether cfg's fingerprint can be trusted to
// detect every change to a script's output, and why not when it can't. A
// script with no command has nothing to track and is always fully tracked;
// a dependency that isn't fully tracked cascades (ReasonDependencyNotTracked)
// since this script's own freshness can never be more reliable than its
// least-tracked dependency; a command script that declares no files at all
// can't know what it reads (ReasonNoFilesDeclared); a command script that
// does declare files but writes no declared output can't know what changed
// on disk as a result of running (ReasonNoOutputDeclared, distinct from the
// no-files case since here the inputs ARE tracked, just not the outputs).
func computeFullyTracked(cfg *manifest.Config, depsTracked bool) NotFullyTrackedReason {
	if cfg.Kind == manifest.KindNoCommand {
		return ReasonNone
	}
	if !depsTracked {
		return ReasonDependencyNotTracked
	}
	if cfg.Kind == manifest.KindService {
		// A service with a command but no files produces no files of its
		// own and is fully tracked regardless; services are never
		// considered untracked purely for lacking `files`.
		return ReasonNone
	}
	if cfg.Files == nil {
		return ReasonNoFilesDeclared
	}
	if len(cfg.Output) == 0 {
		return ReasonNoOutputDeclared
	}
	return ReasonNone
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// canonicalJSON produces the stable, field-ordered serialization that
// Equal/Hash/difference all build on: sorted map keys (json.Marshal of a Go
// map already sorts string keys) and an explicit struct field order fixed
// by the struct tag declaration order above.
func (f Fingerprint) canonicalJSON() []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(canonicalView{
		Platform:         f.Platform,
		Architecture:     f.Architecture,
		RuntimeVersion:   f.RuntimeVersion,
		Command:          f.Command,
		ExtraArgs:        nilToEmpty(f.ExtraArgs),
		Clean:            f.Clean,
		Output:           nilToEmpty(f.Output),
		ServiceReadyWhen: f.ServiceReadyWhen,
		Env:              sortedPairs(f.Env),
		Files:            sortedPairs(f.Files),
		Dependencies:     sortedPairs(f.Dependencies),
		FullyTracked:     f.FullyTracked,
	})
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// canonicalView fixes field order in the JSON encoding itself (struct field
// order determines json.Marshal's key order), and replaces the three maps
// with sorted-pair slices so map iteration order can never leak in.
type canonicalView struct {
	Platform         string   `json:"platform"`
	Architecture     string   `json:"architecture"`
	RuntimeVersion   string   `json:"runtimeVersion"`
	Command          string   `json:"command"`
	ExtraArgs        []string `json:"extraArgs"`
	Clean            string   `json:"clean"`
	Output           []string `json:"output"`
	ServiceReadyWhen string   `json:"serviceReadyWhen"`
	Env              []pair   `json:"env"`
	Files            []pair   `json:"files"`
	Dependencies     []pair   `json:"dependencies"`
	FullyTracked     bool     `json:"fullyTracked"`
}

type pair struct {
	K string `json:"k"`
	V string `json:"v"`
}

func sortedPairs(m map[string]string) []pair {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]pair, 0, len(keys))
	for _, k := range keys {
		out = append(out, pair{K: k, V: m[k]})
	}
	return out
}

func nilToEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Canonical returns the stable serialization used for equality and hashing.
func (f Fingerprint) Canonical() string { return string(f.canonicalJSON()) }

// CanonicalBytes is Canonical as a []byte, for callers persisting the
// fingerprint to disk (internal/executor's per-script fingerprint file).
func (f Fingerprint) CanonicalBytes() []byte { return f.canonicalJSON() }

// ParseCanonical parses a fingerprint file previously written via
// CanonicalBytes. Since canonicalJSON is a plain struct encoding (the
// canonicalView shape, with maps flattened to sorted pair slices), decoding
// reconstructs an equal Fingerprint by reading the same view and expanding
// the pairs back into maps.
func ParseCanonical(data []byte) (Fingerprint, error) {
	var view canonicalView
	if err := json.Unmarshal(data, &view); err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Platform:         view.Platform,
		Architecture:     view.Architecture,
		RuntimeVersion:   view.RuntimeVersion,
		Command:          view.Command,
		ExtraArgs:        view.ExtraArgs,
		Clean:            view.Clean,
		Output:           view.Output,
		ServiceReadyWhen: view.ServiceReadyWhen,
		Env:              pairsToMap(view.Env),
		Files:            pairsToMap(view.Files),
		Dependencies:     pairsToMap(view.Dependencies),
		FullyTracked:     view.FullyTracked,
	}, nil
}

func pairsToMap(pairs []pair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.K] = p.V
	}
	return out
}

// Hash returns the BLAKE3 digest of the canonical serialization.
func (f Fingerprint) Hash() string {
	sum := blake3.Sum256(f.canonicalJSON())
	return hex.EncodeToString(sum[:])
}

// Equal reports whether two fingerprints have identical canonical
// serializations. Equality is reflexive, symmetric, and transitive because
// it reduces to string equality of a deterministic function of each value.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Canonical() == other.Canonical()
}

func relativeTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Package manifest reads package manifests (package.json-equivalent files)
// and their wireit configuration blocks into ScriptConfig values.
//
// Parsing is position-aware: every config field remembers the source line
// and column it was decoded from (via gopkg.in/yaml.v3's yaml.Node, which
// decodes JSON manifests equally well since JSON is a YAML subset), so the
// analyzer can render diagnostics with source-position excerpts.
package manifest

import "fmt"

// Reference identifies a script within a package directory. Its string
// encoding is a deterministic tuple serialization, safe to use as a map key
// and stable across processes.
type Reference struct {
	PackageDir string
	Name       string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s:%s", r.PackageDir, r.Name)
}

func (r Reference) IsZero() bool {
	return r.PackageDir == "" && r.Name == ""
}

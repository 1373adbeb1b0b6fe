package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"wireit/internal/diagnostics"
)

func writePackage(t *testing.T, dir string, scriptJSON string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(scriptJSON), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}
}

func hasDiagnosticKind(diags []*diagnostics.Diagnostic, kind diagnostics.Kind) bool {
	for _, d := range diags {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func TestLoad_DuplicateDependencyIsRejected(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"a": "wireit", "all": "wireit"},
  "wireit": {
    "a": {"command": "true", "files": [], "output": []},
    "all": {"dependencies": ["a", "a"]}
  }
}`)

	pkg, err := NewReader().Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !hasDiagnosticKind(pkg.Diagnostics, diagnostics.KindDuplicateDependency) {
		t.Fatalf("expected a KindDuplicateDependency diagnostic, got: %v", pkg.Diagnostics)
	}
	if cfg, ok := pkg.Configs["all"]; ok && len(cfg.Dependencies) != 1 {
		t.Fatalf("expected the duplicate to be rejected, not both kept, got %d dependencies", len(cfg.Dependencies))
	}
}

func TestLoad_CascadeFlagParsedFromBang(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"a": "wireit", "all": "wireit"},
  "wireit": {
    "a": {"command": "true", "files": [], "output": []},
    "all": {"dependencies": ["!a"]}
  }
}`)

	pkg, err := NewReader().Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg, ok := pkg.Configs["all"]
	if !ok || len(cfg.Dependencies) != 1 {
		t.Fatalf("expected all to have exactly one dependency, got %+v", cfg)
	}
	if cfg.Dependencies[0].Cascade {
		t.Fatal("expected the !-prefixed dependency to be non-cascading")
	}
	if cfg.Dependencies[0].Reference.Name != "a" {
		t.Fatalf("expected the ! prefix to be stripped from the name, got %q", cfg.Dependencies[0].Reference.Name)
	}
}

func TestLoad_MalformedCrossPackageDependencyIsDiagnosed(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"all": "wireit"},
  "wireit": {
    "all": {"dependencies": [".nocolon"]}
  }
}`)

	pkg, err := NewReader().Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !hasDiagnosticKind(pkg.Diagnostics, diagnostics.KindInvalidConfigSyntax) {
		t.Fatalf("expected a KindInvalidConfigSyntax diagnostic for a malformed cross-package reference, got: %v", pkg.Diagnostics)
	}
}

func TestLoad_MissingPackageJSONIsDiagnosed(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewReader().Load(dir); err == nil {
		t.Fatal("expected Load to fail for a directory with no package.json")
	}
}

func TestLoad_ScriptNotInvokingWireitWarns(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"build": "echo not-wireit"},
  "wireit": {
    "build": {"command": "true", "files": [], "output": []}
  }
}`)

	pkg, err := NewReader().Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	found := false
	for _, d := range pkg.Diagnostics {
		if d.Kind == diagnostics.KindScriptNotWireit && d.Severity == diagnostics.SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a KindScriptNotWireit warning, got: %v", pkg.Diagnostics)
	}
}

func TestLoad_ReaderCachesByDirectory(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, `{
  "scripts": {"build": "wireit"},
  "wireit": {"build": {"command": "true", "files": [], "output": []}}
}`)

	r := NewReader()
	first, err := r.Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := r.Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if first != second {
		t.Fatal("expected repeated Load calls for the same directory to return the cached Package")
	}
}

func TestExpandPackageLocks_WalksAncestorDirectories(t *testing.T) {
	pkgDir := filepath.Join("a", "b", "c")
	got := ExpandPackageLocks(pkgDir, nil)

	want := []string{
		filepath.Join("a", "b", "c", DefaultLockfileName),
		filepath.Join("a", "b", DefaultLockfileName),
		filepath.Join("a", DefaultLockfileName),
		filepath.Join(".", DefaultLockfileName),
	}
	if len(got) < len(want)-1 {
		t.Fatalf("expected ExpandPackageLocks to add one entry per ancestor directory, got %v", got)
	}
	for i, w := range want {
		if i >= len(got) {
			break
		}
		if got[i] != w {
			t.Errorf("entry %d: expected %q, got %q", i, w, got[i])
		}
	}
}

func TestExpandPackageLocks_EmptyOverrideDisablesTracking(t *testing.T) {
	got := ExpandPackageLocks("/repo/pkg", []string{})
	if got != nil {
		t.Fatalf("expected an explicit empty packageLocks override to disable expansion, got %v", got)
	}
}

func TestExpandPackageLocks_CustomNamesExpandPerAncestor(t *testing.T) {
	got := ExpandPackageLocks(filepath.Join("a", "b"), []string{"custom.lock"})
	want := []string{
		filepath.Join("a", "b", "custom.lock"),
		filepath.Join("a", "custom.lock"),
		filepath.Join(".", "custom.lock"),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("entry %d: expected %q, got %q", i, w, got[i])
		}
	}
}

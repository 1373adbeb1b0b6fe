package fingerprint

import (
	"testing"

	"wireit/internal/manifest"
)

func groupConfig() *manifest.Config {
	return &manifest.Config{
		Kind:      manifest.KindNoCommand,
		Reference: manifest.Reference{PackageDir: "/repo/pkg", Name: "all"},
	}
}

func TestParseCanonical_RoundTrip(t *testing.T) {
	fp := baseFingerprint()

	parsed, err := ParseCanonical(fp.CanonicalBytes())
	if err != nil {
		t.Fatalf("ParseCanonical failed: %v", err)
	}
	if !parsed.Equal(fp) {
		t.Fatalf("round-tripped fingerprint not equal to original:\noriginal: %s\nparsed:   %s", fp.Canonical(), parsed.Canonical())
	}
}

func TestComputeFullyTracked_NoCommandAlwaysTracked(t *testing.T) {
	cfg := groupConfig()
	fp, reason := Compute(cfg, Inputs{})
	if !fp.FullyTracked {
		t.Fatal("a no-command grouping script must always be fully tracked")
	}
	if reason != ReasonNone {
		t.Fatalf("expected ReasonNone, got %q", reason)
	}
}

func commandConfig(files []string, output []string) *manifest.Config {
	return &manifest.Config{
		Kind:      manifest.KindOneShot,
		Reference: manifest.Reference{PackageDir: "/repo/pkg", Name: "build"},
		Command:   "make build",
		Files:     files,
		Output:    output,
	}
}

func TestComputeFullyTracked_NoFilesDeclared(t *testing.T) {
	cfg := commandConfig(nil, []string{"dist"})
	fp, reason := Compute(cfg, Inputs{})
	if fp.FullyTracked {
		t.Fatal("a command script with no declared files must not be fully tracked")
	}
	if reason != ReasonNoFilesDeclared {
		t.Fatalf("expected ReasonNoFilesDeclared, got %q", reason)
	}
}

func TestComputeFullyTracked_NoOutputDeclared(t *testing.T) {
	cfg := commandConfig([]string{"src/**"}, nil)
	fp, reason := Compute(cfg, Inputs{})
	if fp.FullyTracked {
		t.Fatal("a command script with declared files but no output must not be fully tracked")
	}
	if reason != ReasonNoOutputDeclared {
		t.Fatalf("expected ReasonNoOutputDeclared, got %q", reason)
	}
}

func TestComputeFullyTracked_DependencyNotTrackedCascades(t *testing.T) {
	cfg := commandConfig([]string{"src/**"}, []string{"dist"})
	untracked := Fingerprint{FullyTracked: false}
	fp, reason := Compute(cfg, Inputs{Dependencies: map[string]Fingerprint{"/repo/dep:build": untracked}})
	if fp.FullyTracked {
		t.Fatal("a script depending on an untracked dependency must not be fully tracked")
	}
	if reason != ReasonDependencyNotTracked {
		t.Fatalf("expected ReasonDependencyNotTracked, got %q", reason)
	}
}

func TestComputeFullyTracked_CommandWithFilesAndOutput(t *testing.T) {
	cfg := commandConfig([]string{"src/**"}, []string{"dist"})
	fp, reason := Compute(cfg, Inputs{})
	if !fp.FullyTracked {
		t.Fatal("a command script with both files and output declared must be fully tracked")
	}
	if reason != ReasonNone {
		t.Fatalf("expected ReasonNone, got %q", reason)
	}
}

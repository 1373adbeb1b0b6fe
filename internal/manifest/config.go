package manifest

import "wireit/internal/diagnostics"

// CleanPolicy is the `clean` setting on a ScriptConfig.
type CleanPolicy string

const (
	CleanAlways        CleanPolicy = "always"
	CleanNever         CleanPolicy = "never"
	CleanIfFileDeleted CleanPolicy = "if-file-deleted"
)

// Kind discriminates the tagged ScriptConfig variant.
type Kind int

const (
	// KindNoCommand is a grouping node: no command, only dependencies.
	KindNoCommand Kind = iota
	// KindOneShot runs to completion and exits.
	KindOneShot
	// KindService is long-running; managed by internal/service's state machine.
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindNoCommand:
		return "no-command"
	case KindOneShot:
		return "one-shot"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// Dependency is an edge to another script's config.
//
// Dependency stores a Reference, not a live *Config pointer: per the
// cyclic-object-graph design note, configs are kept in a flat arena keyed by
// Reference, and dependency edges store the key. This lets a
// dependency list legally point back at an ancestor (which is exactly the
// shape a cycle diagnostic needs to detect) without constructing a Go
// pointer cycle that the garbage collector and JSON/trace serializers would
// both need special-casing for.
type Dependency struct {
	Reference Reference
	Cascade   bool
	Pos       diagnostics.Position
}

// ServiceConfig carries service-specific settings.
type ServiceConfig struct {
	ReadyWhenLineMatches string // regex on stdout; empty means "process started" is readiness.
}

// Config is the tagged-variant ScriptConfig described by the data model:
// a no-command grouper, a one-shot command, or a service.
type Config struct {
	Kind Kind

	Reference    Reference
	Dependencies []Dependency // sorted by (PackageDir, Name) after analysis.

	// DeclaringFile is the manifest file this config was decoded from.
	DeclaringFile string

	Command string // empty for KindNoCommand.

	// Files is the declared input glob list. A nil slice (as opposed to an
	// empty, non-nil slice) means "unknown inputs": freshness/caching is
	// disabled for this script and all transitive dependents.
	Files []string

	// Output is the declared output glob list.
	Output []string

	Clean CleanPolicy

	// PackageLocks lists lockfile basenames to include as implicit inputs.
	// nil means "use the default canonical lockfile name"; a non-nil empty
	// slice disables auto-inclusion entirely.
	PackageLocks []string

	Env      map[string]string
	ExtraArgs []string

	Service ServiceConfig

	Pos diagnostics.Position
}

// HasCommand reports whether this config spawns a child process.
func (c *Config) HasCommand() bool {
	return c.Kind != KindNoCommand && c.Command != ""
}

// HasDeclaredFiles reports whether inputs are known for this script.
func (c *Config) HasDeclaredFiles() bool {
	return c.Files != nil
}

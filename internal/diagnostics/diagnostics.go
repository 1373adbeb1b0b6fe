// Package diagnostics defines the fixed set of diagnostic kinds the analyzer
// and executor raise, and a Diagnostic value carrying severity, message, and
// source positions for rendering.
package diagnostics

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the fixed diagnostic kinds.
type Kind string

const (
	KindLaunchedIncorrectly             Kind = "launched-incorrectly"
	KindMissingPackageJSON              Kind = "missing-package-json"
	KindInvalidJSONSyntax               Kind = "invalid-json-syntax"
	KindNoScriptsInPackageJSON          Kind = "no-scripts-in-package-json"
	KindScriptNotFound                  Kind = "script-not-found"
	KindWireitConfigButNoScript         Kind = "wireit-config-but-no-script"
	KindScriptNotWireit                 Kind = "script-not-wireit"
	KindInvalidConfigSyntax             Kind = "invalid-config-syntax"
	KindDuplicateDependency             Kind = "duplicate-dependency"
	KindCycle                           Kind = "cycle"
	KindDependencyOnMissingPackageJSON  Kind = "dependency-on-missing-package-json"
	KindDependencyOnMissingScript       Kind = "dependency-on-missing-script"
	KindInvalidUsage                    Kind = "invalid-usage"
	KindExitNonZero                     Kind = "exit-non-zero"
	KindSignal                          Kind = "signal"
	KindSpawnError                      Kind = "spawn-error"
	KindStartCancelled                  Kind = "start-cancelled"
	KindKilled                          Kind = "killed"
	KindUnknownErrorThrown              Kind = "unknown-error-thrown"
	KindDependencyInvalid               Kind = "dependency-invalid"
	KindServiceExitedUnexpectedly       Kind = "service-exited-unexpectedly"
	KindDependencyServiceExitedUnexpect Kind = "dependency-service-exited-unexpectedly"
	KindAborted                         Kind = "aborted"
)

// Severity classifies a Diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Position is a source location within a manifest file, 1-indexed, matching
// the line/column convention of gopkg.in/yaml.v3's yaml.Node.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Diagnostic is a single analysis or execution finding.
type Diagnostic struct {
	Kind     Kind
	Severity Severity
	Message  string
	Primary  Position
	Related  []Position
}

func (d *Diagnostic) Error() string {
	if d == nil {
		return ""
	}
	if d.Primary.File != "" {
		return fmt.Sprintf("%s: %s: %s", d.Primary, d.Kind, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// New constructs an error-severity Diagnostic.
func New(kind Kind, pos Position, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Severity: SeverityError, Message: fmt.Sprintf(format, args...), Primary: pos}
}

// Warnf constructs a warning-severity Diagnostic.
func Warnf(kind Kind, pos Position, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...), Primary: pos}
}

// WithRelated attaches additional related source positions, e.g. both sides
// of a duplicate-dependency diagnostic.
func (d *Diagnostic) WithRelated(pos ...Position) *Diagnostic {
	d.Related = append(d.Related, pos...)
	return d
}

// List accumulates diagnostics across an analysis or execution pass.
//
// Diagnostics are accumulated rather than returned eagerly: the analyzer
// contract requires all errors across the whole graph, not just the first.
type List struct {
	items []*Diagnostic
}

func (l *List) Add(d *Diagnostic) {
	if d == nil {
		return
	}
	l.items = append(l.items, d)
}

func (l *List) Items() []*Diagnostic { return l.items }

func (l *List) HasErrors() bool {
	for _, d := range l.items {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err joins all error-severity diagnostics into a single error, or nil if
// there are none. Warnings/info never fail an otherwise-successful analysis.
func (l *List) Err() error {
	var errs []error
	for _, d := range l.items {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func (l *List) String() string {
	var b strings.Builder
	for i, d := range l.items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(d.Error())
	}
	return b.String()
}

// Invariant is raised for conditions that indicate an internal bug rather
// than user error: an unknown state transition, or differing fingerprints
// with no field reported different by difference(). These are always fatal.
type Invariant struct {
	Message string
}

func (e *Invariant) Error() string { return "invariant violation: " + e.Message }

func Invariantf(format string, args ...any) error {
	return &Invariant{Message: fmt.Sprintf(format, args...)}
}

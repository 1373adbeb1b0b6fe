package fingerprint

import (
	"fmt"
	"sort"
)

// Field identifies one participant in difference()'s fixed comparison
// order. The order itself (field declaration order in fieldOrder below) is
// what makes "why did this re-run" messages deterministic; a dedicated test
// asserts every Fingerprint field is represented here (the "fingerprint
// field-order exhaustiveness" design note in spec.md §9).
type Field string

const (
	FieldPlatform        Field = "platform"
	FieldArchitecture    Field = "architecture"
	FieldRuntimeVersion  Field = "runtimeVersion"
	FieldCommand         Field = "command"
	FieldExtraArgs       Field = "extraArgs"
	FieldClean           Field = "clean"
	FieldOutput          Field = "output"
	FieldServiceConfig   Field = "serviceConfig"
	FieldEnvironment     Field = "environment"
	FieldFilesAdded      Field = "files-added"
	FieldFilesRemoved    Field = "files-removed"
	FieldFilesChanged    Field = "files-changed"
	FieldDependencyAdded   Field = "dependency-added"
	FieldDependencyRemoved Field = "dependency-removed"
	FieldDependencyChanged Field = "dependency-changed"
)

// fieldOrder is the fixed comparison order difference() walks. Its length
// and contents are asserted exhaustive by TestFieldOrderExhaustive in
// difference_test.go.
var fieldOrder = []Field{
	FieldPlatform, FieldArchitecture, FieldRuntimeVersion,
	FieldCommand, FieldExtraArgs, FieldClean, FieldOutput, FieldServiceConfig,
	FieldEnvironment,
	FieldFilesAdded, FieldFilesRemoved, FieldFilesChanged,
	FieldDependencyAdded, FieldDependencyRemoved, FieldDependencyChanged,
}

// Difference is the first observed difference between two fingerprints.
type Difference struct {
	Field   Field
	Detail  string
}

// Difference returns the first field (in fixed order) that differs between
// f (the current fingerprint) and previous (the prior run's fingerprint),
// or nil if they are equal. A nil result with f.Canonical() !=
// previous.Canonical() is an invariant violation the caller should treat as
// fatal (spec.md §7: "differing fingerprints with no detected difference").
func (f Fingerprint) Difference(previous Fingerprint) *Difference {
	for _, field := range fieldOrder {
		if d := compareField(field, f, previous); d != nil {
			return d
		}
	}
	return nil
}

func compareField(field Field, cur, prev Fingerprint) *Difference {
	switch field {
	case FieldPlatform:
		return diffScalar(field, cur.Platform, prev.Platform)
	case FieldArchitecture:
		return diffScalar(field, cur.Architecture, prev.Architecture)
	case FieldRuntimeVersion:
		return diffScalar(field, cur.RuntimeVersion, prev.RuntimeVersion)
	case FieldCommand:
		return diffScalar(field, cur.Command, prev.Command)
	case FieldExtraArgs:
		return diffSlice(field, cur.ExtraArgs, prev.ExtraArgs)
	case FieldClean:
		return diffScalar(field, cur.Clean, prev.Clean)
	case FieldOutput:
		return diffSlice(field, cur.Output, prev.Output)
	case FieldServiceConfig:
		return diffScalar(field, cur.ServiceReadyWhen, prev.ServiceReadyWhen)
	case FieldEnvironment:
		return diffMap(field, cur.Env, prev.Env)
	case FieldFilesAdded:
		return diffMapKeyset(FieldFilesAdded, cur.Files, prev.Files, added)
	case FieldFilesRemoved:
		return diffMapKeyset(FieldFilesRemoved, cur.Files, prev.Files, removed)
	case FieldFilesChanged:
		return diffMapValueChange(FieldFilesChanged, cur.Files, prev.Files)
	case FieldDependencyAdded:
		return diffMapKeyset(FieldDependencyAdded, cur.Dependencies, prev.Dependencies, added)
	case FieldDependencyRemoved:
		return diffMapKeyset(FieldDependencyRemoved, cur.Dependencies, prev.Dependencies, removed)
	case FieldDependencyChanged:
		return diffMapValueChange(FieldDependencyChanged, cur.Dependencies, prev.Dependencies)
	default:
		return nil
	}
}

func diffScalar(field Field, cur, prev string) *Difference {
	if cur == prev {
		return nil
	}
	return &Difference{Field: field, Detail: fmt.Sprintf("%q -> %q", prev, cur)}
}

func diffSlice(field Field, cur, prev []string) *Difference {
	if sliceEqual(cur, prev) {
		return nil
	}
	return &Difference{Field: field, Detail: fmt.Sprintf("%v -> %v", prev, cur)}
}

func diffMap(field Field, cur, prev map[string]string) *Difference {
	if mapEqual(cur, prev) {
		return nil
	}
	return &Difference{Field: field, Detail: "environment changed"}
}

type keysetMode int

const (
	added keysetMode = iota
	removed
)

func diffMapKeyset(field Field, cur, prev map[string]string, mode keysetMode) *Difference {
	a, b := cur, prev
	if mode == removed {
		a, b = prev, cur
	}
	var missing []string
	for k := range a {
		if _, ok := b[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &Difference{Field: field, Detail: fmt.Sprintf("%v", missing)}
}

func diffMapValueChange(field Field, cur, prev map[string]string) *Difference {
	var changed []string
	for k, v := range cur {
		if pv, ok := prev[k]; ok && pv != v {
			changed = append(changed, k)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	sort.Strings(changed)
	return &Difference{Field: field, Detail: fmt.Sprintf("%v", changed)}
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// FieldOrder exposes the fixed comparison order for tests.
func FieldOrder() []Field {
	out := make([]Field, len(fieldOrder))
	copy(out, fieldOrder)
	return out
}

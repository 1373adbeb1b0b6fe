// Package tracelog is the supplemental execution trace described in
// SPEC_FULL.md §12: a deterministic, canonicalized, hashable record of one
// graph execution's actual per-script outcomes, which `wireit run --trace
// <path>` writes to the given path for "why did this rerun" debugging.
//
// Unlike a general-purpose event log, tracelog builds its trace directly
// from an executor.Result rather than from live events: every event kind
// here is executor.Outcome itself (plus a trace-only EventSkipped for
// scripts executor.Result.Skipped never started), every event's
// CauseScriptRef comes straight from executor.SkipInfo.Cause, and the
// canonical ordering keys off graph.Node.Depth() — the same dependency-first
// staging the executor schedules by — rather than an arbitrary kind
// priority.
package tracelog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"wireit/internal/executor"
	"wireit/internal/graph"
)

// ExecutionTrace is the canonical, deterministic record of a graph
// execution. It must never affect execution behavior — it is observational
// only — and must contain no timestamps, pointers, or other
// runtime-dependent values, so the same graph execution always produces
// byte-identical canonical bytes.
type ExecutionTrace struct {
	GraphHash string
	Events    []Event
}

// EventKind is the stable, canonical discriminator for Event. The four
// non-skipped values are exactly executor.Outcome's string values: a
// script's trace event kind IS its outcome, not a separate vocabulary that
// has to be kept in sync with one.
type EventKind string

const (
	EventFresh   EventKind = EventKind(executor.OutcomeFresh)
	EventCached  EventKind = EventKind(executor.OutcomeCached)
	EventRan     EventKind = EventKind(executor.OutcomeRan)
	EventFailed  EventKind = EventKind(executor.OutcomeFailed)
	EventSkipped EventKind = "skipped"
)

// Event is a single script's recorded outcome for one execution.
type Event struct {
	Kind EventKind

	// ScriptRef identifies the script this event refers to (a
	// manifest.Reference's String() form); required for every kind here,
	// since tracelog only ever records per-script decisions.
	ScriptRef string

	// Depth is the script's graph.Node.Depth() at analysis time: its
	// longest dependency-path distance from a dependency-free node. It is
	// the trace's primary ordering key, so the canonical event order
	// mirrors the order the executor actually schedules work in
	// (dependencies before dependents), not an unrelated fixed priority.
	Depth int

	// Reason is a stable, logical reason code: for EventSkipped, the
	// SkipInfo.Reason the executor recorded for never starting this
	// script.
	Reason string

	// CauseScriptRef is the dependency whose failure caused this script to
	// be skipped (executor.SkipInfo.Cause), empty when no single
	// dependency is at fault (e.g. a sibling failure under the active
	// FailureMode).
	CauseScriptRef string

	// Artifacts lists the script's declared output patterns
	// (manifest.Config.Output), recorded for EventRan and EventCached so
	// the trace shows what a cache hit or a real run was standing in for.
	Artifacts []string
}

// NewTrace builds an ExecutionTrace directly from one executor.Execute
// call's result: one event per script in result.Scripts, plus one
// EventSkipped per entry in result.Skipped for scripts that were never
// started at all.
func NewTrace(g *graph.Graph, graphHash string, result *executor.Result) ExecutionTrace {
	t := ExecutionTrace{GraphHash: graphHash}
	if result == nil {
		return t
	}

	for ref, sr := range result.Scripts {
		depth := 0
		if n, ok := g.Node(ref); ok {
			depth = n.Depth()
		}
		var artifacts []string
		if sr.Outcome == executor.OutcomeRan || sr.Outcome == executor.OutcomeCached {
			if n, ok := g.Node(ref); ok && len(n.Config.Output) > 0 {
				artifacts = append(artifacts, n.Config.Output...)
			}
		}
		t.Events = append(t.Events, Event{
			Kind:      EventKind(sr.Outcome),
			ScriptRef: ref.String(),
			Depth:     depth,
			Artifacts: artifacts,
		})
	}

	for ref, info := range result.Skipped {
		depth := 0
		if n, ok := g.Node(ref); ok {
			depth = n.Depth()
		}
		causeRef := ""
		if !info.Cause.IsZero() {
			causeRef = info.Cause.String()
		}
		t.Events = append(t.Events, Event{
			Kind:           EventSkipped,
			ScriptRef:      ref.String(),
			Depth:          depth,
			Reason:         info.Reason,
			CauseScriptRef: causeRef,
		})
	}

	t.Canonicalize()
	return t
}

// Validate checks basic invariants.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.ScriptRef == "" {
			return fmt.Errorf("events[%d].scriptRef is required for kind %q", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into its canonical form:
// artifacts copied, sorted, and normalized to nil when empty; events
// stably sorted by (depth, scriptRef, kindOrder, reason, causeScriptRef,
// artifactsLex) so ordering follows the graph's own dependency-first
// staging rather than execution timing or concurrency.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := make([]string, len(t.Events[i].Artifacts))
		copy(art, t.Events[i].Artifacts)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.ScriptRef != b.ScriptRef {
			return a.ScriptRef < b.ScriptRef
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.CauseScriptRef != b.CauseScriptRef {
			return a.CauseScriptRef < b.CauseScriptRef
		}
		return compareStringSlices(a.Artifacts, b.Artifacts)
	})
}

// kindOrder only breaks ties between events that share both depth and
// scriptRef, which in practice never happens (one script produces exactly
// one outcome per execution) but keeps Canonicalize total.
func kindOrder(k EventKind) int {
	switch k {
	case EventFresh:
		return 10
	case EventCached:
		return 20
	case EventRan:
		return 30
	case EventFailed:
		return 40
	case EventSkipped:
		return 50
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	la, lb := len(a), len(b)
	min := la
	if lb < min {
		min = lb
	}
	for i := 0; i < min; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return la < lb
}

// CanonicalJSON returns the canonical JSON encoding of the trace. It
// canonicalizes a copy to avoid mutating the caller's slices.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash}
	cp.Events = make([]Event, len(t.Events))
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the deterministic trace hash (sha256 hex) of the canonical
// JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order: graphHash first, then events in their
// current (caller-controlled) order.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"graphHash":`)
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)
	buf.WriteByte(',')

	buf.WriteString(`"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteByte(']')

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}

	var artifacts []string
	if len(e.Artifacts) > 0 {
		artifacts = make([]string, len(e.Artifacts))
		copy(artifacts, e.Artifacts)
		sort.Strings(artifacts)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	if e.ScriptRef != "" {
		buf.WriteByte(',')
		buf.WriteString(`"scriptRef":`)
		sb, _ := json.Marshal(e.ScriptRef)
		buf.Write(sb)
	}

	buf.WriteByte(',')
	buf.WriteString(`"depth":`)
	db, _ := json.Marshal(e.Depth)
	buf.Write(db)

	if e.Reason != "" {
		buf.WriteByte(',')
		buf.WriteString(`"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}

	if e.CauseScriptRef != "" {
		buf.WriteByte(',')
		buf.WriteString(`"causeScriptRef":`)
		cb, _ := json.Marshal(e.CauseScriptRef)
		buf.Write(cb)
	}

	if len(artifacts) > 0 {
		buf.WriteByte(',')
		buf.WriteString(`"artifacts":[`)
		for i := range artifacts {
			if i > 0 {
				buf.WriteByte(',')
			}
			ab, _ := json.Marshal(artifacts[i])
			buf.Write(ab)
		}
		buf.WriteByte(']')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

package watchtui

import (
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"wireit/internal/events"
)

// ScriptState tracks one script's most recently observed status, derived
// purely from the events.Hub stream (the TUI never calls back into the
// executor or cache).
type ScriptState struct {
	Ref        string
	Status     string // "fresh", "cached", "running", "succeeded", "failed", or a service-transition event's detail text
	Detail     string
	LastUpdate time.Time
}

func updateScriptState(scripts map[string]*ScriptState, e events.Event) {
	if e.Script == "" {
		return
	}
	s, ok := scripts[e.Script]
	if !ok {
		s = &ScriptState{Ref: e.Script}
		scripts[e.Script] = s
	}
	s.Detail = e.Detail
	s.LastUpdate = time.Now()

	switch e.Kind {
	case events.KindFresh:
		s.Status = "fresh"
	case events.KindCached:
		s.Status = "cached"
	case events.KindRunStarted:
		s.Status = "running"
	case events.KindRunSucceeded:
		s.Status = "succeeded"
	case events.KindRunFailed:
		s.Status = "failed"
	case events.KindServiceTransition:
		s.Status = e.Detail
	}
}

func sortedScriptRefs(scripts map[string]*ScriptState) []string {
	out := make([]string, 0, len(scripts))
	for ref := range scripts {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}

func statusStyle(status string, theme Theme) lipgloss.Style {
	switch status {
	case "fresh":
		return theme.StatusFresh
	case "cached":
		return theme.StatusCached
	case "running", "starting":
		return theme.StatusRunning
	case "failed", "crashed":
		return theme.StatusFailed
	case "skipped":
		return theme.StatusSkipped
	case "succeeded", "stopped":
		return theme.StatusDead
	default:
		return theme.Dim
	}
}

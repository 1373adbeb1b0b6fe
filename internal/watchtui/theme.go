// Package watchtui is the optional terminal dashboard for `wireit watch`
// (SPEC_FULL.md §11.4): a live view of per-script status, the watcher's
// state-machine phase, and a scrolling engine event stream.
//
// Grounded on mattjoyce-senechal-gw/internal/tui/watch/{model.go,theme.go,
// indicators.go,pipelines.go}: same bubbletea Model/Update/View shape, a
// lipgloss Theme struct centralizing styles, and a decaying activity
// spinner. That TUI subscribes to a remote engine over SSE HTTP
// (subscribeToEvents); wireit's watcher and TUI run in the same process,
// so this one subscribes directly to the in-memory events.Hub instead of
// speaking a wire protocol to itself.
package watchtui

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusFresh   lipgloss.Style
	StatusCached  lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusSkipped lipgloss.Style
	StatusDead    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusFresh:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusCached:  lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusSkipped: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		StatusDead:    lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

package watchtui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"wireit/internal/events"
	"wireit/internal/watch"
)

type tickMsg time.Time
type eventMsg events.Event
type hubClosedMsg struct{}

// Model is the bubbletea model for `wireit watch`'s dashboard.
type Model struct {
	hub     *events.Hub
	watcher *watch.Watcher

	width  int
	height int

	scripts  map[string]*ScriptState
	eventLog []events.Event

	scriptTable table.Model
	viewport    viewport.Model

	ticker  Ticker
	spinner Spinner
	theme   Theme

	hubEvents <-chan events.Event
	cancelSub func()

	lastState watch.State
	quitting  bool
}

// New creates a watch TUI model subscribed to hub, polling watcher's
// state-machine phase for the header line.
func New(hub *events.Hub, watcher *watch.Watcher) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Script", Width: 32},
			{Title: "Status", Width: 10},
			{Title: "Detail", Width: 30},
		}),
		table.WithFocused(false),
		table.WithHeight(8),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	styles.Selected = styles.Selected.Bold(false)
	t.SetStyles(styles)

	return &Model{
		hub:         hub,
		watcher:     watcher,
		scripts:     make(map[string]*ScriptState),
		scriptTable: t,
		viewport:    viewport.New(80, 10),
		ticker:      NewTicker(),
		theme:       NewDefaultTheme(),
	}
}

// Run blocks running the dashboard until the user quits (q/ctrl+c). The
// caller's watch.Watcher.Run goroutine and the event hub it publishes to
// are expected to already be running concurrently.
func Run(hub *events.Hub, watcher *watch.Watcher) error {
	p := tea.NewProgram(New(hub, watcher))
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	m.hubEvents, m.cancelSub = m.hub.Subscribe()
	return tea.Batch(
		receiveNextEvent(m.hubEvents),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return hubClosedMsg{}
		}
		return eventMsg(e)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.cancelSub != nil {
				m.cancelSub()
			}
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.scriptTable.SetWidth(m.width - 6)
		m.viewport.Width = m.width - 6
		m.viewport.Height = m.height / 3

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		if m.watcher != nil {
			m.lastState = m.watcher.State()
		}
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 200 {
			m.eventLog = m.eventLog[:200]
		}
		m.spinner.OnEvent()
		updateScriptState(m.scripts, e)
		m.refreshScriptTable()
		m.viewport.SetContent(m.renderEventLines())
		return m, receiveNextEvent(m.hubEvents)

	case hubClosedMsg:
		return m, nil
	}

	return m, nil
}

func (m *Model) refreshScriptTable() {
	refs := sortedScriptRefs(m.scripts)
	rows := make([]table.Row, 0, len(refs))
	for _, ref := range refs {
		s := m.scripts[ref]
		status := statusStyle(s.Status, m.theme).Render(s.Status)
		rows = append(rows, table.Row{ref, status, s.Detail})
	}
	m.scriptTable.SetRows(rows)
}

func (m *Model) renderEventLines() string {
	lines := make([]string, 0, len(m.eventLog))
	for _, e := range m.eventLog {
		lines = append(lines, fmt.Sprintf("%s #%-4d %-24s %s", m.theme.Dim.Render(""), e.ID, e.Kind, e.Script))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Initializing wireit watch..."
	}

	header := m.renderHeader()
	scripts := m.renderScripts()
	eventStream := m.renderEventStream()

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll events")

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, scripts, eventStream, help),
	)
}

func (m *Model) renderHeader() string {
	innerWidth := m.width - 4
	state := string(m.lastState)
	if state == "" {
		state = string(watch.StateInitial)
	}
	line := fmt.Sprintf(" %s wireit watch  %s  %s",
		m.ticker.Current(),
		m.theme.Header.Render(state),
		m.spinner.Render(m.theme),
	)
	return m.theme.Border.Width(innerWidth).Render(line)
}

func (m *Model) renderScripts() string {
	innerWidth := m.width - 4
	if len(m.scripts) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("SCRIPTS"),
			m.theme.Dim.Render("  No script activity yet..."),
		)
		return m.theme.Border.Width(innerWidth).Render(content)
	}
	content := lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("SCRIPTS"), m.scriptTable.View())
	return m.theme.Border.Width(innerWidth).Render(content)
}

func (m *Model) renderEventStream() string {
	innerWidth := m.width - 4
	content := lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("EVENTS"), m.viewport.View())
	return m.theme.Border.Width(innerWidth).Render(content)
}

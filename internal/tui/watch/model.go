// Package watch is the live session view behind `status --watch`: a
// bubbletea model that re-reads the state file whenever it changes.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/ralphloop/internal/state"
	"github.com/Iron-Ham/ralphloop/internal/tui/styles"
)

// RefreshInterval re-renders relative times and catches changes the file
// watcher missed.
const RefreshInterval = 2 * time.Second

// Loader reads the current sessions.
type Loader func(ctx context.Context) ([]state.Record, error)

// Stopper stops a session by name.
type Stopper func(ctx context.Context, name string) error

type (
	recordsMsg struct {
		records []state.Record
		err     error
	}
	changedMsg  struct{}
	tickMsg     time.Time
	stopDoneMsg struct {
		name string
		err  error
	}
)

// Model is the bubbletea model of the watch view.
type Model struct {
	ctx     context.Context
	load    Loader
	stop    Stopper
	changes <-chan struct{}
	now     func() time.Time

	records     []state.Record
	cursor      int
	filter      string
	err         error
	message     string
	lastRefresh time.Time
	width       int
	quitting    bool
}

// Option configures a Model.
type Option func(*Model)

// WithStopper enables the stop key.
func WithStopper(fn Stopper) Option {
	return func(m *Model) { m.stop = fn }
}

// WithChanges makes the model reload on every value from ch.
func WithChanges(ch <-chan struct{}) Option {
	return func(m *Model) { m.changes = ch }
}

// WithFilter shows only the named session.
func WithFilter(name string) Option {
	return func(m *Model) { m.filter = name }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// NewModel creates a Model.
func NewModel(ctx context.Context, load Loader, opts ...Option) Model {
	m := Model{ctx: ctx, load: load, now: time.Now}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.waitForChange(), tick())
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		records, err := m.load(m.ctx)
		return recordsMsg{records: records, err: err}
	}
}

func (m Model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case recordsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.records = m.visible(msg.records)
			m.lastRefresh = m.now()
			if m.cursor >= len(m.records) {
				m.cursor = max(len(m.records)-1, 0)
			}
		}
		return m, nil

	case changedMsg:
		return m, tea.Batch(m.refresh(), m.waitForChange())

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case stopDoneMsg:
		if msg.err != nil {
			m.message = styles.ErrorMsg.Render(fmt.Sprintf("stop %s: %v", msg.name, msg.err))
		} else {
			m.message = styles.SuccessMsg.Render("stopped " + msg.name)
		}
		return m, m.refresh()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.records)-1 {
			m.cursor++
		}
	case "r":
		m.message = ""
		return m, m.refresh()
	case "s":
		if m.stop == nil || len(m.records) == 0 {
			return m, nil
		}
		rec := m.records[m.cursor]
		if rec.Status != state.StatusRunning {
			m.message = styles.WarningMsg.Render(fmt.Sprintf("%s is %s", rec.Name, rec.Status))
			return m, nil
		}
		stop, ctx, name := m.stop, m.ctx, rec.Name
		return m, func() tea.Msg {
			return stopDoneMsg{name: name, err: stop(ctx, name)}
		}
	}
	return m, nil
}

func (m Model) visible(records []state.Record) []state.Record {
	if m.filter == "" {
		return records
	}
	var out []state.Record
	for _, rec := range records {
		if rec.Name == m.filter {
			out = append(out, rec)
		}
	}
	return out
}

// Records returns the sessions currently shown.
func (m Model) Records() []state.Record { return m.records }

// Cursor returns the selected row.
func (m Model) Cursor() int { return m.cursor }

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.Header.Render("ralphloop sessions"))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(styles.ErrorMsg.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	case len(m.records) == 0:
		b.WriteString(styles.Muted.Render("No sessions."))
		b.WriteString("\n")
	default:
		b.WriteString(RenderTable(m.records, m.now(), m.cursor))
		if rec := m.records[m.cursor]; rec.Error != "" {
			text := rec.Error
			if m.width > 0 {
				// border and padding of the content box
				text = Truncate(text, m.width-4)
			}
			b.WriteString(styles.ContentBox.Render(styles.Error.Render(text)))
			b.WriteString("\n")
		}
	}

	if m.message != "" {
		b.WriteString(m.message)
		b.WriteString("\n")
	}

	help := []string{
		styles.HelpKey.Render("↑/↓") + " select",
		styles.HelpKey.Render("r") + " refresh",
	}
	if m.stop != nil {
		help = append(help, styles.HelpKey.Render("s")+" stop")
	}
	help = append(help, styles.HelpKey.Render("q")+" quit")
	b.WriteString(styles.HelpBar.Render(strings.Join(help, "  ")))

	if !m.lastRefresh.IsZero() {
		b.WriteString("\n")
		b.WriteString(styles.Muted.Render("updated " + Ago(m.lastRefresh, m.now())))
	}
	return b.String()
}

// Run starts the watch view in the alternate screen.
func Run(m Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx)).Run()
	if err != nil && m.ctx.Err() != nil {
		return nil
	}
	return err
}

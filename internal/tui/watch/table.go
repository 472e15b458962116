package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/ralphloop/internal/state"
	"github.com/Iron-Ham/ralphloop/internal/tui/styles"
)

// Columns of the session table.
var Columns = []string{"NAME", "STATUS", "ITERATION", "TASKS LEFT", "PID", "BACKEND", "UPDATED"}

// Row returns the plain cell values for rec.
func Row(rec state.Record, now time.Time) []string {
	tasks := "?"
	if rec.LastTaskCount >= 0 {
		tasks = fmt.Sprintf("%d", rec.LastTaskCount)
	}
	pid := "-"
	if rec.PID > 0 {
		pid = fmt.Sprintf("%d", rec.PID)
	}
	backend := rec.Backend
	if backend == "" {
		backend = "-"
	}
	return []string{
		rec.Name,
		string(rec.Status),
		fmt.Sprintf("%d/%d", rec.Iteration, rec.MaxIterations),
		tasks,
		pid,
		backend,
		Ago(rec.UpdatedAt, now),
	}
}

// Ago formats the time since t in a compact form.
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// RenderTable renders records as a styled table. selected is the index of
// the highlighted row, or -1.
func RenderTable(records []state.Record, now time.Time, selected int) string {
	rows := make([][]string, len(records))
	for i, rec := range records {
		rows[i] = Row(rec, now)
	}

	widths := make([]int, len(Columns))
	for i, c := range Columns {
		widths[i] = lipgloss.Width(c)
	}
	for _, row := range rows {
		for i, cell := range row {
			// the status cell gains an icon and a space
			w := lipgloss.Width(cell)
			if i == 1 {
				w += 2
			}
			widths[i] = max(widths[i], w)
		}
	}

	var b strings.Builder
	for i, c := range Columns {
		b.WriteString(styles.TableHeader.Width(widths[i] + 2).Render(c))
	}
	b.WriteString("\n")

	for r, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			if i == 1 {
				cell = styles.RenderStatus(cell)
			}
			line.WriteString(styles.TableCell.Width(widths[i] + 2).Render(cell))
		}
		if r == selected {
			b.WriteString(styles.TableRowSelected.Render(line.String()))
		} else {
			b.WriteString(line.String())
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Truncate shortens s to maxWidth terminal columns, ending in "...".
// Escape sequences and wide characters are measured as displayed.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}

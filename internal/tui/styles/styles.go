// Package styles holds the lipgloss styles shared by the status table and
// the live watch view.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on both black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	SurfaceColor   = lipgloss.Color("#1F2937") // Dark surface
	TextColor      = lipgloss.Color("#F9FAFB") // Light text
	BorderColor    = lipgloss.Color("#6B7280") // Gray

	// Convenience styles for colors
	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)
	Text      = lipgloss.NewStyle().Foreground(TextColor)

	// Session status colors
	StatusRunning       = lipgloss.Color("#10B981") // Green
	StatusStale         = lipgloss.Color("#FB923C") // Orange
	StatusStopped       = lipgloss.Color("#60A5FA") // Blue
	StatusComplete      = lipgloss.Color("#A78BFA") // Purple
	StatusFailed        = lipgloss.Color("#F87171") // Red
	StatusMaxIterations = lipgloss.Color("#F59E0B") // Amber

	// Base styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	// Header
	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(BorderColor).
		MarginBottom(1).
		PaddingBottom(1)

	// Table
	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(MutedColor).
			PaddingRight(2)

	TableCell = lipgloss.NewStyle().
			Foreground(TextColor).
			PaddingRight(2)

	TableRowSelected = lipgloss.NewStyle().
				Bold(true).
				Background(SurfaceColor)

	// Detail panel
	ContentBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	// Help bar
	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(SecondaryColor)

	// Footer / status bar
	StatusBar = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(SurfaceColor).
			Padding(0, 1)

	// Error message
	ErrorMsg = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	// Success message
	SuccessMsg = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	// Warning message
	WarningMsg = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)
)

// StatusColor returns the color for a given session status
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "running":
		return StatusRunning
	case "stale":
		return StatusStale
	case "stopped":
		return StatusStopped
	case "complete":
		return StatusComplete
	case "failed":
		return StatusFailed
	case "max_iterations":
		return StatusMaxIterations
	default:
		return MutedColor
	}
}

// StatusIcon returns an icon for a given session status
func StatusIcon(status string) string {
	switch status {
	case "running":
		return "●"
	case "stale":
		return "⏱"
	case "stopped":
		return "⏸"
	case "complete":
		return "✓"
	case "failed":
		return "✗"
	case "max_iterations":
		return "⏰"
	default:
		return "○"
	}
}

// RenderStatus renders icon and status in the status color.
func RenderStatus(status string) string {
	return lipgloss.NewStyle().Foreground(StatusColor(status)).Render(StatusIcon(status) + " " + status)
}

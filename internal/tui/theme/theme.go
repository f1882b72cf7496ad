// Package theme holds the Lip Gloss palette and shared styles of the
// terminal view. It imports nothing from the rest of the tree.
package theme

import "github.com/charmbracelet/lipgloss"

// Session state colors.
var (
	ColorIdle        = lipgloss.Color("#6b7280")
	ColorAcquiring   = lipgloss.Color("#7c3aed")
	ColorLive        = lipgloss.Color("#16a34a")
	ColorStopping    = lipgloss.Color("#d97706")
	ColorUnavailable = lipgloss.Color("#dc2626")
	ColorDefault     = lipgloss.Color("#9ca3af")
)

// Alert action colors.
var (
	ColorMoved   = lipgloss.Color("#f59e0b")
	ColorRemoved = lipgloss.Color("#ef4444")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#2563eb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StateColor returns the color for a session state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "idle":
		return ColorIdle
	case "acquiring":
		return ColorAcquiring
	case "live":
		return ColorLive
	case "stopping":
		return ColorStopping
	case "unavailable":
		return ColorUnavailable
	default:
		return ColorDefault
	}
}

// StateGlyph returns a glyph for a session state name.
func StateGlyph(state string) string {
	switch state {
	case "idle":
		return "○"
	case "acquiring":
		return "◎"
	case "live":
		return "●"
	case "stopping":
		return "◌"
	case "unavailable":
		return "✗"
	default:
		return "·"
	}
}

func ActionColor(action string) lipgloss.Color {
	switch action {
	case "removed":
		return ColorRemoved
	case "moved":
		return ColorMoved
	default:
		return ColorDefault
	}
}

// Reusable styles.
var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleBanner = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright).
			Background(ColorDanger).
			Padding(0, 1)
)

// Panel is the bordered box every section is drawn in.
func Panel(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)
}

// Package status renders the session status bar.
package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/stashwatch/stashwatch/internal/diag"
	"github.com/stashwatch/stashwatch/internal/session"
	"github.com/stashwatch/stashwatch/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Source    string
	Session   session.Snapshot
	Process   *diag.ProcessStats
	// Spinner is drawn in front of the state while acquiring.
	Spinner string
	Width   int
}

func New() Model {
	return Model{}
}

// View renders the status bar.
func (m Model) View() string {
	width := max(m.Width, 40)
	s := m.Session
	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● " + m.Source)
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	state := s.State.String()
	glyph := theme.StateGlyph(state)
	if s.State == session.Acquiring && m.Spinner != "" {
		glyph = m.Spinner
	}
	stateStr := lipgloss.NewStyle().Bold(true).Foreground(theme.StateColor(state)).Render(glyph + " " + state)

	line := connStr + sep + stateStr
	if s.Contact != "" {
		line += sep + s.Contact
	}
	if s.ID != "" {
		line += sep + fmt.Sprintf("%d sent  %d alerts  up %s", s.FramesSent, s.AlertCount, formatUptime(s.Uptime()))
	}

	lines := []string{line}
	if s.ID != "" {
		lines = append(lines, theme.StyleDimmed.Render(statsLine(s)))
	}
	if m.Process != nil {
		lines = append(lines, theme.StyleDimmed.Render(processLine(*m.Process)))
	}

	return theme.Panel(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func statsLine(s session.Snapshot) string {
	st := s.Stats
	out := fmt.Sprintf("skipped %d  not-ready %d  encode-fail %d  upload-fail %d  polls %d (%d failed)",
		st.FramesSkipped, st.NotReadyTicks, st.EncodeFailures, st.UploadFailures, st.Polls, st.PollFailures)
	if s.Device.Width > 0 {
		out += fmt.Sprintf("  camera %dx%d", s.Device.Width, s.Device.Height)
	}
	if st.Recoveries > 0 {
		out += fmt.Sprintf("  feed recoveries %d", st.Recoveries)
	}
	if s.LastFrameSentAt != nil {
		out += "  last frame " + s.LastFrameSentAt.Local().Format("15:04:05")
	}
	return out
}

func processLine(p diag.ProcessStats) string {
	return fmt.Sprintf("pid %d  cpu %.1f%%  rss %.1f MiB  threads %d  goroutines %d",
		p.PID, p.CPUPercent, float64(p.RSSBytes)/(1<<20), p.Threads, p.Goroutines)
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}

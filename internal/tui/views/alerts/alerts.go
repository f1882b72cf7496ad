// Package alerts renders the most recent alerts of the session.
package alerts

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/stashwatch/stashwatch/internal/alert"
	"github.com/stashwatch/stashwatch/internal/tui/theme"
)

// Shown is how many alerts the panel lists.
const Shown = 5

type Model struct {
	Alerts []alert.Alert // most recent first
	Total  int
	Width  int
}

func New() Model {
	return Model{}
}

// Set replaces the list, keeping at most Shown entries.
func (m *Model) Set(recent []alert.Alert, total int) {
	if len(recent) > Shown {
		recent = recent[:Shown]
	}
	m.Alerts = recent
	m.Total = total
}

func (m Model) View() string {
	width := max(m.Width, 40)
	title := theme.StyleHeader.Render("RECENT ALERTS")
	if m.Total > len(m.Alerts) {
		title += theme.StyleDimmed.Render(fmt.Sprintf("  (%d of %d)", len(m.Alerts), m.Total))
	}

	lines := []string{title}
	if len(m.Alerts) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  Nothing has moved."))
	}
	for _, a := range m.Alerts {
		ts := theme.StyleDimmed.Render(a.ObservedAt.Local().Format("15:04:05"))
		subject := lipgloss.NewStyle().Bold(true).Width(12).Render(a.Subject)
		action := lipgloss.NewStyle().Foreground(theme.ActionColor(a.Action)).Render(a.Action)
		line := fmt.Sprintf("  %s  %s %s", ts, subject, action)
		plain := alert.Alert{Subject: a.Subject, Action: a.Action}
		if a.Message != "" && a.Message != plain.Text() {
			line += theme.StyleDimmed.Render("  " + a.Message)
		}
		lines = append(lines, line)
	}
	return theme.Panel(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

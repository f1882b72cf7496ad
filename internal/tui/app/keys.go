package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Start  key.Binding
	Stop   key.Binding
	Quit   key.Binding
	Debug  key.Binding
	Escape key.Binding
	Up     key.Binding
	Down   key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Start: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start"),
		),
		Stop: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "stop"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Debug: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "event log"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "dismiss"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "scroll down"),
		),
	}
}

// footer lists the bindings that apply, in display order.
func (k KeyMap) footer(control, debugOpen bool) []key.Binding {
	if debugOpen {
		return []key.Binding{k.Up, k.Down, k.Debug, k.Quit}
	}
	if !control {
		return []key.Binding{k.Debug, k.Escape, k.Quit}
	}
	return []key.Binding{k.Start, k.Stop, k.Debug, k.Escape, k.Quit}
}

// Package app is the root Bubble Tea model of the terminal view.
package app

import (
	"context"
	"errors"
	"fmt"

	keyhelp "github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stashwatch/stashwatch/internal/session"
	"github.com/stashwatch/stashwatch/internal/tui/theme"
	"github.com/stashwatch/stashwatch/internal/tui/views/alerts"
	"github.com/stashwatch/stashwatch/internal/tui/views/debug"
	"github.com/stashwatch/stashwatch/internal/tui/views/help"
	"github.com/stashwatch/stashwatch/internal/tui/views/status"
	"github.com/stashwatch/stashwatch/internal/watch"
)

// Controller starts and stops the session. It is nil when the view only
// observes a session running elsewhere.
type Controller interface {
	Start(ctx context.Context, contact string) error
	Stop(ctx context.Context) error
}

type startDoneMsg struct{ err error }

type stopDoneMsg struct{ err error }

type Options struct {
	Contact string
	// HelpStyle is the glamour style of the help panel.
	HelpStyle string
	// AutoStart begins a session as soon as the stream connects.
	AutoStart bool
}

// Model is the root Bubble Tea model.
type Model struct {
	stream watch.Stream
	ctrl   Controller
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	keys    KeyMap
	keyHelp keyhelp.Model
	width   int
	height  int

	snap      session.Snapshot
	connected bool
	started   bool
	busy      bool
	banner    string
	debugOpen bool

	statusBar status.Model
	alerts    alerts.Model
	debug     debug.Model
	help      help.Model
	spinner   spinner.Model
}

// New creates the root model. ctrl may be nil.
func New(stream watch.Stream, ctrl Controller, opts Options) Model {
	if opts.HelpStyle == "" {
		opts.HelpStyle = "dark"
	}
	ctx, cancel := context.WithCancel(context.Background())
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorAcquiring)

	return Model{
		stream:    stream,
		ctrl:      ctrl,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		keyHelp:   keyhelp.New(),
		statusBar: status.New(),
		alerts:    alerts.New(),
		debug:     debug.New(),
		help:      help.New(opts.HelpStyle),
		spinner:   sp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.stream.Connect(m.ctx), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.alerts.Width = msg.Width
		m.keyHelp.Width = msg.Width
		m.help.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.statusBar.Spinner = m.spinner.View()
		return m, cmd

	case watch.ConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.statusBar.Source = msg.Source
		m.debug.Add(debug.KindConn, "connected to "+msg.Source)
		read := m.stream.Read(m.ctx)
		if m.opts.AutoStart && !m.started && m.ctrl != nil {
			m.started = true
			m.busy = true
			return m, tea.Batch(read, m.startCmd())
		}
		return m, read

	case watch.DisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		m.debug.Add(debug.KindConn, fmt.Sprintf("disconnected: %v", msg.Err))
		if errors.Is(msg.Err, watch.ErrStreamClosed) {
			// The in-process machine is gone; nothing will reconnect it.
			return m, tea.Quit
		}
		return m, m.stream.Connect(m.ctx)

	case watch.SnapshotMsg:
		m.applySnapshot(msg)
		return m, m.stream.Read(m.ctx)

	case watch.AlertsMsg:
		for i := len(msg.Payload.Alerts) - 1; i >= 0; i-- {
			m.debug.Add(debug.KindAlert, msg.Payload.Alerts[i].Text())
		}
		return m, m.stream.Read(m.ctx)

	case startDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.banner = "start failed: " + msg.err.Error()
		}
		return m, nil

	case stopDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.banner = "stop failed: " + msg.err.Error()
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) applySnapshot(msg watch.SnapshotMsg) {
	prev := m.snap
	s := msg.Payload.Session
	m.snap = s
	m.statusBar.Session = s
	m.statusBar.Process = msg.Payload.Process
	m.alerts.Set(s.Recent, s.AlertCount)

	if s.State != prev.State {
		m.debug.Add(debug.KindState, fmt.Sprintf("%s -> %s", prev.State, s.State))
	}
	if e := s.LastError; e != nil && (prev.LastError == nil || !e.At.Equal(prev.LastError.At)) {
		m.debug.Add(debug.KindError, e.Error())
		m.banner = e.Error()
	}
	if s.ID != "" && s.ID != prev.ID {
		m.debug.Add(debug.KindState, "session "+s.ID)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, m.quitCmd()
	}

	if m.debugOpen {
		switch {
		case key.Matches(msg, m.keys.Debug), key.Matches(msg, m.keys.Escape):
			m.debugOpen = false
		case key.Matches(msg, m.keys.Up):
			m.debug.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.debug.ScrollDown(1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Debug):
		m.debugOpen = true
		return m, nil

	case key.Matches(msg, m.keys.Escape):
		m.banner = ""
		return m, nil

	case key.Matches(msg, m.keys.Start):
		if m.ctrl == nil {
			m.debug.Add(debug.KindKey, "start ignored: read-only view")
			return m, nil
		}
		if m.busy || (m.snap.State != session.Idle && m.snap.State != session.Unavailable) {
			return m, nil
		}
		m.busy = true
		m.banner = ""
		m.started = true
		m.debug.Add(debug.KindKey, "start "+m.opts.Contact)
		return m, m.startCmd()

	case key.Matches(msg, m.keys.Stop):
		if m.ctrl == nil {
			m.debug.Add(debug.KindKey, "stop ignored: read-only view")
			return m, nil
		}
		if m.snap.State != session.Live && m.snap.State != session.Acquiring {
			return m, nil
		}
		m.busy = true
		m.debug.Add(debug.KindKey, "stop")
		return m, m.stopCmd()
	}
	return m, nil
}

func (m Model) startCmd() tea.Cmd {
	ctrl, ctx, contact := m.ctrl, m.ctx, m.opts.Contact
	return func() tea.Msg {
		return startDoneMsg{err: ctrl.Start(ctx, contact)}
	}
}

func (m Model) stopCmd() tea.Cmd {
	ctrl, ctx := m.ctrl, m.ctx
	return func() tea.Msg {
		return stopDoneMsg{err: ctrl.Stop(ctx)}
	}
}

// quitCmd stops a running session before quitting; leaving the view is an
// implicit stop.
func (m Model) quitCmd() tea.Cmd {
	ctrl, cancel := m.ctrl, m.cancel
	return func() tea.Msg {
		if ctrl != nil {
			ctrl.Stop(context.Background())
		}
		cancel()
		return tea.Quit()
	}
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.debugOpen {
		return lipgloss.JoinVertical(lipgloss.Left,
			m.debug.View(m.width, m.height-1),
			m.footer())
	}

	sections := []string{m.statusBar.View()}
	if m.banner != "" {
		sections = append(sections, theme.StyleBanner.Render("! "+m.banner)+theme.StyleDimmed.Render("  esc:dismiss"))
	}
	if m.snap.State == session.Unavailable {
		sections = append(sections, m.help.Unavailable(m.snap.LastError))
	}
	if !m.connected && m.ctrl == nil {
		sections = append(sections, theme.StyleDimmed.Render("  DISCONNECTED  Reconnecting to the status server..."))
	}
	sections = append(sections, m.alerts.View(), m.footer())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) footer() string {
	return "  " + m.keyHelp.ShortHelpView(m.keys.footer(m.ctrl != nil, m.debugOpen))
}

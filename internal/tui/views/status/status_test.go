package status

import (
	"strings"
	"testing"
	"time"

	"github.com/stashwatch/stashwatch/internal/diag"
	"github.com/stashwatch/stashwatch/internal/session"
)

func TestViewDisconnected(t *testing.T) {
	m := New()
	m.Width = 100
	v := m.View()
	if !strings.Contains(v, "Connecting") {
		t.Error("disconnected bar should say Connecting")
	}
	if !strings.Contains(v, "idle") {
		t.Error("bar should show the idle state")
	}
}

func TestViewLiveSession(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := New()
	m.Width = 160
	m.Connected = true
	m.Source = "local"
	m.Session = session.Snapshot{
		State:      session.Live,
		ID:         "abc",
		Contact:    "+15551234567",
		StartedAt:  &started,
		UpdatedAt:  started.Add(90 * time.Second),
		FramesSent: 12,
		AlertCount: 2,
		Stats:      session.Stats{Polls: 4, PollFailures: 1},
	}
	m.Process = &diag.ProcessStats{PID: 42, Goroutines: 9}

	v := m.View()
	for _, want := range []string{"local", "live", "+15551234567", "12 sent", "2 alerts", "1m30s", "polls 4 (1 failed)", "pid 42"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestSpinnerOnlyWhileAcquiring(t *testing.T) {
	m := New()
	m.Width = 100
	m.Spinner = "@@"
	m.Session.State = session.Acquiring
	if !strings.Contains(m.View(), "@@ acquiring") {
		t.Error("spinner should replace the glyph while acquiring")
	}
	m.Session.State = session.Idle
	if strings.Contains(m.View(), "@@") {
		t.Error("spinner shown outside acquiring")
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1500 * time.Millisecond, "1s"},
		{-time.Second, "0s"},
		{time.Hour + 2*time.Second, "1h0m2s"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.in); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

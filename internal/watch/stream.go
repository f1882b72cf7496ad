// Package watch delivers session snapshots to the terminal view as Bubble
// Tea messages, either straight from an in-process machine or from a
// status server's websocket.
package watch

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/stashwatch/stashwatch/internal/diag"
	"github.com/stashwatch/stashwatch/internal/session"
	"github.com/stashwatch/stashwatch/internal/status"
)

// ErrStreamClosed is reported when the local machine stops publishing.
var ErrStreamClosed = errors.New("snapshot stream closed")

// --- Bubble Tea messages ---

// ConnectedMsg is sent once a stream is delivering snapshots.
type ConnectedMsg struct{ Source string }

// DisconnectedMsg is sent when the stream drops.
type DisconnectedMsg struct{ Err error }

// SnapshotMsg delivers the full session state.
type SnapshotMsg struct{ Payload status.SnapshotPayload }

// AlertsMsg delivers alerts that arrived since the previous message.
type AlertsMsg struct{ Payload status.AlertsPayload }

// Stream is what the terminal view reads from. Connect is issued first and
// after every DisconnectedMsg; Read after every ConnectedMsg, SnapshotMsg
// or AlertsMsg.
type Stream interface {
	Connect(ctx context.Context) tea.Cmd
	Read(ctx context.Context) tea.Cmd
}

// Subscriber is the publish side of a session machine.
type Subscriber interface {
	Subscribe(buf int) (<-chan session.Snapshot, func())
}

const sampleEvery = time.Second

// LocalStream reads an in-process machine. Process figures are refreshed at
// most once per second.
type LocalStream struct {
	sub     Subscriber
	sampler *diag.Sampler

	ch     <-chan session.Snapshot
	cancel func()
}

// NewLocalStream returns a stream over sub. sampler may be nil.
func NewLocalStream(sub Subscriber, sampler *diag.Sampler) *LocalStream {
	return &LocalStream{sub: sub, sampler: sampler}
}

func (l *LocalStream) Connect(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		if l.cancel != nil {
			l.cancel()
		}
		l.ch, l.cancel = l.sub.Subscribe(16)
		return ConnectedMsg{Source: "local"}
	}
}

func (l *LocalStream) Read(ctx context.Context) tea.Cmd {
	ch := l.ch
	return func() tea.Msg {
		if ch == nil {
			return DisconnectedMsg{Err: ErrStreamClosed}
		}
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-ch:
			if !ok {
				return DisconnectedMsg{Err: ErrStreamClosed}
			}
			return SnapshotMsg{Payload: l.payload(s)}
		}
	}
}

// Close releases the subscription.
func (l *LocalStream) Close() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *LocalStream) payload(s session.Snapshot) status.SnapshotPayload {
	p := status.SnapshotPayload{Session: s}
	if l.sampler == nil {
		return p
	}
	st := l.sampler.Last()
	if time.Since(st.SampledAt) >= sampleEvery {
		if fresh, err := l.sampler.Sample(); err == nil {
			st = fresh
		}
	}
	if !st.SampledAt.IsZero() {
		p.Process = &st
	}
	return p
}

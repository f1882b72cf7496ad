// Package alert holds the append-only, de-duplicated log of server-observed
// events for one monitoring session.
package alert

import (
	"fmt"
	"time"

	"github.com/stashwatch/stashwatch/internal/api"
)

type Alert struct {
	Subject    string    `json:"subject"`
	Action     string    `json:"action"`
	Message    string    `json:"message,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

// FromNotification converts the backend's wire shape.
func FromNotification(n api.Notification) Alert {
	return Alert{
		Subject:    n.Object,
		Action:     n.Action,
		Message:    n.Message,
		ObservedAt: n.Time(),
	}
}

// Text is the one-line form used by logs and the terminal view.
func (a Alert) Text() string {
	if a.Message != "" {
		return a.Message
	}
	return fmt.Sprintf("%s was %s", a.Subject, a.Action)
}

type key struct {
	subject string
	action  string
	at      int64
}

func (a Alert) key() key {
	return key{a.Subject, a.Action, a.ObservedAt.UnixNano()}
}

// Log is not safe for concurrent use; the session's event loop owns it.
type Log struct {
	entries []Alert
	seen    map[key]struct{}
}

func NewLog() *Log {
	return &Log{seen: make(map[key]struct{})}
}

// Merge appends alerts not already present and returns just those, in input
// order. Merging the same batch twice adds nothing the second time.
func (l *Log) Merge(in []Alert) []Alert {
	var added []Alert
	for _, a := range in {
		k := a.key()
		if _, ok := l.seen[k]; ok {
			continue
		}
		l.seen[k] = struct{}{}
		l.entries = append(l.entries, a)
		added = append(added, a)
	}
	return added
}

func (l *Log) Len() int { return len(l.entries) }

// All returns a copy of the log in arrival order.
func (l *Log) All() []Alert {
	out := make([]Alert, len(l.entries))
	copy(out, l.entries)
	return out
}

// Recent returns up to n alerts, most recent first.
func (l *Log) Recent(n int) []Alert {
	if n <= 0 || len(l.entries) == 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Alert, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

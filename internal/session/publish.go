package session

import (
	"time"

	"github.com/stashwatch/stashwatch/internal/alert"
)

// publish rebuilds the observable snapshot from loop-owned state and fans it
// out to subscribers. Slow subscribers miss snapshots rather than stalling
// the loop; drops are logged at most once per 10 seconds.
func (m *Machine) publish() {
	s := Snapshot{
		State:     m.state,
		LastError: m.lastErr,
		UpdatedAt: m.now(),
	}
	if m.sess != nil {
		s.ID = m.sess.ID
		s.Contact = m.sess.Contact
		s.StartedAt = timePtr(m.sess.StartedAt)
		s.FramesSent = m.sess.FramesSent
		s.LastFrameSentAt = timePtr(m.sess.LastFrameSentAt)
		s.AlertCount = m.sess.Alerts.Len()
		s.Recent = m.sess.Alerts.Recent(m.opts.Recent)
		s.Stats = m.sess.Stats
	}
	s.RecoveryPending = m.recoveryC != nil
	if m.lastErr != nil {
		e := *m.lastErr
		s.LastError = &e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		s.Device = m.handle.Stats()
	}
	m.seq++
	s.Seq = m.seq
	m.snap = s
	for ch := range m.subs {
		select {
		case ch <- s:
		default:
			m.dropped++
		}
	}
	if m.dropped > 0 {
		if now := time.Now(); now.Sub(m.lastDropLog) >= 10*time.Second {
			m.logger.Warn().Int64("dropped", m.dropped).Msg("snapshot subscribers falling behind")
			m.dropped = 0
			m.lastDropLog = now
		}
	}
}

// Snapshot returns the latest published state. Device figures are read live
// from the camera handle.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snap
	if m.handle != nil {
		s.Device = m.handle.Stats()
	}
	return s
}

// Alerts returns up to limit alerts of the current session, most recent
// first. limit <= 0 returns all of them.
func (m *Machine) Alerts(limit int) []alert.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]alert.Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out
}

// Subscribe returns a channel of snapshots and a cancel func. The channel is
// closed by cancel or when Run returns.
func (m *Machine) Subscribe(buf int) (<-chan Snapshot, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Snapshot, buf)
	m.mu.Lock()
	if m.subsClosed {
		close(ch)
		m.mu.Unlock()
		return ch, func() {}
	}
	m.subs[ch] = struct{}{}
	// Prime with the current state so the subscriber renders immediately.
	ch <- m.snap
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
}

func (m *Machine) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		close(ch)
	}
	m.subs = make(map[chan Snapshot]struct{})
	m.subsClosed = true
}

package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stashwatch/stashwatch/internal/alert"
	"github.com/stashwatch/stashwatch/internal/diag"
	"github.com/stashwatch/stashwatch/internal/session"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

var errTooManyClients = errors.New("too many status clients")

// Source is the read side of the session machine.
type Source interface {
	Snapshot() session.Snapshot
	Alerts(limit int) []alert.Alert
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster pushes session snapshots to websocket clients. Updates are
// coalesced: at most one snapshot per throttle window, always the latest.
// A full snapshot with fresh process figures goes out every snapshot
// interval regardless of activity.
type Broadcaster struct {
	src              Source
	sampler          *diag.Sampler
	throttle         time.Duration
	snapshotInterval time.Duration
	maxConns         int
	seq              atomic.Uint64

	mu      sync.RWMutex
	clients map[*client]bool

	flushMu    sync.Mutex
	pending    *session.Snapshot
	newAlerts  []alert.Alert
	flushTimer *time.Timer
	sessionID  string
	alertCount int
}

// NewBroadcaster returns a broadcaster reading from src. maxConns <= 0
// means no connection limit.
func NewBroadcaster(src Source, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	return &Broadcaster{
		src:              src,
		throttle:         throttle,
		snapshotInterval: snapshotInterval,
		maxConns:         maxConns,
		clients:          make(map[*client]bool),
	}
}

// SetSampler attaches process figures to snapshot messages. Must be called
// before Run.
func (b *Broadcaster) SetSampler(s *diag.Sampler) {
	b.sampler = s
}

// Run forwards updates until ctx is done or updates is closed, then
// disconnects every client.
func (b *Broadcaster) Run(ctx context.Context, updates <-chan session.Snapshot) {
	var tick <-chan time.Time
	if b.snapshotInterval > 0 {
		t := time.NewTicker(b.snapshotInterval)
		defer t.Stop()
		tick = t.C
	}
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			b.Queue(s)
		case <-tick:
			b.sample()
			b.broadcast(MsgSnapshot, b.snapshotPayload(b.src.Snapshot()))
		}
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{conn: conn, b: b, send: make(chan []byte, sendBuffer)}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, errTooManyClients
	}
	b.clients[c] = true
	b.mu.Unlock()

	if data, err := b.encode(MsgSnapshot, b.snapshotPayload(b.src.Snapshot())); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}
	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[c] {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Queue records s as the latest state and schedules a flush. Alerts that
// arrived since the previous snapshot are pushed in their own message; when
// more arrive in one window than the snapshot's recent list holds, only the
// listed ones are pushed.
func (b *Broadcaster) Queue(s session.Snapshot) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if s.ID != b.sessionID {
		b.sessionID = s.ID
		b.alertCount = 0
		b.newAlerts = nil
	}
	if n := s.AlertCount - b.alertCount; n > 0 {
		n = min(n, len(s.Recent))
		fresh := make([]alert.Alert, 0, n+len(b.newAlerts))
		fresh = append(fresh, s.Recent[:n]...)
		b.newAlerts = append(fresh, b.newAlerts...)
		b.alertCount = s.AlertCount
	}
	b.pending = &s

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	pending := b.pending
	fresh := b.newAlerts
	sessionID := b.sessionID
	b.pending = nil
	b.newAlerts = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(fresh) > 0 {
		b.broadcast(MsgAlerts, AlertsPayload{SessionID: sessionID, Alerts: fresh})
	}
	if pending != nil {
		b.broadcast(MsgSnapshot, b.snapshotPayload(*pending))
	}
}

func (b *Broadcaster) sample() {
	if b.sampler == nil {
		return
	}
	if _, err := b.sampler.Sample(); err != nil {
		log.Debug().Err(err).Msg("process sample failed")
	}
}

func (b *Broadcaster) snapshotPayload(s session.Snapshot) SnapshotPayload {
	p := SnapshotPayload{Session: s}
	if b.sampler != nil {
		st := b.sampler.Last()
		if !st.SampledAt.IsZero() {
			p.Process = &st
		}
	}
	return p
}

func (b *Broadcaster) encode(t MessageType, payload any) ([]byte, error) {
	data, err := json.Marshal(Message{Type: t, Seq: b.seq.Add(1), Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("status message marshal failed")
	}
	return data, err
}

func (b *Broadcaster) broadcast(t MessageType, payload any) {
	data, err := b.encode(t, payload)
	if err != nil {
		return
	}

	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("status client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) closeAll() {
	b.flushMu.Lock()
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	b.flushMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}

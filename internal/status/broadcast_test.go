package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stashwatch/stashwatch/internal/session"
)

// dialTestWS creates a test HTTP server that upgrades to WebSocket and returns
// the server-side connection.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	clientConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	_ = clientConn.Close()

	select {
	case serverConn := <-connCh:
		return srv, serverConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

// startStatus serves the full status handler and dials its websocket.
func startStatus(t *testing.T, b *Broadcaster, src Source) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewServer(src, b, nil, "").Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+PathWS, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func decodeSnapshot(t *testing.T, env Envelope) SnapshotPayload {
	t.Helper()
	if env.Type != MsgSnapshot {
		t.Fatalf("message type = %q, want %q", env.Type, MsgSnapshot)
	}
	var p SnapshotPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return p
}

func TestSnapshotOnConnect(t *testing.T) {
	src := &fakeSource{snap: session.Snapshot{State: session.Live, ID: "s1", FramesSent: 3}}
	b := NewBroadcaster(src, time.Hour, 0, 0)
	conn := startStatus(t, b, src)

	p := decodeSnapshot(t, readEnvelope(t, conn))
	if p.Session.ID != "s1" || p.Session.State != session.Live || p.Session.FramesSent != 3 {
		t.Errorf("session = %+v", p.Session)
	}
	if p.Process != nil {
		t.Errorf("process = %+v, want nil without a sampler", p.Process)
	}
}

func TestQueueCoalescesWithinThrottle(t *testing.T) {
	src := &fakeSource{}
	b := NewBroadcaster(src, 50*time.Millisecond, 0, 0)
	conn := startStatus(t, b, src)
	readEnvelope(t, conn)

	for i := 1; i <= 3; i++ {
		b.Queue(session.Snapshot{State: session.Live, ID: "s1", FramesSent: i})
	}

	env := readEnvelope(t, conn)
	p := decodeSnapshot(t, env)
	if p.Session.FramesSent != 3 {
		t.Errorf("FramesSent = %d, want the latest (3)", p.Session.FramesSent)
	}

	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected one coalesced message per throttle window")
	}
}

func TestQueuePushesNewAlerts(t *testing.T) {
	src := &fakeSource{}
	b := NewBroadcaster(src, 100*time.Millisecond, 0, 0)
	conn := startStatus(t, b, src)
	readEnvelope(t, conn)

	recent := testAlerts(3)
	b.Queue(session.Snapshot{ID: "s1", AlertCount: 1, Recent: recent[2:]})
	b.Queue(session.Snapshot{ID: "s1", AlertCount: 3, Recent: recent})

	env := readEnvelope(t, conn)
	if env.Type != MsgAlerts {
		t.Fatalf("first message type = %q, want %q", env.Type, MsgAlerts)
	}
	var p AlertsPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if p.SessionID != "s1" || len(p.Alerts) != 3 {
		t.Fatalf("alerts payload = %+v", p)
	}
	for i, a := range p.Alerts {
		if a.Subject != recent[i].Subject {
			t.Errorf("alert[%d] = %s, want %s", i, a.Subject, recent[i].Subject)
		}
	}
	if next := readEnvelope(t, conn); next.Type != MsgSnapshot || next.Seq <= env.Seq {
		t.Errorf("follow-up = %s seq %d, want snapshot after seq %d", next.Type, next.Seq, env.Seq)
	}
}

func TestQueueResetsAlertCountPerSession(t *testing.T) {
	b := NewBroadcaster(&fakeSource{}, time.Hour, 0, 0)
	recent := testAlerts(2)

	b.Queue(session.Snapshot{ID: "s1", AlertCount: 2, Recent: recent})
	b.Queue(session.Snapshot{ID: "s2", AlertCount: 1, Recent: recent[:1]})

	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	b.flushTimer.Stop()
	if len(b.newAlerts) != 1 || b.sessionID != "s2" || b.alertCount != 1 {
		t.Errorf("pending alerts = %d, session = %q, count = %d", len(b.newAlerts), b.sessionID, b.alertCount)
	}
}

func TestRunForwardsUpdates(t *testing.T) {
	src := &fakeSource{}
	b := NewBroadcaster(src, time.Millisecond, 0, 0)
	conn := startStatus(t, b, src)
	readEnvelope(t, conn)

	updates := make(chan session.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, updates)
		close(done)
	}()

	updates <- session.Snapshot{State: session.Acquiring}
	if p := decodeSnapshot(t, readEnvelope(t, conn)); p.Session.State != session.Acquiring {
		t.Errorf("state = %v, want acquiring", p.Session.State)
	}

	cancel()
	<-done
	if n := b.ClientCount(); n != 0 {
		t.Errorf("ClientCount after Run = %d, want 0", n)
	}
}

func TestPeriodicSnapshot(t *testing.T) {
	src := &fakeSource{snap: session.Snapshot{State: session.Idle}}
	b := NewBroadcaster(src, time.Hour, 20*time.Millisecond, 0)
	conn := startStatus(t, b, src)
	first := readEnvelope(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, make(chan session.Snapshot))

	env := readEnvelope(t, conn)
	decodeSnapshot(t, env)
	if env.Seq <= first.Seq {
		t.Errorf("seq = %d, want > %d", env.Seq, first.Seq)
	}
}

func TestAddClientMaxConnections(t *testing.T) {
	b := NewBroadcaster(&fakeSource{}, time.Hour, 0, 1)
	b.mu.Lock()
	b.clients[&client{}] = true
	b.mu.Unlock()

	srv, conn := dialTestWS(t)
	defer srv.Close()
	defer conn.Close()
	if _, err := b.AddClient(conn); err != errTooManyClients {
		t.Fatalf("AddClient error = %v, want errTooManyClients", err)
	}
	if got := b.ClientCount(); got != 1 {
		t.Errorf("ClientCount = %d, want 1", got)
	}
}

func TestWritePumpRemovesClientOnWriteError(t *testing.T) {
	srv, serverConn := dialTestWS(t)
	defer srv.Close()

	b := NewBroadcaster(&fakeSource{}, time.Hour, 0, 0)
	c := &client{conn: serverConn, b: b, send: make(chan []byte, sendBuffer)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	serverConn.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after write error; ClientCount = %d", b.ClientCount())
}

package mock

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stashwatch/stashwatch/internal/api"
	"github.com/stashwatch/stashwatch/internal/device"
	"github.com/stashwatch/stashwatch/internal/mjpeg"
	"github.com/stashwatch/stashwatch/internal/session"
)

func newTestBackend(t *testing.T, opts Options) (*Backend, *api.Client) {
	t.Helper()
	b := New(opts)
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return b, api.NewClient(srv.URL, 2*time.Second)
}

func testFrame(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, device.Pattern(64, 48, 0), nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func wantStatus(t *testing.T, err error, code int) {
	t.Helper()
	var se *api.StatusError
	if !errors.As(err, &se) || se.Code != code {
		t.Fatalf("error = %v, want status %d", err, code)
	}
}

func TestStartRequiresPhone(t *testing.T) {
	b, c := newTestBackend(t, DefaultOptions())
	_, err := c.StartMonitoring(context.Background(), "")
	wantStatus(t, err, http.StatusBadRequest)
	if b.Monitoring() {
		t.Error("monitoring after rejected start")
	}
}

func TestProcessFrameRejectedWhenNotMonitoring(t *testing.T) {
	_, c := newTestBackend(t, DefaultOptions())
	_, err := c.ProcessFrame(context.Background(), testFrame(t), "image/jpeg", "+15551234567")
	wantStatus(t, err, http.StatusBadRequest)
	if !api.IsClientError(err) {
		t.Error("IsClientError = false")
	}
}

func TestProcessFrameRejectsInvalidImage(t *testing.T) {
	_, c := newTestBackend(t, DefaultOptions())
	ctx := context.Background()
	if _, err := c.StartMonitoring(ctx, "+15551234567"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := c.ProcessFrame(ctx, []byte("not a jpeg"), "image/jpeg", "+15551234567")
	wantStatus(t, err, http.StatusBadRequest)
}

func TestSyntheticMovements(t *testing.T) {
	b, c := newTestBackend(t, Options{AlertEvery: 2, MaxAlerts: 3})
	ctx := context.Background()
	if _, err := c.StartMonitoring(ctx, "+15551234567"); err != nil {
		t.Fatalf("start: %v", err)
	}

	frame := testFrame(t)
	var detected []api.Movement
	for i := 0; i < 10; i++ {
		resp, err := c.ProcessFrame(ctx, frame, "image/jpeg", "+15551234567")
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		detected = append(detected, resp.MovementsDetected...)
	}
	if b.Frames() != 10 {
		t.Errorf("Frames = %d, want 10", b.Frames())
	}
	if len(detected) != 5 {
		t.Fatalf("movements = %d, want 5", len(detected))
	}
	for i, m := range detected {
		if m.Object != watchedObjects[i] || m.Action != "moved" {
			t.Errorf("movement %d = %+v", i, m)
		}
	}

	notes, err := c.CheckNotifications(ctx)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("notifications = %d, want capped at 3", len(notes))
	}
	if notes[0].Object != watchedObjects[2] || notes[2].Object != watchedObjects[4] {
		t.Errorf("kept %s..%s, want the newest three", notes[0].Object, notes[2].Object)
	}

	again, err := c.CheckNotifications(ctx)
	if err != nil || len(again) != 3 {
		t.Errorf("second poll = %d, %v; want the full history again", len(again), err)
	}
}

func TestActionsAlternateAfterEveryObject(t *testing.T) {
	b := New(Options{})
	for i := 0; i < len(watchedObjects); i++ {
		if m := b.nextMovement(); m.Action != "moved" {
			t.Fatalf("movement %d action = %s", i, m.Action)
		}
	}
	if m := b.nextMovement(); m.Object != watchedObjects[0] || m.Action != "removed" {
		t.Errorf("movement after a full cycle = %+v", m)
	}
}

func TestStatusAndStop(t *testing.T) {
	_, c := newTestBackend(t, DefaultOptions())
	ctx := context.Background()

	st, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.IsMonitoring || st.StudentPhone != nil {
		t.Errorf("idle status = %+v", st)
	}

	if _, err := c.StartMonitoring(ctx, "+15551234567"); err != nil {
		t.Fatalf("start: %v", err)
	}
	st, err = c.GetStatus(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.IsMonitoring || st.StudentPhone == nil || *st.StudentPhone != "+15551234567" {
		t.Errorf("live status = %+v", st)
	}

	if err := c.StopMonitoring(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	_, err = c.ProcessFrame(ctx, testFrame(t), "image/jpeg", "+15551234567")
	wantStatus(t, err, http.StatusBadRequest)
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(DefaultOptions()).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, api.PathStart, nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Errorf("GET start = %d, Allow %q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestVideoFeedStreamsJPEG(t *testing.T) {
	_, c := newTestBackend(t, Options{FeedInterval: 10 * time.Millisecond, FeedWidth: 80, FeedHeight: 60})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, contentType, err := c.OpenVideoFeed(ctx, time.Now())
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer body.Close()

	r := mjpeg.NewReader(body, contentType)
	for i := 0; i < 3; i++ {
		frame, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame))
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if cfg.Width != 80 || cfg.Height != 60 {
			t.Errorf("frame %d is %dx%d", i, cfg.Width, cfg.Height)
		}
	}
}

// The machine, pattern camera, API client and mock backend together: frames
// flow, movements come back as alerts, stop reaches the backend.
func TestSessionAgainstMockBackend(t *testing.T) {
	b, c := newTestBackend(t, Options{AlertEvery: 2})
	m := session.New(c, device.PatternSource{}, nil, session.Options{
		Constraints:     device.Constraints{Width: 64, Height: 48, FrameRate: 50},
		CaptureInterval: 20 * time.Millisecond,
		PollInterval:    30 * time.Millisecond,
		Register:        true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := m.Start(ctx, "+15551234567"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !b.Monitoring() {
		t.Fatal("backend not told about the session")
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.Snapshot().AlertCount < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no alerts; snapshot = %+v", m.Snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}

	if sent := m.Snapshot().FramesSent; sent < 2 {
		t.Errorf("FramesSent = %d, want at least 2", sent)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s := m.Snapshot().State; s != session.Idle {
		t.Errorf("state = %v, want idle", s)
	}
	if b.Monitoring() {
		t.Error("backend still monitoring after stop")
	}
	alerts := m.Alerts(0)
	if len(alerts) < 2 || alerts[len(alerts)-1].Subject != watchedObjects[0] {
		t.Errorf("alerts = %+v", alerts)
	}
}

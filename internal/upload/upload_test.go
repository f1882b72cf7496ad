package upload

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stashwatch/stashwatch/internal/api"
	"github.com/stashwatch/stashwatch/internal/encoder"
)

type fakeSender struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	phone   atomic.Value
}

func (f *fakeSender) ProcessFrame(ctx context.Context, frame []byte, mimeType, phone string) (*api.ProcessFrameResponse, error) {
	f.calls.Add(1)
	f.phone.Store(phone)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &api.ProcessFrameResponse{MovementsDetected: []api.Movement{{Object: "laptop", Action: "moved"}}}, nil
}

func frame(seq uint64) encoder.Frame {
	return encoder.Frame{ID: "f", Seq: seq, Bytes: []byte{0xFF, 0xD8, 0xFF, 0xD9}, MIMEType: encoder.MIMEType}
}

func recv(t *testing.T, p *Pipeline) Result {
	t.Helper()
	select {
	case r := <-p.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no upload result")
		return Result{}
	}
}

func TestSendSuccess(t *testing.T) {
	s := &fakeSender{}
	p := New(s, time.Second)

	if !p.Send(context.Background(), frame(1), "+1555") {
		t.Fatal("Send() refused on an idle pipeline")
	}
	r := recv(t, p)
	if r.Err != nil {
		t.Fatalf("result error: %v", r.Err)
	}
	if r.Seq != 1 || len(r.Movements) != 1 {
		t.Errorf("result = %+v", r)
	}
	if got := s.phone.Load(); got != "+1555" {
		t.Errorf("phone = %v", got)
	}
}

func TestSendSkipsWhileInFlight(t *testing.T) {
	s := &fakeSender{release: make(chan struct{})}
	p := New(s, time.Second)

	if !p.Send(context.Background(), frame(1), "c") {
		t.Fatal("first Send() refused")
	}
	if p.Send(context.Background(), frame(2), "c") {
		t.Error("second Send() accepted while the first is in flight")
	}
	if !p.InFlight() {
		t.Error("InFlight() = false during upload")
	}

	close(s.release)
	recv(t, p)
	if p.InFlight() {
		t.Error("InFlight() = true after result")
	}
	if !p.Send(context.Background(), frame(3), "c") {
		t.Error("Send() refused after previous upload finished")
	}
	recv(t, p)
	if n := s.calls.Load(); n != 2 {
		t.Errorf("sender called %d times, want 2", n)
	}
}

func TestSendFailureWraps(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStopped bool
	}{
		{"network", errors.New("connection refused"), false},
		{"server error", &api.StatusError{Code: http.StatusInternalServerError}, false},
		{"monitoring inactive", &api.StatusError{Code: http.StatusBadRequest}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(&fakeSender{err: tt.err}, time.Second)
			p.Send(context.Background(), frame(1), "c")
			r := recv(t, p)
			if !errors.Is(r.Err, ErrUploadFailure) {
				t.Errorf("error = %v, want ErrUploadFailure", r.Err)
			}
			if got := errors.Is(r.Err, ErrServerStopped); got != tt.wantStopped {
				t.Errorf("ErrServerStopped = %v, want %v", got, tt.wantStopped)
			}
		})
	}
}

func TestSendTimeout(t *testing.T) {
	p := New(&fakeSender{release: make(chan struct{})}, 20*time.Millisecond)
	p.Send(context.Background(), frame(1), "c")
	r := recv(t, p)
	if !errors.Is(r.Err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", r.Err)
	}
}

func TestResultDroppedAfterCancel(t *testing.T) {
	s := &fakeSender{release: make(chan struct{})}
	p := New(s, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	p.Send(ctx, frame(1), "c")
	// Fill the buffered slot so the cancelled upload has nowhere to go but
	// the ctx.Done branch.
	p.results <- Result{Seq: 99}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for p.InFlight() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.InFlight() {
		t.Fatal("cancelled upload never finished")
	}
	if r := recv(t, p); r.Seq != 99 {
		t.Errorf("got result seq %d, want only the placeholder", r.Seq)
	}
	select {
	case r := <-p.Results():
		t.Errorf("unexpected result after cancel: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

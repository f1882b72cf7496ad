// Package feed pulls the backend's server-pushed video feed. It is the
// session's presentation layer: load failures are reported to the session,
// which decides when to Refresh.
package feed

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stashwatch/stashwatch/internal/mjpeg"
)

var errFeedEnded = errors.New("video feed ended")

type Opener interface {
	OpenVideoFeed(ctx context.Context, bust time.Time) (io.ReadCloser, string, error)
}

type Stats struct {
	Connected   bool      `json:"connected"`
	Opens       int       `json:"opens"`
	Frames      uint64    `json:"frames"`
	LastFrameAt time.Time `json:"lastFrameAt,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// Viewer keeps the most recent feed frame. Each Open or Refresh starts one
// pull; a pull reports at most one error.
type Viewer struct {
	opener     Opener
	startDelay time.Duration
	now        func() time.Time

	mu        sync.Mutex
	onError   func(error)
	onHealthy func()
	cancel    context.CancelFunc
	done      chan struct{}
	latest    []byte
	stats     Stats
}

// NewViewer returns a viewer that waits startDelay after Open before the
// first request, giving the backend time to bring its camera feed up.
func NewViewer(o Opener, startDelay time.Duration) *Viewer {
	return &Viewer{opener: o, startDelay: startDelay, now: time.Now}
}

func (v *Viewer) OnError(fn func(error)) {
	v.mu.Lock()
	v.onError = fn
	v.mu.Unlock()
}

// OnHealthy is called when a pull delivers its first frame.
func (v *Viewer) OnHealthy(fn func()) {
	v.mu.Lock()
	v.onHealthy = fn
	v.mu.Unlock()
}

func (v *Viewer) Open(ctx context.Context) error {
	v.stopPull()
	v.start(ctx, v.startDelay)
	return nil
}

// Refresh drops the current pull and re-requests the feed immediately with a
// fresh cache-buster.
func (v *Viewer) Refresh(ctx context.Context) error {
	v.stopPull()
	v.start(ctx, 0)
	return nil
}

// Close stops the pull and waits for it to exit.
func (v *Viewer) Close() {
	v.stopPull()
}

func (v *Viewer) Latest() ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest, v.latest != nil
}

func (v *Viewer) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

func (v *Viewer) start(parent context.Context, delay time.Duration) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	v.mu.Lock()
	v.cancel, v.done = cancel, done
	v.mu.Unlock()
	go v.pull(ctx, delay, done)
}

func (v *Viewer) stopPull() {
	v.mu.Lock()
	cancel, done := v.cancel, v.done
	v.cancel, v.done = nil, nil
	v.stats.Connected = false
	v.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (v *Viewer) pull(ctx context.Context, delay time.Duration, done chan struct{}) {
	defer close(done)
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	body, contentType, err := v.opener.OpenVideoFeed(ctx, v.now())
	if err != nil {
		v.fail(ctx, err)
		return
	}
	defer body.Close()
	// Unblock a read in progress when the pull is cancelled.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	v.mu.Lock()
	v.stats.Opens++
	v.stats.Connected = ctx.Err() == nil
	v.stats.LastError = ""
	v.mu.Unlock()
	log.Debug().Str("content_type", contentType).Msg("video feed connected")

	r := mjpeg.NewReader(body, contentType)
	first := true
	for {
		frame, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errFeedEnded
			}
			v.fail(ctx, err)
			return
		}
		v.mu.Lock()
		v.latest = frame
		v.stats.Frames++
		v.stats.LastFrameAt = v.now()
		healthy := v.onHealthy
		v.mu.Unlock()
		if first {
			first = false
			if healthy != nil {
				healthy()
			}
		}
	}
}

func (v *Viewer) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	v.mu.Lock()
	v.stats.Connected = false
	v.stats.LastError = err.Error()
	fn := v.onError
	v.mu.Unlock()

	log.Warn().Err(err).Msg("video feed failed")
	if fn != nil {
		fn(err)
	}
}

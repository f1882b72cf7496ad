// Package upload sends encoded frames to the backend without blocking the
// capture loop.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stashwatch/stashwatch/internal/api"
	"github.com/stashwatch/stashwatch/internal/encoder"
)

var (
	ErrUploadFailure = errors.New("frame upload failed")
	// ErrServerStopped marks a 400-class answer: the backend believes
	// monitoring already stopped.
	ErrServerStopped = errors.New("backend reports monitoring inactive")
)

// Sender is the slice of the API client the pipeline needs.
type Sender interface {
	ProcessFrame(ctx context.Context, frame []byte, mimeType, phone string) (*api.ProcessFrameResponse, error)
}

type Result struct {
	FrameID   string
	Seq       uint64
	Movements []api.Movement
	Err       error
	SentAt    time.Time
	Elapsed   time.Duration
}

// Pipeline runs at most one upload at a time. A new Send while one is in
// flight is refused rather than queued.
type Pipeline struct {
	sender   Sender
	timeout  time.Duration
	inflight atomic.Bool
	results  chan Result
	now      func() time.Time
}

func New(sender Sender, timeout time.Duration) *Pipeline {
	return &Pipeline{
		sender:  sender,
		timeout: timeout,
		results: make(chan Result, 1),
		now:     time.Now,
	}
}

// Results delivers one Result per accepted Send.
func (p *Pipeline) Results() <-chan Result { return p.results }

func (p *Pipeline) InFlight() bool { return p.inflight.Load() }

// Send starts uploading frame in the background and returns true, or returns
// false without sending when the previous upload has not finished. When ctx
// ends before the result is collected, the result is dropped.
func (p *Pipeline) Send(ctx context.Context, frame encoder.Frame, contact string) bool {
	if !p.inflight.CompareAndSwap(false, true) {
		return false
	}
	go p.run(ctx, frame, contact)
	return true
}

func (p *Pipeline) run(ctx context.Context, frame encoder.Frame, contact string) {
	start := p.now()
	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	resp, err := p.sender.ProcessFrame(sendCtx, frame.Bytes, frame.MIMEType, contact)
	cancel()

	r := Result{FrameID: frame.ID, Seq: frame.Seq, SentAt: start, Elapsed: p.now().Sub(start)}
	switch {
	case err != nil && api.IsClientError(err):
		r.Err = fmt.Errorf("%w (%w): %w", ErrUploadFailure, ErrServerStopped, err)
	case err != nil:
		r.Err = fmt.Errorf("%w: %w", ErrUploadFailure, err)
	case resp != nil:
		r.Movements = resp.MovementsDetected
	}
	if r.Err != nil && ctx.Err() == nil {
		log.Debug().Err(r.Err).Uint64("seq", frame.Seq).Msg("upload failed")
	}

	p.inflight.Store(false)
	select {
	case p.results <- r:
	case <-ctx.Done():
	}
}

package session

import (
	"time"

	"github.com/stashwatch/stashwatch/internal/poller"
)

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) ticker { return timeTicker{time.NewTicker(d)} }

func timeAfter(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

type event interface{}

type startCmd struct {
	contact string
	reply   chan error
}

type stopCmd struct {
	reply chan error
}

type acquiredEv struct {
	gen uint64
	err error
}

type tickOutcome int

const (
	tickNotReady tickOutcome = iota
	tickEncodeFailed
	tickSkipped
	tickDispatched
)

type tickEv struct {
	gen     uint64
	outcome tickOutcome
	seq     uint64
	err     error
}

type pollEv struct {
	gen uint64
	res poller.Result
}

type fatalEv struct {
	gen uint64
	err error
}

type stoppedEv struct {
	gen uint64
	err error
}

type streamErrEv struct{ err error }

type streamOKEv struct{}

// captureLoop runs one capture tick per timer fire: readiness check, encode,
// hand off to the upload pipeline. A not-ready camera makes the tick a no-op.
func (m *Machine) captureLoop(r *run) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.capture.C():
			if !m.postRun(r, m.captureTick(r)) {
				return
			}
		}
	}
}

func (m *Machine) captureTick(r *run) tickEv {
	ev := tickEv{gen: r.gen}
	if !r.handle.IsReady() {
		ev.outcome = tickNotReady
		return ev
	}
	frame, err := r.encoder.Encode(r.handle)
	if err != nil {
		ev.outcome, ev.err = tickEncodeFailed, err
		return ev
	}
	ev.seq = frame.Seq
	if !r.pipeline.Send(r.ctx, frame, r.contact) {
		ev.outcome = tickSkipped
		return ev
	}
	ev.outcome = tickDispatched
	return ev
}

func (m *Machine) pollLoop(r *run) {
	defer r.wg.Done()
	m.poller.Run(r.ctx, r.poll.C(), func(res poller.Result) bool {
		return m.postRun(r, pollEv{gen: r.gen, res: res})
	})
}

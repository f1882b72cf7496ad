// Package session runs the monitoring session lifecycle: acquire the camera,
// drive the capture/upload and notification loops while live, absorb their
// failures, and release everything deterministically on stop.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stashwatch/stashwatch/internal/alert"
	"github.com/stashwatch/stashwatch/internal/api"
	"github.com/stashwatch/stashwatch/internal/config"
	"github.com/stashwatch/stashwatch/internal/device"
	"github.com/stashwatch/stashwatch/internal/encoder"
	"github.com/stashwatch/stashwatch/internal/poller"
	"github.com/stashwatch/stashwatch/internal/upload"
)

// Backend is the slice of the API client the machine drives.
type Backend interface {
	upload.Sender
	poller.Fetcher
	StartMonitoring(ctx context.Context, phone string) (*api.StartResponse, error)
	StopMonitoring(ctx context.Context) error
}

// Presenter is the optional presentation layer (the server-pushed video
// feed). Its load failures come back through ReportStreamError.
type Presenter interface {
	Open(ctx context.Context) error
	Refresh(ctx context.Context) error
	Close()
}

type Options struct {
	Constraints     device.Constraints
	CaptureInterval time.Duration
	PollInterval    time.Duration
	UploadTimeout   time.Duration
	RequestTimeout  time.Duration
	AcquireTimeout  time.Duration
	StopTimeout     time.Duration
	RecoveryBackoff time.Duration
	// MaxRecoveries bounds consecutive presenter refreshes; 0 means no bound.
	MaxRecoveries int
	Quality       int
	// Register posts the contact to the backend before touching the camera.
	Register bool
	Recent   int
}

func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Constraints:     device.ConstraintsFrom(cfg.Capture),
		CaptureInterval: cfg.Capture.Interval,
		PollInterval:    cfg.Notifications.PollInterval,
		UploadTimeout:   cfg.Upload.Timeout,
		RequestTimeout:  cfg.Backend.Timeout,
		AcquireTimeout:  cfg.Capture.AcquireTimeout,
		StopTimeout:     5 * time.Second,
		RecoveryBackoff: cfg.Feed.RecoveryBackoff,
		MaxRecoveries:   cfg.Feed.MaxRecoveries,
		Quality:         cfg.Capture.Quality,
		Register:        cfg.Backend.Register,
		Recent:          cfg.Notifications.Recent,
	}
}

func (o *Options) applyDefaults() {
	if o.CaptureInterval <= 0 {
		o.CaptureInterval = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = 10 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 15 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.RecoveryBackoff <= 0 {
		o.RecoveryBackoff = 2 * time.Second
	}
	if o.Recent <= 0 {
		o.Recent = 5
	}
}

// run holds the resources of one live regime. Everything in it is released
// by teardown.
type run struct {
	gen      uint64
	contact  string
	ctx      context.Context
	cancel   context.CancelFunc
	handle   *device.Handle
	encoder  *encoder.Encoder
	pipeline *upload.Pipeline
	capture  ticker
	poll     ticker
	wg       sync.WaitGroup
}

// Machine is the session orchestrator. All session state is owned by the
// goroutine executing Run; the exported methods talk to it over a channel.
type Machine struct {
	opts      Options
	backend   Backend
	source    device.Source
	presenter Presenter
	poller    *poller.Poller

	events  chan event
	done    chan struct{}
	running atomic.Bool

	newTicker func(time.Duration) ticker
	after     func(time.Duration) (<-chan time.Time, func() bool)
	now       func() time.Time

	// Owned by the Run goroutine.
	state             State
	gen               uint64
	sess              *Session
	cur               *run
	lastErr           *Error
	logger            zerolog.Logger
	pendingStart      chan error
	stopWaiters       []chan error
	presenting        bool
	recoveryC         <-chan time.Time
	recoveryStop      func() bool
	recoveryAttempts  int
	recoveryExhausted bool

	mu          sync.RWMutex
	snap        Snapshot
	handle      *device.Handle
	alerts      []alert.Alert
	subs        map[chan Snapshot]struct{}
	subsClosed  bool
	seq         uint64
	dropped     int64
	lastDropLog time.Time
}

// New creates a machine. presenter may be nil.
func New(backend Backend, source device.Source, presenter Presenter, opts Options) *Machine {
	opts.applyDefaults()
	return &Machine{
		opts:      opts,
		backend:   backend,
		source:    source,
		presenter: presenter,
		poller:    poller.New(backend, opts.RequestTimeout),
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		newTicker: newTimeTicker,
		after:     timeAfter,
		now:       time.Now,
		logger:    log.Logger,
		subs:      make(map[chan Snapshot]struct{}),
	}
}

// Run processes events until ctx is cancelled. Cancellation is an implicit
// stop: a live or acquiring session is torn down before Run returns.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("session: Run called twice")
	}
	defer close(m.done)
	m.publish()

	for {
		var uploads <-chan upload.Result
		if m.cur != nil && m.state == Live {
			uploads = m.cur.pipeline.Results()
		}
		select {
		case <-ctx.Done():
			m.shutdown()
			m.publish()
			m.closeSubscribers()
			return nil
		case ev := <-m.events:
			m.dispatch(ev)
		case r := <-uploads:
			m.handleUpload(r)
		case <-m.recoveryC:
			m.fireRecovery()
		}
		m.publish()
	}
}

// Start begins a session for contact and blocks until it is Live, failed, or
// was stopped. It is valid from Idle or Unavailable.
func (m *Machine) Start(ctx context.Context, contact string) error {
	reply := make(chan error, 1)
	if err := m.send(ctx, startCmd{contact: contact, reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// Stop tears the session down and blocks until the machine is Idle. It is a
// no-op outside Acquiring and Live and safe to call concurrently with Start.
// A failed backend stop notification does not fail Stop; it is recorded as
// the session's last error.
func (m *Machine) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	err := m.send(ctx, stopCmd{reply: reply})
	if err == nil {
		err = m.await(ctx, reply)
	}
	if errors.Is(err, ErrClosed) {
		// Run already tore the session down.
		return nil
	}
	return err
}

// ReportStreamError tells the machine the presenter failed to load. It never
// blocks; reports that cannot be queued are dropped, which the recovery
// policy coalesces anyway.
func (m *Machine) ReportStreamError(err error) {
	select {
	case m.events <- streamErrEv{err: err}:
	default:
	}
}

// ReportStreamHealthy resets the consecutive recovery count.
func (m *Machine) ReportStreamHealthy() {
	select {
	case m.events <- streamOKEv{}:
	default:
	}
}

func (m *Machine) send(ctx context.Context, ev event) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Machine) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// post delivers an event from a background goroutine. It gives up once Run
// has returned.
func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// postRun is post for goroutines scoped to r; it also gives up when r is
// torn down.
func (m *Machine) postRun(r *run, ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-r.ctx.Done():
		return false
	case <-m.done:
		return false
	}
}

func (m *Machine) dispatch(ev event) {
	switch e := ev.(type) {
	case startCmd:
		m.handleStart(e)
	case stopCmd:
		m.handleStop(e)
	case acquiredEv:
		m.handleAcquired(e)
	case tickEv:
		m.handleTick(e)
	case pollEv:
		m.handlePoll(e)
	case fatalEv:
		m.handleFatal(e)
	case stoppedEv:
		m.handleStopped(e)
	case streamErrEv:
		m.handleStreamError(e.err)
	case streamOKEv:
		m.recoveryAttempts = 0
		m.recoveryExhausted = false
	}
}

func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Info().Str("from", m.state.String()).Str("to", s.String()).Msg("session state")
	m.state = s
}

func (m *Machine) recordError(err error, transient bool) {
	e := newError(err, transient, m.now())
	m.lastErr = e
	if m.sess != nil {
		m.sess.LastError = e
	}
}

func (m *Machine) replyStart(err error) {
	if m.pendingStart != nil {
		m.pendingStart <- err
		m.pendingStart = nil
	}
}

func (m *Machine) handleStart(c startCmd) {
	if m.state != Idle && m.state != Unavailable {
		c.reply <- fmt.Errorf("%w: start while %s", ErrInvalidState, m.state)
		return
	}
	contact := strings.TrimSpace(c.contact)
	if contact == "" {
		c.reply <- ErrNoContact
		return
	}

	m.gen++
	m.lastErr = nil
	m.recoveryAttempts = 0
	m.recoveryExhausted = false
	m.sess = &Session{
		ID:        uuid.NewString(),
		Contact:   contact,
		StartedAt: m.now(),
		Alerts:    alert.NewLog(),
	}
	m.logger = log.With().Str("session", m.sess.ID).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		gen:      m.gen,
		contact:  contact,
		ctx:      ctx,
		cancel:   cancel,
		handle:   device.NewHandle(m.source),
		encoder:  encoder.New(m.opts.Quality),
		pipeline: upload.New(m.backend, m.opts.UploadTimeout),
	}
	gen := r.gen
	// The pump calls back while Release may be waiting for it, so hand the
	// event off instead of posting inline.
	r.handle.OnFatal(func(err error) { go m.post(fatalEv{gen: gen, err: err}) })
	m.cur = r
	m.mu.Lock()
	m.handle = r.handle
	m.alerts = nil
	m.mu.Unlock()

	m.pendingStart = c.reply
	m.setState(Acquiring)
	go m.acquire(r)
}

func (m *Machine) acquire(r *run) {
	if m.opts.Register {
		ctx, cancel := context.WithTimeout(r.ctx, m.opts.RequestTimeout)
		resp, err := m.backend.StartMonitoring(ctx, r.contact)
		cancel()
		switch {
		case err != nil:
			m.post(acquiredEv{gen: r.gen, err: fmt.Errorf("%w: %w", ErrStartRejected, err)})
			return
		case resp == nil || !resp.Success:
			reason := "no reason given"
			if resp != nil && resp.Message != "" {
				reason = resp.Message
			}
			m.post(acquiredEv{gen: r.gen, err: fmt.Errorf("%w: %s", ErrStartRejected, reason)})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.ctx, m.opts.AcquireTimeout)
	defer cancel()
	err := r.handle.Acquire(ctx, m.opts.Constraints)
	m.post(acquiredEv{gen: r.gen, err: err})
}

func (m *Machine) handleAcquired(e acquiredEv) {
	if e.gen != m.gen || m.state != Acquiring {
		return
	}
	r := m.cur
	if e.err != nil {
		r.cancel()
		r.handle.Release()
		m.dropRun()
		if errors.Is(e.err, ErrStartRejected) {
			m.logger.Warn().Err(e.err).Msg("start rejected")
			m.recordError(e.err, false)
			m.sess = nil
			m.setState(Idle)
		} else {
			m.logger.Error().Err(e.err).Msg("camera acquisition failed")
			m.recordError(e.err, false)
			m.setState(Unavailable)
			if m.opts.Register {
				m.notifyStop(m.gen)
			}
		}
		m.replyStart(e.err)
		return
	}

	r.capture = m.newTicker(m.opts.CaptureInterval)
	r.poll = m.newTicker(m.opts.PollInterval)
	r.wg.Add(2)
	go m.captureLoop(r)
	go m.pollLoop(r)
	m.setState(Live)

	if m.presenter != nil {
		m.presenting = true
		if err := m.presenter.Open(r.ctx); err != nil {
			m.handleStreamError(err)
		}
	}
	m.logger.Info().
		Str("contact", m.sess.Contact).
		Dur("capture_interval", m.opts.CaptureInterval).
		Dur("poll_interval", m.opts.PollInterval).
		Msg("monitoring live")
	m.replyStart(nil)
}

func (m *Machine) handleTick(e tickEv) {
	if e.gen != m.gen || m.state != Live {
		return
	}
	st := &m.sess.Stats
	switch e.outcome {
	case tickNotReady:
		st.NotReadyTicks++
	case tickEncodeFailed:
		st.EncodeFailures++
		m.recordError(e.err, true)
		m.logger.Warn().Err(e.err).Msg("encode failed")
	case tickSkipped:
		st.FramesSkipped++
		m.logger.Debug().Msg("upload in flight, tick skipped")
	case tickDispatched:
		m.logger.Debug().Uint64("seq", e.seq).Msg("frame dispatched")
	}
}

func (m *Machine) handleUpload(r upload.Result) {
	if m.state != Live {
		return
	}
	if r.Err != nil {
		m.sess.Stats.UploadFailures++
		m.recordError(r.Err, true)
		if errors.Is(r.Err, upload.ErrServerStopped) {
			m.logger.Warn().Err(r.Err).Msg("backend reports monitoring inactive")
		} else {
			m.logger.Warn().Err(r.Err).Uint64("seq", r.Seq).Msg("upload failed")
		}
		return
	}
	now := m.now()
	m.sess.FramesSent++
	m.sess.Stats.FramesSent = m.sess.FramesSent
	m.sess.LastFrameSentAt = now
	m.sess.Stats.Movements += len(r.Movements)
	for _, mv := range r.Movements {
		m.logger.Info().Str("object", mv.Object).Str("action", mv.Action).Msg("movement detected")
	}
	m.logger.Debug().Uint64("seq", r.Seq).Dur("took", r.Elapsed).Msg("frame sent")
}

func (m *Machine) handlePoll(e pollEv) {
	if e.gen != m.gen || m.state != Live {
		return
	}
	if e.res.Err != nil {
		m.sess.Stats.PollFailures++
		m.recordError(e.res.Err, true)
		return
	}
	m.sess.Stats.Polls++
	added := m.sess.Alerts.Merge(e.res.Alerts)
	if len(added) == 0 {
		return
	}
	for _, a := range added {
		m.logger.Info().
			Str("subject", a.Subject).
			Str("action", a.Action).
			Time("observed_at", a.ObservedAt).
			Msg(a.Text())
	}
	all := m.sess.Alerts.All()
	m.mu.Lock()
	m.alerts = all
	m.mu.Unlock()
}

func (m *Machine) handleFatal(e fatalEv) {
	if e.gen != m.gen || (m.state != Live && m.state != Acquiring) {
		return
	}
	m.logger.Error().Err(e.err).Msg("camera stream lost")
	m.teardown()
	m.recordError(fmt.Errorf("%w: %w", device.ErrDeviceUnavailable, e.err), false)
	m.setState(Unavailable)
	m.replyStart(e.err)
	m.notifyStop(m.gen)
}

func (m *Machine) handleStop(c stopCmd) {
	switch m.state {
	case Idle, Unavailable:
		c.reply <- nil
	case Stopping:
		m.stopWaiters = append(m.stopWaiters, c.reply)
	case Acquiring, Live:
		m.stopWaiters = append(m.stopWaiters, c.reply)
		m.setState(Stopping)
		m.teardown()
		m.replyStart(ErrSessionStopped)
		m.notifyStop(m.gen)
	}
}

// notifyStop tells the backend in the background. The result comes back as
// a stoppedEv for generation gen.
func (m *Machine) notifyStop(gen uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.StopTimeout)
		defer cancel()
		err := m.backend.StopMonitoring(ctx)
		m.post(stoppedEv{gen: gen, err: err})
	}()
}

func (m *Machine) handleStopped(e stoppedEv) {
	if e.err != nil {
		err := fmt.Errorf("%w: %w", ErrStopFailure, e.err)
		m.logger.Warn().Err(err).Msg("backend stop")
		if e.gen == m.gen && m.state == Stopping {
			m.recordError(err, true)
		}
	}
	if e.gen != m.gen || m.state != Stopping {
		return
	}
	m.finishStop()
}

func (m *Machine) finishStop() {
	if m.sess != nil {
		m.logger.Info().
			Int("frames_sent", m.sess.FramesSent).
			Int("alerts", m.sess.Alerts.Len()).
			Dur("uptime", m.now().Sub(m.sess.StartedAt)).
			Msg("session ended")
	}
	m.sess = nil
	m.setState(Idle)
	for _, w := range m.stopWaiters {
		w <- nil
	}
	m.stopWaiters = nil
	m.logger = log.Logger
}

// teardown cancels both loops, waits for them, then releases the camera and
// closes the presenter. Release is unconditional.
func (m *Machine) teardown() {
	r := m.cur
	if r == nil {
		return
	}
	m.cancelRecovery()
	if r.capture != nil {
		r.capture.Stop()
	}
	if r.poll != nil {
		r.poll.Stop()
	}
	r.cancel()
	r.wg.Wait()
	r.handle.Release()
	if m.presenting {
		m.presenter.Close()
		m.presenting = false
	}
	m.dropRun()
}

func (m *Machine) dropRun() {
	m.cur = nil
	m.mu.Lock()
	m.handle = nil
	m.mu.Unlock()
}

// shutdown is the implicit stop performed when Run's context ends.
func (m *Machine) shutdown() {
	switch m.state {
	case Acquiring, Live:
		m.setState(Stopping)
		m.teardown()
		m.replyStart(ErrSessionStopped)
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.StopTimeout)
		err := m.backend.StopMonitoring(ctx)
		cancel()
		if err != nil {
			m.logger.Warn().Err(err).Msg("backend stop")
			m.recordError(fmt.Errorf("%w: %w", ErrStopFailure, err), true)
		}
		m.finishStop()
	case Stopping:
		m.finishStop()
	}
}

func (m *Machine) handleStreamError(err error) {
	if m.state != Live {
		return
	}
	m.sess.Stats.StreamErrors++
	if m.recoveryC != nil {
		return
	}
	wrapped := fmt.Errorf("%w: %w", ErrStreamFailure, err)
	if m.opts.MaxRecoveries > 0 && m.recoveryAttempts >= m.opts.MaxRecoveries {
		if !m.recoveryExhausted {
			m.recoveryExhausted = true
			m.recordError(wrapped, true)
			m.logger.Error().Err(err).Int("attempts", m.recoveryAttempts).Msg("video feed recovery gave up")
		}
		return
	}
	m.recordError(wrapped, true)
	m.recoveryC, m.recoveryStop = m.after(m.opts.RecoveryBackoff)
	m.logger.Warn().Err(err).Dur("backoff", m.opts.RecoveryBackoff).Msg("video feed failed, refresh scheduled")
}

func (m *Machine) fireRecovery() {
	m.recoveryC, m.recoveryStop = nil, nil
	if m.state != Live || m.cur == nil {
		return
	}
	m.recoveryAttempts++
	m.sess.Stats.Recoveries++
	if m.presenter == nil {
		return
	}
	r := m.cur
	go func() {
		if err := m.presenter.Refresh(r.ctx); err != nil && r.ctx.Err() == nil {
			m.postRun(r, streamErrEv{err: err})
		}
	}()
}

func (m *Machine) cancelRecovery() {
	if m.recoveryStop != nil {
		m.recoveryStop()
	}
	m.recoveryC, m.recoveryStop = nil, nil
}

package main

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stashwatch/stashwatch/internal/api"
	"github.com/stashwatch/stashwatch/internal/config"
	"github.com/stashwatch/stashwatch/internal/device"
	"github.com/stashwatch/stashwatch/internal/diag"
	"github.com/stashwatch/stashwatch/internal/feed"
	"github.com/stashwatch/stashwatch/internal/session"
	"github.com/stashwatch/stashwatch/internal/status"
)

// runtime is one wired session machine with its optional status server.
type runtime struct {
	cfg     *config.Config
	client  *api.Client
	machine *session.Machine
	sampler *diag.Sampler

	wg   sync.WaitGroup
	errc chan error
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	src, err := device.NewSource(cfg.Capture)
	if err != nil {
		return nil, err
	}
	client := api.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)

	var presenter session.Presenter
	var viewer *feed.Viewer
	if cfg.Feed.Enabled {
		viewer = feed.NewViewer(client, cfg.Feed.StartDelay)
		presenter = viewer
	}
	m := session.New(client, src, presenter, session.OptionsFrom(cfg))
	if viewer != nil {
		viewer.OnError(m.ReportStreamError)
		viewer.OnHealthy(m.ReportStreamHealthy)
	}

	sampler, err := diag.NewSampler()
	if err != nil {
		log.Warn().Err(err).Msg("process stats unavailable")
		sampler = nil
	}

	log.Info().
		Str("backend", cfg.Backend.URL).
		Str("source", src.Name()).
		Dur("interval", cfg.Capture.Interval).
		Bool("feed", cfg.Feed.Enabled).
		Msg("stashwatch configured")

	return &runtime{
		cfg:     cfg,
		client:  client,
		machine: m,
		sampler: sampler,
		errc:    make(chan error, 1),
	}, nil
}

// start runs the machine and, when configured, the status server until ctx
// is done.
func (r *runtime) start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.machine.Run(ctx)
	}()

	addr := r.cfg.Status.Listen
	if addr == "" {
		return
	}
	b := status.NewBroadcaster(r.machine, r.cfg.Status.Throttle, r.cfg.Status.SnapshotInterval, 0)
	if r.sampler != nil {
		b.SetSampler(r.sampler)
	}
	updates, cancel := r.machine.Subscribe(16)
	srv := status.NewServer(r.machine, b, r.cfg.Status.AllowedOrigins, r.cfg.Status.AuthToken)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		defer cancel()
		b.Run(ctx, updates)
	}()
	go func() {
		defer r.wg.Done()
		if err := status.ListenAndServe(ctx, addr, srv.Handler()); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("status server failed")
			r.errc <- err
		}
	}()
}

// wait blocks until everything started by start has returned.
func (r *runtime) wait() error {
	r.wg.Wait()
	select {
	case err := <-r.errc:
		return err
	default:
		return nil
	}
}

// errContactRequired is returned when a command needs a phone number and
// none is configured.
var errContactRequired = errors.New("no phone number: set contact in the config or pass --phone")

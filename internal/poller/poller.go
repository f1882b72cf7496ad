// Package poller fetches server-observed alerts on a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stashwatch/stashwatch/internal/alert"
	"github.com/stashwatch/stashwatch/internal/api"
)

var ErrPollFailure = errors.New("notification poll failed")

type Fetcher interface {
	CheckNotifications(ctx context.Context) ([]api.Notification, error)
}

type Poller struct {
	fetcher Fetcher
	timeout time.Duration
	now     func() time.Time
}

// New returns a poller whose individual requests are bounded by timeout.
func New(f Fetcher, timeout time.Duration) *Poller {
	return &Poller{fetcher: f, timeout: timeout, now: time.Now}
}

// Poll performs one fetch. The caller merges the result; the poller keeps
// no state between calls.
func (p *Poller) Poll(ctx context.Context) ([]alert.Alert, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	ns, err := p.fetcher.CheckNotifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPollFailure, err)
	}
	out := make([]alert.Alert, 0, len(ns))
	for _, n := range ns {
		out = append(out, alert.FromNotification(n))
	}
	return out, nil
}

type Result struct {
	Alerts []alert.Alert
	Err    error
	At     time.Time
}

// Run polls once per tick until ctx ends or emit returns false. Polls never
// overlap: a tick that fires during a slow poll is dropped by the ticker.
func (p *Poller) Run(ctx context.Context, ticks <-chan time.Time, emit func(Result) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			alerts, err := p.Poll(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("poll failed")
			}
			if !emit(Result{Alerts: alerts, Err: err, At: p.now()}) {
				return
			}
		}
	}
}

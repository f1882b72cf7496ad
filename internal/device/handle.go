package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// maxConsecutiveReadErrors turns a track that keeps failing into a
	// fatal stream end.
	maxConsecutiveReadErrors = 30
	readErrorPause           = 100 * time.Millisecond
)

// Handle owns at most one live track. The zero value is not usable; create
// handles with NewHandle.
type Handle struct {
	source Source

	mu          sync.RWMutex
	status      Status
	width       int
	height      int
	frame       image.Image
	frameAt     time.Time
	frames      uint64
	readErrors  uint64
	track       Track
	cancel      context.CancelFunc
	done        chan struct{}
	onFatal     func(error)
	openStarted time.Time
}

func NewHandle(src Source) *Handle {
	return &Handle{source: src}
}

// OnFatal registers fn to be called once, from the pump goroutine, when the
// live track ends on its own. It is not called after Release.
func (h *Handle) OnFatal(fn func(error)) {
	h.mu.Lock()
	h.onFatal = fn
	h.mu.Unlock()
}

// Acquire opens the source and starts pumping pictures. Width and height stay
// zero until the first non-empty picture arrives.
func (h *Handle) Acquire(ctx context.Context, c Constraints) error {
	h.mu.Lock()
	if h.status == Acquiring || h.status == Live {
		h.mu.Unlock()
		return ErrBusy
	}
	h.status = Acquiring
	h.openStarted = time.Now()
	h.mu.Unlock()

	track, err := h.source.Open(ctx, c)
	if err != nil {
		err = classify(ctx, err)
		h.mu.Lock()
		if h.status == Acquiring {
			h.status = Unavailable
		}
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	if h.status != Acquiring {
		h.mu.Unlock()
		track.Close()
		return ErrReleased
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.track, h.cancel, h.done = track, cancel, done
	h.status = Live
	opened := time.Since(h.openStarted)
	h.mu.Unlock()

	log.Info().Str("source", h.source.Name()).Dur("took", opened).Msg("camera acquired")
	go h.pump(pumpCtx, track, done)
	return nil
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable):
		return err
	case os.IsPermission(err):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: acquisition timed out: %v", ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

func (h *Handle) pump(ctx context.Context, track Track, done chan struct{}) {
	defer close(done)
	consecutive := 0
	for {
		img, err := track.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrStreamEnded) || errors.Is(err, io.EOF) {
				h.fatal(track, err)
				return
			}
			consecutive++
			h.mu.Lock()
			h.readErrors++
			h.mu.Unlock()
			log.Warn().Err(err).Int("consecutive", consecutive).Msg("camera read failed")
			if consecutive >= maxConsecutiveReadErrors {
				h.fatal(track, fmt.Errorf("%w: %d consecutive read errors: %v", ErrStreamEnded, consecutive, err))
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorPause):
			}
			continue
		}
		consecutive = 0
		if img == nil {
			continue
		}
		b := img.Bounds()
		h.mu.Lock()
		if h.track != track {
			h.mu.Unlock()
			return
		}
		if b.Dx() > 0 && b.Dy() > 0 {
			if h.width == 0 {
				log.Info().Int("width", b.Dx()).Int("height", b.Dy()).Msg("first camera frame")
			}
			h.frame = img
			h.frameAt = time.Now()
			h.width, h.height = b.Dx(), b.Dy()
			h.frames++
		}
		h.mu.Unlock()
	}
}

func (h *Handle) fatal(track Track, err error) {
	h.mu.Lock()
	if h.track != track {
		h.mu.Unlock()
		return
	}
	h.status = Unavailable
	fn := h.onFatal
	h.mu.Unlock()

	log.Error().Err(err).Msg("camera stream ended")
	if fn != nil {
		fn(err)
	}
}

// Release stops the track, waits for the pump to exit and clears all
// dimensions. It is safe to call repeatedly and on a handle that was never
// acquired.
func (h *Handle) Release() {
	h.mu.Lock()
	track, cancel, done := h.track, h.cancel, h.done
	h.track, h.cancel, h.done = nil, nil, nil
	h.status = Unacquired
	h.width, h.height = 0, 0
	h.frame = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if track != nil {
		if err := track.Close(); err != nil {
			log.Warn().Err(err).Msg("camera track close")
		}
	}
	if done != nil {
		<-done
	}
}

// IsReady reports whether a picture with non-zero dimensions is available.
func (h *Handle) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status == Live && h.width > 0 && h.height > 0 && h.frame != nil
}

func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Dimensions returns the size of the most recent picture, or 0x0.
func (h *Handle) Dimensions() (int, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.width, h.height
}

// Frame returns the most recent picture. Pictures are never mutated after
// they are stored, so callers may read the image without holding a lock.
func (h *Handle) Frame() (image.Image, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.status != Live || h.frame == nil {
		return nil, false
	}
	return h.frame, true
}

// Stats is a point-in-time view of the pump counters.
type Stats struct {
	Status      Status    `json:"status"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Frames      uint64    `json:"frames"`
	ReadErrors  uint64    `json:"readErrors"`
	LastFrameAt time.Time `json:"lastFrameAt,omitempty"`
}

func (h *Handle) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Status:      h.status,
		Width:       h.width,
		Height:      h.height,
		Frames:      h.frames,
		ReadErrors:  h.readErrors,
		LastFrameAt: h.frameAt,
	}
}

// WaitReady polls IsReady until it holds or ctx ends.
func (h *Handle) WaitReady(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		if h.IsReady() {
			return nil
		}
		if h.Status() != Live {
			return fmt.Errorf("%w: handle is %s", ErrDeviceUnavailable, h.Status())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

package device

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"
)

// PatternSource produces a synthetic moving test card. It needs no hardware
// and is used by the mock backend feed, the probe fallback and development.
type PatternSource struct {
	// Warmup delays the first picture, the way real cameras deliver a few
	// empty frames after opening.
	Warmup time.Duration
}

func (PatternSource) Name() string { return "pattern" }

func (p PatternSource) Open(ctx context.Context, c Constraints) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	fps := c.FrameRate
	if fps <= 0 {
		fps = 15
	}
	return &patternTrack{
		width:   w,
		height:  h,
		period:  time.Duration(float64(time.Second) / fps),
		readyAt: time.Now().Add(p.Warmup),
		closed:  make(chan struct{}),
	}, nil
}

type patternTrack struct {
	width, height int
	period        time.Duration
	readyAt       time.Time
	seq           int

	once   sync.Once
	closed chan struct{}
}

func (t *patternTrack) Next(ctx context.Context) (image.Image, error) {
	wait := t.period
	if d := time.Until(t.readyAt); d > wait {
		wait = d
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, ErrStreamEnded
	case <-timer.C:
	}
	t.seq++
	return Pattern(t.width, t.height, t.seq), nil
}

func (t *patternTrack) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// Pattern renders frame n of the test card: vertical colour bars with a
// square that sweeps left to right.
func Pattern(w, h, n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bars := []color.RGBA{
		{192, 192, 192, 255},
		{192, 192, 0, 255},
		{0, 192, 192, 255},
		{0, 192, 0, 255},
		{192, 0, 192, 255},
		{192, 0, 0, 255},
		{0, 0, 192, 255},
	}
	barW := w / len(bars)
	if barW == 0 {
		barW = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := x / barW
			if i >= len(bars) {
				i = len(bars) - 1
			}
			img.SetRGBA(x, y, bars[i])
		}
	}

	side := h / 4
	if side < 1 {
		side = 1
	}
	span := w - side
	if span < 1 {
		span = 1
	}
	x0 := (n * 8) % span
	y0 := (h - side) / 2
	white := color.RGBA{255, 255, 255, 255}
	for y := y0; y < y0+side && y < h; y++ {
		for x := x0; x < x0+side && x < w; x++ {
			img.SetRGBA(x, y, white)
		}
	}
	return img
}

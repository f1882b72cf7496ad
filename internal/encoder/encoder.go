// Package encoder turns the current camera picture into a JPEG payload.
package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

const (
	MIMEType       = "image/jpeg"
	DefaultQuality = 85
)

var ErrEncodeFailure = errors.New("frame encode failed")

// Picture is the part of a capture handle the encoder reads.
type Picture interface {
	Dimensions() (int, int)
	Frame() (image.Image, bool)
}

// Frame is one encoded capture. It lives for a single tick.
type Frame struct {
	ID         string
	Seq        uint64
	Bytes      []byte
	Width      int
	Height     int
	MIMEType   string
	Quality    int
	CapturedAt time.Time
}

type Encoder struct {
	quality int
	seq     atomic.Uint64
	now     func() time.Time
}

// New returns an encoder at the given JPEG quality (1-100). Out-of-range
// values fall back to DefaultQuality.
func New(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{quality: quality, now: time.Now}
}

func (e *Encoder) Quality() int { return e.quality }

// Encode draws the current picture into a raster of exactly the handle's
// reported size and compresses it.
func (e *Encoder) Encode(p Picture) (Frame, error) {
	w, h := p.Dimensions()
	if w <= 0 || h <= 0 {
		return Frame{}, fmt.Errorf("%w: zero-sized surface %dx%d", ErrEncodeFailure, w, h)
	}
	src, ok := p.Frame()
	if !ok || src == nil {
		return Frame{}, fmt.Errorf("%w: no picture available", ErrEncodeFailure)
	}

	raster := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		draw.Copy(raster, image.Point{}, src, sb, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(raster, raster.Bounds(), src, sb, draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, raster, &jpeg.Options{Quality: e.quality}); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	if buf.Len() == 0 {
		return Frame{}, fmt.Errorf("%w: encoder produced no bytes", ErrEncodeFailure)
	}

	return Frame{
		ID:         uuid.NewString(),
		Seq:        e.seq.Add(1),
		Bytes:      buf.Bytes(),
		Width:      w,
		Height:     h,
		MIMEType:   MIMEType,
		Quality:    e.quality,
		CapturedAt: e.now(),
	}, nil
}

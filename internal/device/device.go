// Package device owns the live camera stream of a monitoring session.
//
// A Source opens a Track; a Handle wraps one Track at a time, pumps its
// pictures in the background and keeps only the most recent one.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"image"

	"github.com/stashwatch/stashwatch/internal/config"
)

var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera unavailable")
	// ErrStreamEnded is returned by Track.Next when the underlying stream
	// closed and will not produce more pictures.
	ErrStreamEnded = errors.New("camera stream ended")
	// ErrReleased is returned by Acquire when Release ran while the source
	// was still opening.
	ErrReleased = errors.New("camera released during acquisition")
	ErrBusy     = errors.New("camera handle already acquired")
)

type Status int

const (
	Unacquired Status = iota
	Acquiring
	Live
	Unavailable
)

var statusNames = map[Status]string{
	Unacquired:  "unacquired",
	Acquiring:   "acquiring",
	Live:        "live",
	Unavailable: "unavailable",
}

var statusFromName = map[string]Status{
	"unacquired":  Unacquired,
	"acquiring":   Acquiring,
	"live":        Live,
	"unavailable": Unavailable,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := statusFromName[n]; ok {
		*s = v
	}
	return nil
}

// Constraints are advisory; a source may deliver a different resolution or
// rate, and the handle reports what actually arrives.
type Constraints struct {
	DeviceIndex int
	Width       int
	Height      int
	FacingMode  string
	FrameRate   float64
}

// ConstraintsFrom maps the capture config section onto Constraints.
func ConstraintsFrom(c config.CaptureConfig) Constraints {
	return Constraints{
		DeviceIndex: c.DeviceIndex,
		Width:       c.Width,
		Height:      c.Height,
		FacingMode:  c.FacingMode,
		FrameRate:   c.FrameRate,
	}
}

// Source opens live video tracks.
type Source interface {
	Name() string
	Open(ctx context.Context, c Constraints) (Track, error)
}

// Track is one live video track. Next blocks until the next picture is
// available. Close must unblock a pending Next.
type Track interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

//go:build gocv

package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// CameraSource opens a local camera through OpenCV.
type CameraSource struct{}

func (CameraSource) Name() string { return "camera" }

func (CameraSource) Open(ctx context.Context, c Constraints) (Track, error) {
	if err := checkDeviceNode(c.DeviceIndex); err != nil {
		return nil, err
	}

	type result struct {
		vc  *gocv.VideoCapture
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := gocv.OpenVideoCapture(c.DeviceIndex)
		ch <- result{vc, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		// The open keeps running in the background; close whatever it yields.
		go func() {
			if late := <-ch; late.vc != nil {
				late.vc.Close()
			}
		}()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: open camera %d: %v", ErrDeviceUnavailable, c.DeviceIndex, r.err)
	}
	if !r.vc.IsOpened() {
		r.vc.Close()
		return nil, fmt.Errorf("%w: camera %d did not open", ErrDeviceUnavailable, c.DeviceIndex)
	}
	if c.Width > 0 && c.Height > 0 {
		r.vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
		r.vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	if c.FrameRate > 0 {
		r.vc.Set(gocv.VideoCaptureFPS, c.FrameRate)
	}
	r.vc.Set(gocv.VideoCaptureBufferSize, 1)
	return &cameraTrack{vc: r.vc, mat: gocv.NewMat()}, nil
}

type cameraTrack struct {
	// mu serialises Read against Close; OpenCV does not allow closing a
	// capture while a read is in progress.
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
	empty  int
}

var errEmptyFrame = errors.New("camera returned an empty frame")

func (t *cameraTrack) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrStreamEnded
	}
	if ok := t.vc.Read(&t.mat); !ok {
		return nil, fmt.Errorf("%w: camera read failed", ErrStreamEnded)
	}
	if t.mat.Empty() {
		t.empty++
		return nil, errEmptyFrame
	}
	t.empty = 0
	return t.mat.ToImage()
}

func (t *cameraTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.mat.Close()
	return t.vc.Close()
}

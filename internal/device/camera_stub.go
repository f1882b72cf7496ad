//go:build !gocv

package device

import (
	"context"
	"fmt"
)

// CameraSource is unavailable in builds without OpenCV. Rebuild with
// -tags gocv to capture from a local camera.
type CameraSource struct{}

func (CameraSource) Name() string { return "camera" }

func (CameraSource) Open(_ context.Context, c Constraints) (Track, error) {
	if err := checkDeviceNode(c.DeviceIndex); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: camera capture not compiled in (rebuild with -tags gocv)", ErrDeviceUnavailable)
}

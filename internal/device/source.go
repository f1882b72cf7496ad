package device

import (
	"fmt"

	"github.com/stashwatch/stashwatch/internal/config"
)

// NewSource builds the source named by cfg.Source.
func NewSource(cfg config.CaptureConfig) (Source, error) {
	switch cfg.Source {
	case "camera":
		return CameraSource{}, nil
	case "mjpeg":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mjpeg source needs a url")
		}
		return NewMJPEGSource(cfg.URL), nil
	case "pattern":
		return PatternSource{}, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

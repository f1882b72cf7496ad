package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Contact       string              `yaml:"contact"`
	Capture       CaptureConfig       `yaml:"capture"`
	Upload        UploadConfig        `yaml:"upload"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Feed          FeedConfig          `yaml:"feed"`
	Status        StatusConfig        `yaml:"status"`
	Log           LogConfig           `yaml:"log"`
}

type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// Register posts /api/start with the contact before acquiring the camera.
	Register bool `yaml:"register"`
}

// CaptureConfig selects the camera source and the capture loop timing.
// Width, Height and FacingMode are advisory; the device may deliver a
// different resolution.
type CaptureConfig struct {
	Source         string        `yaml:"source"` // "camera", "mjpeg" or "pattern"
	DeviceIndex    int           `yaml:"device_index"`
	URL            string        `yaml:"url"` // mjpeg source only
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	FacingMode     string        `yaml:"facing_mode"`
	FrameRate      float64       `yaml:"frame_rate"`
	Interval       time.Duration `yaml:"interval"`
	Quality        int           `yaml:"quality"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

type UploadConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type NotificationsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Recent       int           `yaml:"recent"`
}

type FeedConfig struct {
	Enabled         bool          `yaml:"enabled"`
	StartDelay      time.Duration `yaml:"start_delay"`
	RecoveryBackoff time.Duration `yaml:"recovery_backoff"`
	MaxRecoveries   int           `yaml:"max_recoveries"`
}

type StatusConfig struct {
	Listen           string        `yaml:"listen"`
	AuthToken        string        `yaml:"auth_token"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	Throttle         time.Duration `yaml:"throttle"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
	File   string `yaml:"file"`
}

// Default returns the configuration used when no file is given. Every field
// Load does not find in the file keeps these values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:      "http://localhost:5000",
			Timeout:  10 * time.Second,
			Register: true,
		},
		Capture: CaptureConfig{
			Source:         "camera",
			Width:          1280,
			Height:         720,
			FacingMode:     "environment",
			FrameRate:      15,
			Interval:       2 * time.Second,
			Quality:        85,
			AcquireTimeout: 15 * time.Second,
		},
		Upload: UploadConfig{
			Timeout: 10 * time.Second,
		},
		Notifications: NotificationsConfig{
			PollInterval: 3 * time.Second,
			Recent:       5,
		},
		Feed: FeedConfig{
			StartDelay:      3 * time.Second,
			RecoveryBackoff: 2 * time.Second,
			MaxRecoveries:   5,
		},
		Status: StatusConfig{
			Throttle:         100 * time.Millisecond,
			SnapshotInterval: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	switch c.Capture.Source {
	case "camera", "pattern":
	case "mjpeg":
		if c.Capture.URL == "" {
			return fmt.Errorf("capture.url is required for the mjpeg source")
		}
	default:
		return fmt.Errorf("capture.source %q: want camera, mjpeg or pattern", c.Capture.Source)
	}
	if c.Capture.Interval <= 0 {
		return fmt.Errorf("capture.interval must be positive")
	}
	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		return fmt.Errorf("capture.quality %d out of range 1-100", c.Capture.Quality)
	}
	if c.Capture.AcquireTimeout <= 0 {
		return fmt.Errorf("capture.acquire_timeout must be positive")
	}
	if c.Upload.Timeout <= 0 {
		return fmt.Errorf("upload.timeout must be positive")
	}
	if c.Notifications.PollInterval <= 0 {
		return fmt.Errorf("notifications.poll_interval must be positive")
	}
	if c.Notifications.Recent < 1 {
		return fmt.Errorf("notifications.recent must be at least 1")
	}
	if c.Feed.RecoveryBackoff <= 0 {
		return fmt.Errorf("feed.recovery_backoff must be positive")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q: want console or json", c.Log.Format)
	}
	return nil
}

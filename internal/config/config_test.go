package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
backend:
  url: "http://10.0.0.5:5000"
contact: "+15551234567"
capture:
  source: mjpeg
  url: "http://cam.local/stream"
  interval: 500ms
  quality: 90
notifications:
  poll_interval: 1s
feed:
  enabled: true
status:
  listen: "127.0.0.1:7878"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Backend.URL != "http://10.0.0.5:5000" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Contact != "+15551234567" {
		t.Errorf("Contact = %q", cfg.Contact)
	}
	if cfg.Capture.Source != "mjpeg" || cfg.Capture.URL != "http://cam.local/stream" {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	if cfg.Capture.Interval != 500*time.Millisecond {
		t.Errorf("Capture.Interval = %v, want 500ms", cfg.Capture.Interval)
	}
	if cfg.Capture.Quality != 90 {
		t.Errorf("Capture.Quality = %d, want 90", cfg.Capture.Quality)
	}
	if cfg.Notifications.PollInterval != time.Second {
		t.Errorf("Notifications.PollInterval = %v, want 1s", cfg.Notifications.PollInterval)
	}
	if !cfg.Feed.Enabled {
		t.Error("Feed.Enabled = false, want true")
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Upload.Timeout != 10*time.Second {
		t.Errorf("Upload.Timeout = %v, want default 10s", cfg.Upload.Timeout)
	}
	if cfg.Feed.RecoveryBackoff != 2*time.Second {
		t.Errorf("Feed.RecoveryBackoff = %v, want default 2s", cfg.Feed.RecoveryBackoff)
	}
	if cfg.Notifications.Recent != 5 {
		t.Errorf("Notifications.Recent = %d, want default 5", cfg.Notifications.Recent)
	}
	if !cfg.Backend.Register {
		t.Error("Backend.Register = false, want default true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of missing file should error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "capture: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("Load() of malformed yaml should error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty backend url", func(c *Config) { c.Backend.URL = "" }, "backend.url"},
		{"unknown source", func(c *Config) { c.Capture.Source = "webrtc" }, "capture.source"},
		{"mjpeg without url", func(c *Config) { c.Capture.Source = "mjpeg" }, "capture.url"},
		{"zero interval", func(c *Config) { c.Capture.Interval = 0 }, "capture.interval"},
		{"quality too high", func(c *Config) { c.Capture.Quality = 101 }, "capture.quality"},
		{"quality zero", func(c *Config) { c.Capture.Quality = 0 }, "capture.quality"},
		{"zero acquire timeout", func(c *Config) { c.Capture.AcquireTimeout = 0 }, "acquire_timeout"},
		{"zero upload timeout", func(c *Config) { c.Upload.Timeout = 0 }, "upload.timeout"},
		{"zero poll interval", func(c *Config) { c.Notifications.PollInterval = 0 }, "poll_interval"},
		{"no recent alerts", func(c *Config) { c.Notifications.Recent = 0 }, "notifications.recent"},
		{"zero backoff", func(c *Config) { c.Feed.RecoveryBackoff = 0 }, "recovery_backoff"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

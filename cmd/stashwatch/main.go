// Command stashwatch watches belongings through a camera and lets a
// detection backend alert a phone when something moves.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stashwatch/stashwatch/internal/config"
)

var (
	cfgFile    string
	backendURL string
	contact    string
	sourceName string
	logLevel   string
	jsonLogs   bool
	statusAddr string
	enableFeed bool
)

var rootCmd = &cobra.Command{
	Use:   "stashwatch",
	Short: "Watch your belongings through a camera",
	Long: `stashwatch captures a frame from the camera every few seconds and
uploads it to a detection backend, which texts the configured phone number
when a watched object moves or disappears.`,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (YAML)")
	f.StringVar(&backendURL, "backend", "", "detection backend base URL")
	f.StringVar(&contact, "phone", "", "phone number that receives alerts")
	f.StringVar(&sourceName, "source", "", "capture source: camera, mjpeg or pattern")
	f.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.BoolVar(&jsonLogs, "json-logs", false, "write logs as JSON")
	f.StringVar(&statusAddr, "status", "", "serve the local status API on this address, e.g. 127.0.0.1:8090")
	f.BoolVar(&enableFeed, "feed", false, "also pull the backend's video feed")

	rootCmd.AddCommand(runCmd, watchCmd, attachCmd, probeCmd, mockBackendCmd)
}

// loadConfig reads the config file when given and applies the flags the
// user set on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend.URL = backendURL
	}
	if flags.Changed("phone") {
		cfg.Contact = contact
	}
	if flags.Changed("source") {
		cfg.Capture.Source = sourceName
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("json-logs") && jsonLogs {
		cfg.Log.Format = "json"
	}
	if flags.Changed("status") {
		cfg.Status.Listen = statusAddr
	}
	if flags.Changed("feed") {
		cfg.Feed.Enabled = enableFeed
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stashwatch/stashwatch/internal/config"
)

// tuiLogFile receives logs while the terminal view owns the screen.
const tuiLogFile = "stashwatch.log"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging installs the global logger. With toFile the log goes to
// cfg.File, or tuiLogFile when unset, instead of stderr.
func setupLogging(cfg config.LogConfig, toFile bool) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	path := cfg.File
	if toFile && path == "" {
		path = tuiLogFile
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		out, closer = f, f
	}
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: path != ""}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

package main

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stashwatch/stashwatch/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor headless until interrupted",
	Long: `run starts a monitoring session and keeps it going until SIGINT or
SIGTERM. Stopping is implicit on exit: the camera is released and the
backend is told monitoring ended.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		closer, err := setupLogging(cfg.Log, false)
		if err != nil {
			return err
		}
		defer closer.Close()

		if strings.TrimSpace(cfg.Contact) == "" {
			return errContactRequired
		}
		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		rt.start(ctx)
		if err := rt.machine.Start(ctx, cfg.Contact); err != nil && !errors.Is(err, session.ErrSessionStopped) {
			log.Error().Err(err).Msg("monitoring could not start")
			cancel()
			rt.wait()
			return err
		}
		<-ctx.Done()
		log.Info().Msg("shutting down")
		return rt.wait()
	},
}

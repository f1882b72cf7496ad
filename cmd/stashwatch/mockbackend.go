package main

import (
	"github.com/spf13/cobra"

	"github.com/stashwatch/stashwatch/internal/mock"
	"github.com/stashwatch/stashwatch/internal/status"
)

var (
	mockListen     string
	mockAlertEvery int
)

var mockBackendCmd = &cobra.Command{
	Use:   "mock-backend",
	Short: "Serve a fake detection backend for development",
	Long: `mock-backend answers the detection API locally. It accepts frames
while monitoring, reports a movement of one of the usual objects every few
frames and streams a test pattern as the video feed.`,
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

		opts := mock.DefaultOptions()
		opts.AlertEvery = mockAlertEvery
		return status.ListenAndServe(cmd.Context(), mockListen, mock.New(opts).Handler())
	},
}

func init() {
	mockBackendCmd.Flags().StringVar(&mockListen, "listen", "127.0.0.1:5000", "address to serve on")
	mockBackendCmd.Flags().IntVar(&mockAlertEvery, "alert-every", 5, "frames between synthetic movements (0 disables them)")
}

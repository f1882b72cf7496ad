package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stashwatch/stashwatch/internal/config"
	"github.com/stashwatch/stashwatch/internal/device"
	"github.com/stashwatch/stashwatch/internal/encoder"
)

var (
	probeCount int
	probeDir   string
)

type probeResult struct {
	width  int
	height int
	path   string
	err    error
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Find working camera indices",
	Long: `probe opens camera indices 0..n-1 in turn, grabs one frame from each
that works and saves it as camera_test_<i>.jpg so you can see which index
points where.`,
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

		if err := os.MkdirAll(probeDir, 0o755); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tRESULT\tSIZE\tFILE")
		working := 0
		for i := 0; i < probeCount; i++ {
			if cmd.Context().Err() != nil {
				break
			}
			r := probeIndex(cmd.Context(), cfg.Capture, i, probeDir)
			if r.err != nil {
				fmt.Fprintf(w, "%d\t%v\t-\t-\n", i, r.err)
				continue
			}
			working++
			fmt.Fprintf(w, "%d\tok\t%dx%d\t%s\n", i, r.width, r.height, r.path)
		}
		w.Flush()
		if working == 0 {
			return fmt.Errorf("no working camera among indices 0-%d", probeCount-1)
		}
		return nil
	},
}

// probeIndex acquires camera index, waits for a real frame and saves it.
func probeIndex(ctx context.Context, capture config.CaptureConfig, index int, dir string) probeResult {
	var res probeResult
	capture.Source = "camera"
	capture.DeviceIndex = index

	src, err := device.NewSource(capture)
	if err != nil {
		res.err = err
		return res
	}
	h := device.NewHandle(src)
	defer h.Release()

	ctx, cancel := context.WithTimeout(ctx, capture.AcquireTimeout)
	defer cancel()
	if err := h.Acquire(ctx, device.ConstraintsFrom(capture)); err != nil {
		res.err = err
		return res
	}
	// Cameras often deliver a few empty frames right after opening.
	if err := h.WaitReady(ctx); err != nil {
		res.err = fmt.Errorf("no frame: %w", err)
		return res
	}

	frame, err := encoder.New(capture.Quality).Encode(h)
	if err != nil {
		res.err = err
		return res
	}
	res.path = filepath.Join(dir, fmt.Sprintf("camera_test_%d.jpg", index))
	if err := os.WriteFile(res.path, frame.Bytes, 0o644); err != nil {
		res.err = err
		return res
	}
	res.width, res.height = frame.Width, frame.Height
	log.Debug().Int("index", index).Str("file", res.path).Msg("probe frame saved")
	return res
}

func init() {
	probeCmd.Flags().IntVar(&probeCount, "count", 5, "number of camera indices to try")
	probeCmd.Flags().StringVar(&probeDir, "dir", ".", "directory for the test images")
}

package main

import (
	"context"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stashwatch/stashwatch/internal/status"
	"github.com/stashwatch/stashwatch/internal/tui/app"
	"github.com/stashwatch/stashwatch/internal/watch"
)

var (
	autoStart bool
	attachURL string
	helpStyle string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor with a terminal view",
	Long: `watch runs the session in this process and shows its state, the
latest alerts and any errors. s starts, x stops, q quits (and stops).
Logs go to a file while the view is open.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		closer, err := setupLogging(cfg.Log, true)
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

		stream := watch.NewLocalStream(rt.machine, rt.sampler)
		defer stream.Close()
		model := app.New(stream, rt.machine, app.Options{
			Contact:   cfg.Contact,
			HelpStyle: helpStyle,
			AutoStart: autoStart,
		})
		_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()

		cancel()
		if werr := rt.wait(); werr != nil {
			log.Warn().Err(werr).Msg("shutdown")
		}
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Follow a running session through its status server",
	Long: `attach connects to the status websocket of a stashwatch started with
--status and shows the session read-only. It reconnects with backoff when
the connection drops.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		closer, err := setupLogging(cfg.Log, true)
		if err != nil {
			return err
		}
		defer closer.Close()

		target := attachURL
		if target == "" {
			if target, err = statusURL(cfg.Status.Listen); err != nil {
				return err
			}
		}
		client := watch.NewWSClient(target, cfg.Status.AuthToken)
		defer client.Close()

		model := app.New(client, nil, app.Options{HelpStyle: helpStyle})
		_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		if err != nil && cmd.Context().Err() == nil {
			return err
		}
		return nil
	},
}

// statusURL turns a listen address into the websocket URL of its status
// server. A bare port or an unspecified host means loopback.
func statusURL(listen string) (string, error) {
	if listen == "" {
		listen = "127.0.0.1:8090"
	}
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	listen = strings.Replace(listen, "0.0.0.0:", "127.0.0.1:", 1)
	u := url.URL{Scheme: "ws", Host: listen, Path: status.PathWS}
	if _, err := url.Parse(u.String()); err != nil {
		return "", err
	}
	return u.String(), nil
}

func init() {
	watchCmd.Flags().BoolVar(&autoStart, "start", true, "start monitoring as soon as the view opens")
	for _, c := range []*cobra.Command{watchCmd, attachCmd} {
		c.Flags().StringVar(&helpStyle, "style", "dark", "glamour style of help panels (dark, light, notty)")
	}
	attachCmd.Flags().StringVar(&attachURL, "url", "", "status websocket URL (default from status.listen)")
}

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/voxlink/internal/config"
	"github.com/soyeahso/voxlink/internal/credential"
	"github.com/soyeahso/voxlink/internal/gateway"
)

func newServeCmd() *cobra.Command {
	var (
		port  int
		bind  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the UI gateway over a voice session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.config()
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			cred, err := credential.FromConfig(ctx, cfg)
			if err != nil {
				return fmt.Errorf("credential: %w", err)
			}

			opts := []gateway.ServerOption{
				gateway.WithCredential(cred),
				gateway.WithScenarios(a.scenario),
			}
			if a.metrics != nil {
				opts = append(opts, gateway.WithMetrics(a.metrics))
			}
			srv := gateway.New(cfg.Gateway, a.session, a.events, a.log, opts...)
			defer srv.Close()

			if watch {
				go func() {
					err := config.Watch(ctx, paths.Config,
						func(c config.Config) { a.reload(ctx, c) },
						func(err error) { a.log.Warn().Err(err).Msg("config reload failed") },
					)
					if err != nil {
						a.log.Warn().Err(err).Msg("config watcher stopped")
					}
				}()
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&watch, "watch", true, "apply turn detection and log level changes when the config file changes")

	return cmd
}

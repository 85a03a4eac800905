package cli

import (
	"bufio"
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/voxlink/internal/session"
)

func newTalkCmd() *cobra.Command {
	var (
		scenario string
		agent    string
		noDial   bool
	)

	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Talk to an agent from the terminal",
		Long:  "Connects a voice session and streams the transcript. Type text to send it, or /help for commands.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			c := newConsole(a.session, out)
			c.request = a.connectRequest
			c.scenarios = a.scenario
			c.history = a.store
			c.scenario = scenario
			unsubscribe := a.events.SubscribeAll("console", c.onEvent)
			defer unsubscribe()

			if !noDial {
				req, err := a.connectRequest(ctx, scenario, agent)
				if err != nil {
					return err
				}
				if err := a.session.Connect(ctx, req); err != nil && !errors.Is(err, session.ErrConnectCancelled) {
					return err
				}
			}

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					select {
					case lines <- sc.Text():
					case <-ctx.Done():
						return
					}
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if err := c.exec(ctx, line); err != nil {
						if errors.Is(err, errQuit) {
							return nil
						}
						c.printf(errorStyle, "%v", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "", "agent scenario (default from config)")
	cmd.Flags().StringVar(&agent, "agent", "", "agent to start with (default: scenario root)")
	cmd.Flags().BoolVar(&noDial, "no-connect", false, "start disconnected; use /connect")

	return cmd
}

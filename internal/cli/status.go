package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/voxlink/internal/config"
	"github.com/soyeahso/voxlink/internal/prefs"
	"github.com/soyeahso/voxlink/internal/store"
	"github.com/soyeahso/voxlink/internal/version"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration, preferences and store location",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			b := version.Current()
			fmt.Fprintf(out, "Voxlink %s (commit %s)\n\n", b.Version, b.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Realtime: url=%s model=%s codec=%s voice=%s\n",
				cfg.Realtime.URL, cfg.Realtime.Model, orDash(cfg.Realtime.Codec), orDash(cfg.Realtime.Voice))
			credMode := cfg.Credential.Mode
			if credMode == "" {
				credMode = "static"
			}
			fmt.Fprintf(out, "Credential: mode=%s\n", credMode)
			td := cfg.TurnDetection
			fmt.Fprintf(out, "Turns:   ptt=%v mode=%s threshold=%.2f silence=%dms\n",
				td.PushToTalk, orDash(td.Mode), td.Threshold, td.SilenceDurationMs)
			fmt.Fprintf(out, "Audio:   playback=%v player=%s record=%s wakeLock=%v\n",
				cfg.Audio.Playback(), orDash(cfg.Audio.Player), orDash(cfg.Audio.RecordDir), cfg.Audio.WakeLock)
			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s metrics=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Metrics.On())

			scenarios := make([]string, 0, len(cfg.Agents.Scenarios))
			for name := range cfg.Agents.Scenarios {
				scenarios = append(scenarios, name)
			}
			sort.Strings(scenarios)
			fmt.Fprintf(out, "Agents:  default=%s scenarios=%s\n", orDash(cfg.Agents.DefaultScenario), strings.Join(scenarios, ","))

			storePath := paths.StorePath(cfg.Store)
			if cfg.Store.Driver == "memory" {
				storePath = "(memory)"
			}
			fmt.Fprintf(out, "Store:   %s\n", storePath)

			if cfg.Store.Driver != "memory" {
				if _, err := os.Stat(storePath); err == nil {
					printStoredPrefs(cmd, cfg)
				}
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}

	return cmd
}

func printStoredPrefs(cmd *cobra.Command, cfg config.Config) {
	out := cmd.OutOrStdout()
	st, err := store.New(cfg.Store.Driver, paths.StorePath(cfg.Store), log)
	if err != nil {
		fmt.Fprintf(out, "Prefs:   unavailable: %v\n", err)
		return
	}
	defer st.Close()

	all, err := prefs.New(st, log).List(context.Background())
	if err != nil {
		fmt.Fprintf(out, "Prefs:   unavailable: %v\n", err)
		return
	}
	if len(all) == 0 {
		fmt.Fprintln(out, "Prefs:   (none)")
		return
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+all[k])
	}
	fmt.Fprintf(out, "Prefs:   %s\n", strings.Join(pairs, " "))
}

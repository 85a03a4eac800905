package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/voxlink/internal/config"
	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/handoff"
	"github.com/soyeahso/voxlink/internal/session"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Inspect agent scenarios",
	}

	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentInfoCmd())
	return cmd
}

func newAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenarios and their agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			listScenarios(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func listScenarios(w io.Writer, cfg config.Config) {
	names := make([]string, 0, len(cfg.Agents.Scenarios))
	for name := range cfg.Agents.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := ""
		if name == cfg.Agents.DefaultScenario {
			def = " (default)"
		}
		fmt.Fprintf(w, "%s%s\n", name, def)
		for i, a := range cfg.Agents.Scenarios[name] {
			root := ""
			if i == 0 {
				root = " root"
			}
			handoffs := "-"
			if len(a.Handoffs) > 0 {
				handoffs = strings.Join(a.Handoffs, ",")
			}
			fmt.Fprintf(w, "  %-16s voice=%-8s handoffs=%s%s\n", a.Name, orDash(a.Voice), handoffs, root)
		}
	}
}

func newAgentInfoCmd() *cobra.Command {
	var scenario string
	cmd := &cobra.Command{
		Use:   "info <agent>",
		Short: "Show an agent's instructions and tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			agents, err := session.Scenario(cfg, scenario)
			if err != nil {
				return err
			}
			a, ok := agents.Find(args[0])
			if !ok {
				return fmt.Errorf("agent not found: %s (scenario has %s)", args[0], strings.Join(agents.Names(), ", "))
			}
			printAgent(cmd.OutOrStdout(), a)
			return nil
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "", "scenario to look in (default from config)")
	return cmd
}

func printAgent(w io.Writer, a domain.Agent) {
	fmt.Fprintf(w, "Agent: %s\n", a.Name)
	fmt.Fprintf(w, "  Voice:    %s\n", orDash(a.Voice))
	if a.Instructions != "" {
		fmt.Fprintf(w, "  Instructions:\n    %s\n", strings.ReplaceAll(strings.TrimSpace(a.Instructions), "\n", "\n    "))
	}
	fmt.Fprintln(w, "  Tools:")
	tools := append(append([]domain.Tool(nil), a.Tools...), handoff.Tools(a)...)
	for _, t := range tools {
		fmt.Fprintf(w, "    %-24s %s\n", t.Name, t.Description)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

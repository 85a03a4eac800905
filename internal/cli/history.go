package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/voxlink/internal/store"
	"github.com/soyeahso/voxlink/internal/transcript"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse archived session transcripts",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistorySearchCmd())
	cmd.AddCommand(newHistoryDeleteCmd())
	return cmd
}

// withStore opens the configured store for a one-shot command.
func withStore(fn func(ctx context.Context, st store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func newHistoryListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				recs, err := st.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(out, "no archived sessions")
					return nil
				}
				for _, r := range recs {
					dur := r.EndedAt.Sub(r.StartedAt).Round(time.Second)
					fmt.Fprintf(out, "%s  %s  scenario=%s root=%s items=%d duration=%s\n",
						r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, r.Scenario, r.RootAgent, r.Items, dur)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var (
		asJSON bool
		crumbs bool
	)
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print an archived transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				rec, items, err := st.Transcript(ctx, args[0])
				if err != nil {
					return fmt.Errorf("session %s: %w", args[0], err)
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(map[string]any{"session": rec, "items": items})
				}
				fmt.Fprintf(out, "session %s (%s, root %s)\n\n", rec.ID, rec.StartedAt.Format(time.RFC3339), rec.RootAgent)
				writeTranscript(out, items, crumbs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw items as JSON")
	cmd.Flags().BoolVar(&crumbs, "breadcrumbs", true, "include breadcrumbs")
	return cmd
}

// writeTranscript prints visible items one per line.
func writeTranscript(w io.Writer, items []transcript.Item, crumbs bool) {
	for _, it := range items {
		if it.IsHidden {
			continue
		}
		switch {
		case it.Type == transcript.TypeBreadcrumb:
			if crumbs {
				fmt.Fprintf(w, "  · %s\n", it.Title)
			}
		case it.Role == transcript.RoleUser:
			fmt.Fprintf(w, "you: %s\n", it.Title)
		default:
			fmt.Fprintf(w, "%s: %s\n", it.Role, it.Title)
		}
	}
}

func newHistorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over archived transcripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				hits, err := st.Search(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(hits) == 0 {
					fmt.Fprintln(out, "no matches")
					return nil
				}
				for _, h := range hits {
					fmt.Fprintf(out, "%s  %-9s %s\n", h.SessionID, h.Role, h.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum matches")
	return cmd
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete an archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				if err := st.DeleteSession(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

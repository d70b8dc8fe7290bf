package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/reinforce"
	"github.com/tslateman/lore-sub001/internal/source"
)

var (
	accessLimit     int
	accessJSON      bool
	accessOlderThan time.Duration
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Inspect and prune the access log behind reinforcement boosts",
}

var accessStatsCmd = &cobra.Command{
	Use:   "stats [kind id]",
	Short: "Show access counts and boosts, for one record or the most reinforced",
	Args:  cobra.MatchAll(cobra.MaximumNArgs(2), func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return apperrors.Input("access.stats", "expected both a kind and an id")
		}
		return nil
	}),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		tracker, err := w.Tracker()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(args) == 2 {
			kind, err := source.ParseKind(args[0])
			if err != nil {
				return err
			}
			st, err := tracker.Stats(cmd.Context(), source.Key{Kind: kind, ID: args[1]})
			if err != nil {
				return err
			}
			if accessJSON {
				return printJSON(out, st)
			}
			printAccessStats(cmd, []reinforce.Stats{st})
			return nil
		}

		top, err := tracker.Top(cmd.Context(), accessLimit)
		if err != nil {
			return err
		}
		if accessJSON {
			return printJSON(out, top)
		}
		if len(top) == 0 {
			fmt.Fprintln(out, "No accesses recorded.")
			return nil
		}
		printAccessStats(cmd, top)
		return nil
	},
}

var accessPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete accesses older than a duration (default: the reinforcement window)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()
		tracker, err := w.Tracker()
		if err != nil {
			return err
		}

		age := accessOlderThan
		if age <= 0 {
			age = w.cfg.Reinforce.Window
		}
		if age <= 0 {
			age = reinforce.DefaultConfig().Window
		}
		removed, err := tracker.Prune(cmd.Context(), time.Now().Add(-age))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s pruned %d access(es) older than %s\n", styles.Success.Render("✓"), removed, age)
		return nil
	},
}

func init() {
	accessStatsCmd.Flags().IntVar(&accessLimit, "limit", 20, "Number of records to list")
	accessStatsCmd.Flags().BoolVar(&accessJSON, "json", false, "Output as JSON")
	accessPruneCmd.Flags().DurationVar(&accessOlderThan, "older-than", 0, "Prune accesses older than this (e.g. 720h)")
	accessCmd.AddCommand(accessStatsCmd, accessPruneCmd)
	rootCmd.AddCommand(accessCmd)
}

func printAccessStats(cmd *cobra.Command, stats []reinforce.Stats) {
	out := cmd.OutOrStdout()
	for _, st := range stats {
		last := "never"
		if !st.LastAccessed.IsZero() {
			last = st.LastAccessed.Local().Format(time.DateTime)
		}
		fmt.Fprintf(out, "  %s %-24s %4d  boost=%.3f  %s\n",
			styles.Kind.Render(string(st.Kind)), st.ID, st.AccessCount, st.Boost, styles.Muted.Render(last))
	}
}

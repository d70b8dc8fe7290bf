package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tslateman/lore-sub001/internal/index"
)

var (
	indexEmbed bool
	indexQuiet bool
	indexJSON  bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the full-text and vector indexes",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the indexes from the current source records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		rep, err := w.IndexRebuilder(indexEmbed).Rebuild(cmd.Context())
		if err != nil {
			return err
		}
		if indexQuiet {
			return nil
		}
		for kind, reason := range rep.Skipped {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s log skipped: %s\n", styles.Warning.Render("warning:"), kind, reason)
		}
		if rep.VectorError != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s vector index not rebuilt: %s\n", styles.Warning.Render("warning:"), rep.VectorError)
		}
		if indexJSON {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s indexed %d record(s)", styles.Success.Render("✓"), rep.Records)
		if rep.Vectors > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), ", embedded %d", rep.Vectors)
		}
		fmt.Fprintf(cmd.OutOrStdout(), " in %s\n", rep.Duration.Round(time.Millisecond))
		return nil
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the index exists and is up to date with the source logs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		st := index.ReadStatus(w.cfg.IndexPath(), w.cfg.VectorPath(), w.sources)
		out := cmd.OutOrStdout()
		if indexJSON {
			return printJSON(out, st)
		}
		fmt.Fprintf(out, "  path:    %s\n", st.Path)
		if !st.Exists {
			fmt.Fprintf(out, "  status:  %s (run lore index rebuild)\n", styles.Warning.Render("missing"))
			if st.Error != "" {
				fmt.Fprintf(out, "  error:   %s\n", st.Error)
			}
			return nil
		}
		state := styles.Success.Render("fresh")
		if st.Stale {
			state = styles.Warning.Render("stale")
		}
		fmt.Fprintf(out, "  status:  %s\n", state)
		fmt.Fprintf(out, "  records: %d\n", st.Records)
		fmt.Fprintf(out, "  built:   %s\n", st.BuiltAt.Local().Format(time.DateTime))
		fmt.Fprintf(out, "  vectors: %v\n", st.Vectors)
		return nil
	},
}

func init() {
	indexRebuildCmd.Flags().BoolVar(&indexEmbed, "embed", false, "Also compute embeddings for the vector index")
	indexRebuildCmd.Flags().BoolVar(&indexQuiet, "quiet", false, "Print nothing on success")
	indexRebuildCmd.Flags().BoolVar(&indexJSON, "json", false, "Output as JSON")
	indexStatusCmd.Flags().BoolVar(&indexJSON, "json", false, "Output as JSON")
	indexCmd.AddCommand(indexRebuildCmd, indexStatusCmd)
	rootCmd.AddCommand(indexCmd)
}

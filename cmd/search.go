package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tslateman/lore-sub001/internal/retrieval"
	"github.com/tslateman/lore-sub001/internal/source"
)

var (
	searchDepth    int
	searchTypes    []string
	searchLimit    int
	searchSemantic bool
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Ranked search over every record, optionally expanded through the graph",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := parseKinds(searchTypes)
		if err != nil {
			return err
		}

		w, err := openWorkspace()
		if err != nil {
			return err
		}
		defer w.Close()

		engine, err := w.Engine(w.processRefresher(), searchSemantic)
		if err != nil {
			return err
		}
		resp, err := engine.Query(cmd.Context(), strings.Join(args, " "), retrieval.Options{
			Kinds:      kinds,
			GraphDepth: searchDepth,
			Limit:      searchLimit,
			Semantic:   searchSemantic,
		})
		if err != nil {
			return err
		}

		printSearchNotices(cmd.ErrOrStderr(), resp)
		if searchJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		printResults(cmd.OutOrStdout(), resp)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchDepth, "graph-depth", 0, "Expand top hits through the graph up to this many hops")
	searchCmd.Flags().StringSliceVar(&searchTypes, "type", nil, "Only records of this kind (repeatable)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum results (default from config)")
	searchCmd.Flags().BoolVar(&searchSemantic, "semantic", false, "Fuse in vector similarity when a vector index exists")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(searchCmd)
}

func parseKinds(names []string) ([]source.Kind, error) {
	var out []source.Kind
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			k, err := source.ParseKind(part)
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
	}
	return out, nil
}

func printSearchNotices(w io.Writer, resp *retrieval.Response) {
	warn := styles.Warning.Render("warning:")
	if resp.Fallback == retrieval.FallbackScan {
		fmt.Fprintf(w, "%s index unavailable, showing unranked matches from the source logs\n", warn)
	} else if resp.Stale {
		fmt.Fprintf(w, "%s index is older than the source logs\n", warn)
	}
	if resp.Refreshing {
		fmt.Fprintln(w, styles.Muted.Render("refreshing the index in the background"))
	}
	for _, msg := range resp.Warnings {
		fmt.Fprintf(w, "%s %s\n", warn, msg)
	}
}

func printResults(out io.Writer, resp *retrieval.Response) {
	if len(resp.Results) == 0 {
		fmt.Fprintf(out, "No results for %q\n", resp.Query)
		return
	}
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. %s %s  %s\n", i+1, styles.Kind.Render(string(r.Kind)),
			styles.Bold.Render(truncTitle(r.Title, 70)), styles.Muted.Render(r.ID))

		meta := []string{fmt.Sprintf("score=%.3f", r.Score)}
		if r.Boost > 0 {
			meta = append(meta, fmt.Sprintf("boost=%.2f", r.Boost))
		}
		if r.Origin == retrieval.OriginGraph {
			meta = append(meta, fmt.Sprintf("via graph, %d hop(s)", r.Depth))
		}
		if r.Scope != "" {
			meta = append(meta, "project:"+r.Scope)
		}
		if !r.Timestamp.IsZero() {
			meta = append(meta, r.Timestamp.Format("2006-01-02"))
		}
		fmt.Fprintf(out, "    %s\n", styles.Score.Render(strings.Join(meta, "  ")))
		if r.Snippet != "" && r.Snippet != r.Title {
			fmt.Fprintf(out, "    %s\n", truncTitle(strings.Join(strings.Fields(r.Snippet), " "), 100))
		}
	}
}

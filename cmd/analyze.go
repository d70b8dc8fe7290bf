package cmd

import (
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/tslateman/lore-sub001/internal/graph"
)

var (
	analyzeJSON         bool
	analyzeRegion       string
	analyzeTopN         int
	analyzeStaleDays    int64
	analyzeHubThreshold int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze graph structure: coverage, topology, staleness, fragility, health score",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *workspace, store *graph.Store) error {
			snap := store.Snapshot()

			if analyzeRegion != "" {
				project, err := ResolveNode(store, analyzeRegion)
				if err != nil {
					return fmt.Errorf("resolving region: %w", err)
				}
				snap = snap.FilterToRegion(project.ID)
			}

			config := &graph.AnalyzerConfig{
				HubThreshold: analyzeHubThreshold,
				TopN:         analyzeTopN,
				StaleDays:    analyzeStaleDays,
			}

			report := graph.Analyze(snap, config)

			if analyzeJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}

			printAnalysis(cmd.OutOrStdout(), report, snap)
			return nil
		})
	},
}

func init() {
	def := graph.DefaultConfig()
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Output as JSON")
	analyzeCmd.Flags().StringVar(&analyzeRegion, "region", "", "Scope analysis to the nodes of this project")
	analyzeCmd.Flags().IntVar(&analyzeTopN, "top-n", def.TopN, "Number of top items to show per section")
	analyzeCmd.Flags().Int64Var(&analyzeStaleDays, "stale-days", def.StaleDays, "Days since update to consider a node stale")
	analyzeCmd.Flags().IntVar(&analyzeHubThreshold, "hub-threshold", def.HubThreshold, "Minimum degree to consider a node a hub")
	graphCmd.AddCommand(analyzeCmd)
}

func printAnalysis(out io.Writer, report *graph.AnalysisReport, snap *graph.Snapshot) {
	// Health bar
	barLen := int(report.HealthScore * 20)
	if barLen > 20 {
		barLen = 20
	}
	bar := strings.Repeat("█", barLen) + strings.Repeat("░", 20-barLen)
	fmt.Fprintf(out, "\n  %s %.0f%%  [%s]\n", styles.Title.Render("Graph Health:"), report.HealthScore*100, bar)
	hb := report.HealthBreakdown
	fmt.Fprintf(out, "  breakdown: coverage=%.2f cohesion=%.2f freshness=%.2f robustness=%.2f\n\n",
		hb.Coverage, hb.Cohesion, hb.Freshness, hb.Robustness)

	if cov := report.Coverage; cov.Records > 0 {
		section(out, "COVERAGE")
		fmt.Fprintf(out, "  %d of %d records linked beyond their project\n", cov.Linked, cov.Records)
		for _, id := range head(cov.Unlinked, 5) {
			name := "?"
			if node := snap.Nodes[id]; node != nil {
				name = truncTitle(node.Name, 50)
			}
			fmt.Fprintf(out, "    - %s (%s)\n", id, name)
		}
		fmt.Fprintln(out)
	}

	t := report.Topology
	section(out, "TOPOLOGY")
	fmt.Fprintf(out, "  Nodes: %d  Edges: %d  Components: %d\n", t.TotalNodes, t.TotalEdges, t.NumComponents)
	fmt.Fprintf(out, "  Largest component: %d  Smallest: %d\n", t.LargestComponent, t.SmallestComponent)

	if t.OrphanCount > 0 {
		fmt.Fprintf(out, "  Orphans: %d disconnected nodes\n", t.OrphanCount)
		for _, id := range head(t.OrphanIDs, 5) {
			name := "?"
			if node := snap.Nodes[id]; node != nil {
				name = truncTitle(node.Name, 50)
			}
			fmt.Fprintf(out, "    - %s (%s)\n", id, name)
		}
		if t.OrphanCount > 5 {
			fmt.Fprintf(out, "    ... and %d more\n", t.OrphanCount-5)
		}
	}

	fmt.Fprintln(out, "\n  Degree distribution:")
	for _, b := range t.DegreeHistogram {
		if b.Count > 0 {
			barWidth := int(math.Log2(float64(b.Count))) + 2
			fmt.Fprintf(out, "    %5s: %4d  %s\n", b.Label, b.Count, strings.Repeat("=", barWidth))
		}
	}

	if len(t.Hubs) > 0 {
		fmt.Fprintln(out, "\n  Top hubs (degree > threshold):")
		for _, hub := range t.Hubs {
			fmt.Fprintf(out, "    %s degree=%d (in=%d, out=%d)  %s\n",
				hub.ID, hub.Degree, hub.InDegree, hub.OutDegree, truncTitle(hub.Name, 40))
		}
	}

	s := report.Staleness
	if s.StaleNodeCount > 0 || s.InvertedCount > 0 {
		fmt.Fprintln(out)
		section(out, "STALENESS")
		if s.StaleNodeCount > 0 {
			fmt.Fprintf(out, "  %d stale nodes (old but recently referenced):\n", s.StaleNodeCount)
			for _, n := range head(s.StaleNodes, 10) {
				fmt.Fprintf(out, "    %s %dd old, %d recent refs  %s\n",
					n.ID, n.DaysSinceUpdate, n.RecentRefCount, truncTitle(n.Name, 40))
			}
		}
		if s.InvertedCount > 0 {
			fmt.Fprintf(out, "  %d superseded decisions recorded after their successor:\n", s.InvertedCount)
			for _, inv := range head(s.InvertedSupersedes, 10) {
				fmt.Fprintf(out, "    %s supersedes %s (%dd drift)\n",
					truncTitle(inv.SuccessorName, 25), truncTitle(inv.SupersededName, 25), inv.DriftDays)
			}
		}
	}

	fr := report.Fragility
	if len(fr.CutNodes) > 0 || len(fr.Bridges) > 0 || len(fr.ThinLinks) > 0 {
		fmt.Fprintln(out)
		section(out, "STRUCTURAL FRAGILITY")
		if len(fr.CutNodes) > 0 {
			fmt.Fprintf(out, "  %d cut nodes (removal splits the knowledge links):\n", len(fr.CutNodes))
			for _, c := range head(fr.CutNodes, 10) {
				fmt.Fprintf(out, "    %s (%d links)  %s\n", c.ID, c.Degree, truncTitle(c.Name, 40))
			}
		}
		if len(fr.Bridges) > 0 {
			fmt.Fprintf(out, "  %d bridges (removal splits the knowledge links):\n", len(fr.Bridges))
			for _, be := range head(fr.Bridges, 10) {
				fmt.Fprintf(out, "    %s --%s--> %s\n", truncTitle(be.FromName, 30), be.Relation, truncTitle(be.ToName, 30))
			}
		}
		if len(fr.ThinLinks) > 0 {
			fmt.Fprintf(out, "  %d project pairs held by <=2 links:\n", len(fr.ThinLinks))
			for _, tl := range head(fr.ThinLinks, 10) {
				a, b := tl.ProjectA, tl.ProjectB
				if n := snap.Nodes[a]; n != nil {
					a = n.Name
				}
				if n := snap.Nodes[b]; n != nil {
					b = n.Name
				}
				plural := ""
				if tl.Links != 1 {
					plural = "s"
				}
				fmt.Fprintf(out, "    %s <-> %s (%d link%s)\n", truncTitle(a, 25), truncTitle(b, 25), tl.Links, plural)
			}
		}
	}

	fmt.Fprintln(out)
}

func section(out io.Writer, title string) {
	fmt.Fprintf(out, "  %s\n", styles.Bold.Render(title))
	fmt.Fprintln(out, "  ────────────────────────────────────────")
}

func head[T any](items []T, n int) []T {
	if len(items) < n {
		return items
	}
	return items[:n]
}

func truncTitle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}

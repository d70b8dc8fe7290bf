package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/graph"
)

var (
	ctxBudget       int
	ctxMaxHops      int
	ctxMaxCost      float64
	ctxNoStructural bool
	ctxJSON         bool
	ctxRelations    string
	ctxTypes        []string
)

var contextCmd = &cobra.Command{
	Use:   "context <ref>",
	Short: "Budgeted weighted expansion from a node along its cheapest paths",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := &graph.ContextConfig{
			Budget:  ctxBudget,
			MaxHops: ctxMaxHops,
			MaxCost: ctxMaxCost,
		}
		if ctxRelations != "" {
			for _, r := range strings.Split(ctxRelations, ",") {
				rel, ok := graph.NormalizeRelation(r)
				if !ok {
					return apperrors.Input("graph.context", "unknown relation %q (want one of %s)", r, joinNames(graph.Relations()))
				}
				config.Relations = append(config.Relations, rel)
			}
		}
		if ctxNoStructural {
			config.ExcludeRelations = []graph.Relation{graph.RelPartOf, graph.RelHosts}
		}
		types, err := parseNodeTypes(ctxTypes)
		if err != nil {
			return err
		}
		config.Types = types

		return withGraph(func(_ *workspace, store *graph.Store) error {
			source, err := ResolveNode(store, args[0])
			if err != nil {
				return err
			}

			results := graph.Context(store.Snapshot(), source.ID, config)

			if ctxJSON {
				if results == nil {
					results = []graph.ContextNode{}
				}
				output := struct {
					Source  any                 `json:"source"`
					Budget  int                 `json:"budget"`
					Results []graph.ContextNode `json:"results"`
					Count   int                 `json:"count"`
				}{
					Source: struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					}{source.ID, source.Name},
					Budget:  ctxBudget,
					Results: results,
					Count:   len(results),
				}
				return printJSON(cmd.OutOrStdout(), output)
			}

			printContext(cmd.OutOrStdout(), source, results)
			return nil
		})
	},
}

func init() {
	def := graph.DefaultContextConfig()
	contextCmd.Flags().IntVar(&ctxBudget, "budget", def.Budget, "Max nodes to return")
	contextCmd.Flags().IntVar(&ctxMaxHops, "max-hops", def.MaxHops, "Max graph depth")
	contextCmd.Flags().Float64Var(&ctxMaxCost, "max-cost", def.MaxCost, "Cost ceiling")
	contextCmd.Flags().BoolVar(&ctxNoStructural, "no-structural", false, "Do not follow part_of and hosts edges")
	contextCmd.Flags().BoolVar(&ctxJSON, "json", false, "JSON output")
	contextCmd.Flags().StringVar(&ctxRelations, "relations", "", "Comma-separated relation allowlist")
	contextCmd.Flags().StringSliceVar(&ctxTypes, "type", nil, "Only return nodes of this type (repeatable)")
	graphCmd.AddCommand(contextCmd)
}

func printContext(out io.Writer, source *graph.Node, results []graph.ContextNode) {
	if len(results) == 0 {
		fmt.Fprintf(out, "No context nodes found for: %s\n", source.Name)
		return
	}

	fmt.Fprintf(out, "Context for: %s (%s)  budget=%d\n\n", styles.Title.Render(source.Name), source.ID, ctxBudget)

	for _, r := range results {
		fmt.Fprintf(out, "  %2d. %s %s  dist=%.3f rel=%.0f%% hops=%d\n",
			r.Rank, styles.Kind.Render(string(r.Type)), r.Name,
			r.Distance, r.Relevance*100, r.Hops)

		if len(r.Path) > 0 {
			hops := make([]string, len(r.Path))
			for i, hop := range r.Path {
				hops[i] = fmt.Sprintf("→[%s]→ %s", hop.Relation, truncTitle(hop.NodeName, 40))
			}
			fmt.Fprintf(out, "      %s\n", styles.Muted.Render(strings.Join(hops, " ")))
		}
	}

	fmt.Fprintf(out, "\n%d node(s) within budget\n", len(results))
}

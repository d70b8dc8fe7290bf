package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apperrors "github.com/tslateman/lore-sub001/internal/errors"
	"github.com/tslateman/lore-sub001/internal/graph"
	"github.com/tslateman/lore-sub001/internal/projection"
	"github.com/tslateman/lore-sub001/internal/source"
)

var (
	graphJSON      bool
	graphAttrs     []string
	graphWeight    float64
	graphTypes     []string
	graphHops      int
	graphListLimit int
	graphHubLimit  int
	graphMinSize   int
	graphOutput    string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect and edit the knowledge graph projected from the source logs",
}

// withGraph opens the workspace and its graph for the duration of fn.
func withGraph(fn func(w *workspace, store *graph.Store) error) error {
	w, err := openWorkspace()
	if err != nil {
		return err
	}
	defer w.Close()
	store, err := w.Graph()
	if err != nil {
		return err
	}
	return fn(w, store)
}

var graphAddCmd = &cobra.Command{
	Use:   "add <type> <name>",
	Short: "Add a node, or merge attributes into the existing node of that type and name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrs, err := parseAttrs(graphAttrs)
		if err != nil {
			return err
		}
		return withGraph(func(_ *workspace, store *graph.Store) error {
			id, err := store.AddNode(graph.NodeType(strings.ToLower(args[0])), args[1], attrs)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var graphLinkCmd = &cobra.Command{
	Use:   "link <from> <to> <relation>",
	Short: "Add a directed edge",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return linkNodes(cmd.OutOrStdout(), args[0], args[1], args[2], false)
	},
}

var graphConnectCmd = &cobra.Command{
	Use:   "connect <a> <b> [relation]",
	Short: "Add a bidirectional edge (relation defaults to relates_to)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rel := string(graph.RelRelatesTo)
		if len(args) == 3 {
			rel = args[2]
		}
		return linkNodes(cmd.OutOrStdout(), args[0], args[1], rel, true)
	},
}

func linkNodes(out io.Writer, fromRef, toRef, relation string, bidirectional bool) error {
	return withGraph(func(_ *workspace, store *graph.Store) error {
		from, err := ResolveNode(store, fromRef)
		if err != nil {
			return err
		}
		to, err := ResolveNode(store, toRef)
		if err != nil {
			return err
		}
		added, err := store.AddEdge(from.ID, to.ID, graph.Relation(relation), graphWeight, bidirectional)
		if err != nil {
			return err
		}
		arrow := "--" + relation + "-->"
		if bidirectional {
			arrow = "<--" + relation + "-->"
		}
		if !added {
			fmt.Fprintf(out, "already linked: %s %s %s\n", from.Name, arrow, to.Name)
			return nil
		}
		fmt.Fprintf(out, "%s %s %s %s\n", styles.Success.Render("✓"), from.Name, arrow, to.Name)
		return nil
	})
}

var graphDisconnectCmd = &cobra.Command{
	Use:   "disconnect <a> <b> [relation]",
	Short: "Remove edges between two nodes in either direction",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rel graph.Relation
		if len(args) == 3 {
			canon, ok := graph.NormalizeRelation(args[2])
			if !ok {
				return apperrors.Input("graph.disconnect", "unknown relation %q (want one of %s)", args[2], joinNames(graph.Relations()))
			}
			rel = canon
		}
		return withGraph(func(_ *workspace, store *graph.Store) error {
			a, err := ResolveNode(store, args[0])
			if err != nil {
				return err
			}
			b, err := ResolveNode(store, args[1])
			if err != nil {
				return err
			}
			n1, err := store.DeleteEdge(a.ID, b.ID, rel)
			if err != nil {
				return err
			}
			n2, err := store.DeleteEdge(b.ID, a.ID, rel)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d edge(s)\n", n1+n2)
			return nil
		})
	},
}

var graphDeleteCmd = &cobra.Command{
	Use:   "delete <ref>",
	Short: "Delete a node and every edge touching it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *workspace, store *graph.Store) error {
			n, err := ResolveNode(store, args[0])
			if err != nil {
				return err
			}
			edges, _, err := store.DeleteNode(n.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s) and %d edge(s)\n", n.ID, n.Name, edges)
			return nil
		})
	},
}

var graphGetCmd = &cobra.Command{
	Use:   "get <ref>",
	Short: "Show a node, its provenance and its edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(w *workspace, store *graph.Store) error {
			n, err := ResolveNode(store, args[0])
			if err != nil {
				return err
			}
			edges := store.EdgesOf(n.ID)
			ref, hasRef := store.Provenance(n.ID)
			var rec source.Record
			if hasRef {
				rec = provenanceRecord(w, ref)
			}
			out := cmd.OutOrStdout()

			if graphJSON {
				v := struct {
					Node   *graph.Node      `json:"node"`
					Source *graph.SourceRef `json:"source,omitempty"`
					Record source.Record    `json:"record,omitempty"`
					Edges  []graph.Edge     `json:"edges"`
				}{Node: n, Record: rec, Edges: edges}
				if hasRef {
					v.Source = &ref
				}
				return printJSON(out, v)
			}

			fmt.Fprintf(out, "%s  %s\n", styles.Title.Render(n.Name), styles.Muted.Render(n.ID))
			fmt.Fprintf(out, "  type:    %s\n", n.Type)
			if hasRef {
				fmt.Fprintf(out, "  source:  %s/%s\n", ref.Kind, ref.ID)
			}
			if rec != nil {
				h := rec.Header()
				fmt.Fprintf(out, "  summary: %s\n", h.Summary)
				if h.Content != "" {
					fmt.Fprintf(out, "  content: %s\n", truncTitle(strings.Join(strings.Fields(h.Content), " "), 200))
				}
			}
			fmt.Fprintf(out, "  created: %s  updated: %s\n",
				n.CreatedAt.Format("2006-01-02 15:04"), n.UpdatedAt.Format("2006-01-02 15:04"))
			keys := make([]string, 0, len(n.Attributes))
			for k := range n.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "  %s: %v\n", k, n.Attributes[k])
			}
			if len(edges) > 0 {
				fmt.Fprintf(out, "\n  %d edge(s):\n", len(edges))
			}
			for _, e := range edges {
				other, _ := store.Node(e.Other(n.ID))
				name := e.Other(n.ID)
				if other != nil {
					name = other.Name
				}
				if e.From == n.ID {
					fmt.Fprintf(out, "    --%s--> %s\n", e.Relation, name)
				} else {
					fmt.Fprintf(out, "    <--%s-- %s\n", e.Relation, name)
				}
			}
			return nil
		})
	},
}

var graphListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes, optionally filtered by type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := parseNodeTypes(graphTypes)
		if err != nil {
			return err
		}
		return withGraph(func(_ *workspace, store *graph.Store) error {
			nodes := store.Nodes(types...)
			if graphListLimit > 0 && len(nodes) > graphListLimit {
				nodes = nodes[:graphListLimit]
			}
			if graphJSON {
				return printJSON(cmd.OutOrStdout(), nodes)
			}
			printNodes(cmd.OutOrStdout(), nodes)
			return nil
		})
	},
}

var graphLookupCmd = &cobra.Command{
	Use:   "lookup <kind> <id>",
	Short: "Find the node projected from a source record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := source.ParseKind(args[0])
		if err != nil {
			return err
		}
		return withGraph(func(_ *workspace, store *graph.Store) error {
			n, ok := store.NodeForSource(string(kind), args[1])
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "No node for %s/%s\n", kind, args[1])
				return nil
			}
			if graphJSON {
				return printJSON(cmd.OutOrStdout(), n)
			}
			printNodes(cmd.OutOrStdout(), []*graph.Node{n})
			return nil
		})
	},
}

var graphRelatedCmd = &cobra.Command{
	Use:   "related <ref>",
	Short: "List nodes within --hops of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if graphHops < 1 {
			return apperrors.Input("graph.related", "--hops must be at least 1")
		}
		return withGraph(func(_ *workspace, store *graph.Store) error {
			out := cmd.OutOrStdout()
			start, ok := store.ResolveRef(args[0])
			if !ok {
				fmt.Fprintf(out, "No node matches %q\n", args[0])
				return nil
			}
			related := graph.Related(store.Snapshot(), start.ID, graphHops)
			if graphJSON {
				if related == nil {
					related = []graph.RelatedNode{}
				}
				return printJSON(out, related)
			}
			if len(related) == 0 {
				fmt.Fprintf(out, "%s has no related nodes\n", start.Name)
				return nil
			}
			fmt.Fprintf(out, "%s\n", styles.Title.Render(start.Name))
			for _, r := range related {
				fmt.Fprintf(out, "  %s%s %s %s\n", r.Indent(), r.Arrow(), styles.Kind.Render(string(r.Type)), r.Name)
			}
			return nil
		})
	},
}

var graphPathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Shortest path between two nodes, ignoring edge direction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *workspace, store *graph.Store) error {
			out := cmd.OutOrStdout()
			a, okA := store.ResolveRef(args[0])
			b, okB := store.ResolveRef(args[1])
			var ids []string
			if okA && okB {
				ids = graph.ShortestPath(store.Snapshot(), a.ID, b.ID)
			}
			nodes := make([]*graph.Node, 0, len(ids))
			for _, id := range ids {
				if n, ok := store.Node(id); ok {
					nodes = append(nodes, n)
				}
			}
			if graphJSON {
				return printJSON(out, nodes)
			}
			if len(nodes) == 0 {
				fmt.Fprintf(out, "No path from %s to %s\n", args[0], args[1])
				return nil
			}
			names := make([]string, len(nodes))
			for i, n := range nodes {
				names[i] = n.Name
			}
			fmt.Fprintln(out, strings.Join(names, " → "))
			return nil
		})
	},
}

var graphOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List nodes with no edges",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *workspace, store *graph.Store) error {
			orphans := graph.Orphans(store.Snapshot())
			if graphJSON {
				return printJSON(cmd.OutOrStdout(), orphans)
			}
			if len(orphans) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No orphans")
				return nil
			}
			printNodes(cmd.OutOrStdout(), orphans)
			return nil
		})
	},
}

var graphHubsCmd = &cobra.Command{
	Use:   "hubs",
	Short: "List the most connected nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *workspace, store *graph.Store) error {
			hubs := graph.Hubs(store.Snapshot(), graphHubLimit)
			if graphJSON {
				return printJSON(cmd.OutOrStdout(), hubs)
			}
			for _, h := range hubs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %4d  (in=%d, out=%d)  %s %s\n",
					h.Degree, h.InDegree, h.OutDegree, styles.Kind.Render(string(h.Type)), h.Name)
			}
			return nil
		})
	},
}

var graphClustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List connected components of at least --min-size nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *workspace, store *graph.Store) error {
			snap := store.Snapshot()
			var clusters [][]string
			for _, c := range graph.Clusters(snap) {
				if len(c) >= graphMinSize {
					clusters = append(clusters, c)
				}
			}
			out := cmd.OutOrStdout()
			if graphJSON {
				if clusters == nil {
					clusters = [][]string{}
				}
				return printJSON(out, clusters)
			}
			if len(clusters) == 0 {
				fmt.Fprintln(out, "No clusters")
				return nil
			}
			for i, c := range clusters {
				fmt.Fprintf(out, "%s %d node(s)\n", styles.Bold.Render(fmt.Sprintf("cluster %d:", i+1)), len(c))
				for _, id := range c {
					if n := snap.Nodes[id]; n != nil {
						fmt.Fprintf(out, "  %s %s\n", styles.Kind.Render(string(n.Type)), n.Name)
					}
				}
			}
			return nil
		})
	},
}

var graphStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count nodes by type and edges by relation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(_ *workspace, store *graph.Store) error {
			st := store.Stats()
			out := cmd.OutOrStdout()
			if graphJSON {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "Nodes: %d  Edges: %d  Orphans: %d  Clusters: %d (largest %d)\n",
				st.Nodes, st.Edges, st.Orphans, st.Clusters, st.LargestSize)
			if len(st.ByType) > 0 {
				fmt.Fprintln(out, "\n  Nodes by type:")
				for _, t := range st.SortedTypes() {
					fmt.Fprintf(out, "    %-12s %d\n", t, st.ByType[t])
				}
			}
			if len(st.ByRelation) > 0 {
				fmt.Fprintln(out, "\n  Edges by relation:")
				for _, r := range st.SortedRelations() {
					fmt.Fprintf(out, "    %-12s %d\n", r, st.ByRelation[r])
				}
			}
			return nil
		})
	},
}

var graphVisualizeCmd = &cobra.Command{
	Use:   "visualize",
	Short: "Export the graph as Graphviz DOT",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := parseNodeTypes(graphTypes)
		if err != nil {
			return err
		}
		return withGraph(func(_ *workspace, store *graph.Store) error {
			snap := store.Snapshot()
			if len(types) > 0 {
				snap = snap.FilterToTypes(types...)
			}
			if graphOutput == "" || graphOutput == "-" {
				return graph.WriteDOT(cmd.OutOrStdout(), snap)
			}
			f, err := os.Create(graphOutput)
			if err != nil {
				return err
			}
			if err := graph.WriteDOT(f, snap); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		})
	},
}

var graphSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Project records that are not in the graph yet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(w *workspace, store *graph.Store) error {
			rep, err := w.Projector(store).Sync(cmd.Context())
			if rep != nil {
				printProjection(cmd, rep)
			}
			return err
		})
	},
}

var graphRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the graph from scratch from every source log",
	Long: `Backs up the graph document, resets it and projects every source log in
order. A failing log is skipped with a warning and does not fail the command.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(func(w *workspace, store *graph.Store) error {
			rep, err := w.Projector(store).Rebuild(cmd.Context())
			if rep != nil {
				printProjection(cmd, rep)
			}
			return err
		})
	},
}

func init() {
	graphAddCmd.Flags().StringSliceVar(&graphAttrs, "attr", nil, "Attribute as key=value (repeatable)")
	for _, c := range []*cobra.Command{graphLinkCmd, graphConnectCmd} {
		c.Flags().Float64Var(&graphWeight, "weight", 1.0, "Edge weight")
	}
	graphListCmd.Flags().StringSliceVar(&graphTypes, "type", nil, "Only nodes of this type (repeatable)")
	graphVisualizeCmd.Flags().StringSliceVar(&graphTypes, "type", nil, "Only nodes of this type (repeatable)")
	graphVisualizeCmd.Flags().StringVarP(&graphOutput, "output", "o", "", "Write to file instead of stdout")
	graphRelatedCmd.Flags().IntVar(&graphHops, "hops", 1, "Traversal depth")
	graphListCmd.Flags().IntVar(&graphListLimit, "limit", 0, "Maximum nodes to list (0 = all)")
	graphHubsCmd.Flags().IntVar(&graphHubLimit, "limit", 10, "Number of hubs to list")
	graphClustersCmd.Flags().IntVar(&graphMinSize, "min-size", 2, "Smallest cluster to list")

	for _, c := range []*cobra.Command{
		graphGetCmd, graphListCmd, graphLookupCmd, graphRelatedCmd, graphPathCmd,
		graphOrphansCmd, graphHubsCmd, graphClustersCmd, graphStatsCmd,
		graphSyncCmd, graphRebuildCmd,
	} {
		c.Flags().BoolVar(&graphJSON, "json", false, "Output as JSON")
	}

	graphCmd.AddCommand(
		graphAddCmd, graphLinkCmd, graphConnectCmd, graphDisconnectCmd, graphDeleteCmd,
		graphGetCmd, graphListCmd, graphLookupCmd, graphRelatedCmd, graphPathCmd,
		graphOrphansCmd, graphHubsCmd, graphClustersCmd, graphStatsCmd, graphVisualizeCmd,
		graphSyncCmd, graphRebuildCmd,
	)
	rootCmd.AddCommand(graphCmd)
}

func printProjection(cmd *cobra.Command, rep *projection.Report) {
	for _, s := range rep.Steps {
		if s.Error != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s step skipped: %s\n", styles.Warning.Render("warning:"), s.Kind, s.Error)
		}
	}
	if graphJSON {
		_ = printJSON(cmd.OutOrStdout(), rep)
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s: %d step(s) succeeded, %d failed  nodes=%d edges=%d  (%s)\n",
		styles.Success.Render("✓"), rep.Mode, rep.Succeeded, rep.Failed, rep.Nodes, rep.Edges,
		rep.Duration.Round(time.Millisecond))
	for _, s := range rep.Steps {
		if s.Records == 0 && s.Error == "" {
			continue
		}
		fmt.Fprintf(out, "  %-12s records=%d projected=%d skipped=%d dangling=%d\n",
			s.Kind, s.Records, s.Projected, s.Skipped, s.Dangling)
	}
	if rep.Renamed > 0 || rep.Dropped > 0 {
		fmt.Fprintf(out, "  normalized %d legacy relation(s), dropped %d duplicate edge(s)\n", rep.Renamed, rep.Dropped)
	}
}

func printNodes(out io.Writer, nodes []*graph.Node) {
	for _, n := range nodes {
		fmt.Fprintf(out, "  %s %s %s\n", styles.Muted.Render(n.ID), styles.Kind.Render(string(n.Type)), truncTitle(n.Name, 70))
	}
}

func parseAttrs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, apperrors.Input("graph.add", "attribute %q must be key=value", p)
		}
		attrs[strings.TrimSpace(k)] = v
	}
	return attrs, nil
}

func parseNodeTypes(names []string) ([]graph.NodeType, error) {
	var out []graph.NodeType
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			t := graph.NodeType(strings.ToLower(strings.TrimSpace(part)))
			if !t.Valid() {
				return nil, apperrors.Input("graph", "unknown node type %q (want one of %s)", part, joinNames(graph.NodeTypes()))
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// provenanceRecord loads the current source record behind ref, or nil when
// the log no longer holds it.
func provenanceRecord(w *workspace, ref graph.SourceRef) source.Record {
	kind, err := source.ParseKind(ref.Kind)
	if err != nil {
		return nil
	}
	rec, err := w.sources.Find(source.Key{Kind: kind, ID: ref.ID})
	if err != nil {
		w.log.Debug("provenance record unavailable", zap.String("kind", ref.Kind), zap.String("id", ref.ID), zap.Error(err))
		return nil
	}
	return rec
}

func joinNames[T ~string](vals []T) string {
	names := make([]string, len(vals))
	for i, v := range vals {
		names[i] = string(v)
	}
	return strings.Join(names, ", ")
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

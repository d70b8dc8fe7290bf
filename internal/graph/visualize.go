package graph

import (
	"fmt"
	"io"
	"strings"
)

// typeColors assigns a fill color per node type in DOT output.
var typeColors = map[NodeType]string{
	TypeConcept:     "#e8e8e8",
	TypeFile:        "#d0e4f5",
	TypePattern:     "#d5f0d5",
	TypeLesson:      "#f9e0b0",
	TypeDecision:    "#c9daf8",
	TypeSession:     "#ead1dc",
	TypeProject:     "#ffd966",
	TypeFailure:     "#f4cccc",
	TypeGoal:        "#d9ead3",
	TypeObservation: "#fff2cc",
}

// WriteDOT renders the snapshot as a Graphviz digraph. Nodes and edges are
// written in a stable order.
func WriteDOT(w io.Writer, snap *Snapshot) error {
	var b strings.Builder
	b.WriteString("digraph lore {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=\"rounded,filled\", fontname=\"Helvetica\"];\n")

	for _, id := range snap.NodeIDs() {
		n := snap.Nodes[id]
		label := `"` + string(n.Type) + `\n` + dotEscape(truncate(n.Name, 48)) + `"`
		fmt.Fprintf(&b, "  %s [label=%s, fillcolor=%q];\n", dotQuote(id), label, typeColors[n.Type])
	}
	for _, e := range snap.Edges {
		attrs := "label=" + dotQuote(string(e.Relation))
		if e.Bidirectional {
			attrs += ", dir=both"
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotQuote(e.From), dotQuote(e.To), attrs)
	}
	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func dotQuote(s string) string {
	return `"` + dotEscape(s) + `"`
}

func dotEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
